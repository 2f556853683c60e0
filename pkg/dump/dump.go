// Package dump snapshots a table into a migration script that replays its
// rows with an idempotent upsert.
package dump

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/pthm/modmigrate/pkg/migrator"
	"github.com/pthm/modmigrate/pkg/naming"
)

// ErrNoData is returned when the dumped table has no rows.
var ErrNoData = errors.New("no data found")

//go:embed templates/dump.sql.tmpl
var scriptTemplateText string

var scriptTemplate = template.Must(template.New("dump").Parse(scriptTemplateText))

// Snapshot is the captured content of a table.
type Snapshot struct {
	Table   string
	Columns []string
	Rows    [][]any
}

// Result describes a written dump script.
type Result struct {
	Identifier string
	Path       string
	Columns    []string
	Rows       int
}

// Generator writes dump scripts.
type Generator struct {
	db     *migrator.DB
	fs     afero.Fs
	now    func() time.Time
	logger zerolog.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithClock overrides the time used for identifiers.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(g *Generator) { g.logger = logger }
}

// New creates a generator reading from db and writing to fs.
func New(db *migrator.DB, fs afero.Fs, opts ...Option) *Generator {
	g := &Generator{db: db, fs: fs, now: time.Now, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Read captures every row of table in query order.
func (g *Generator) Read(ctx context.Context, table string) (*Snapshot, error) {
	rows, err := g.db.SQL().QueryContext(ctx, "SELECT * FROM "+g.db.Dialect().QuoteIdent(table))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns of %s: %w", table, err)
	}

	snap := &Snapshot{Table: table, Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", table, err)
		}
		snap.Rows = append(snap.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", table, err)
	}
	return snap, nil
}

// Render builds the script for a snapshot.
func (g *Generator) Render(ctx context.Context, identifier string, snap *Snapshot, removeExisting bool) ([]byte, error) {
	d := g.db.Dialect()

	var keys []string
	if d.NeedsKeyColumns() {
		ts, err := g.db.TableSchema(ctx, snap.Table)
		if err != nil {
			return nil, err
		}
		keys = ts.PrimaryKey
	}

	data := struct {
		Identifier string
		Table      string
		Rows       string
		ChecksOff  string
		ChecksOn   string
		Truncate   string
		Statement  string
	}{
		Identifier: identifier,
		Table:      snap.Table,
		Rows:       humanize.Comma(int64(len(snap.Rows))),
		ChecksOff:  d.ForeignKeyChecks(false),
		ChecksOn:   d.ForeignKeyChecks(true),
		Statement:  migrator.EscapeDirectives(d.Upsert(snap.Table, snap.Columns, snap.Rows, keys)),
	}
	if removeExisting {
		data.Truncate = d.Truncate(snap.Table)
	}

	var buf bytes.Buffer
	if err := scriptTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("rendering %s: %w", identifier, err)
	}
	return buf.Bytes(), nil
}

// Dump snapshots table into a new script in dir. An empty table fails with
// ErrNoData and writes nothing.
func (g *Generator) Dump(ctx context.Context, table string, removeExisting bool, dir string) (*Result, error) {
	snap, err := g.Read(ctx, table)
	if err != nil {
		return nil, err
	}
	if len(snap.Rows) == 0 {
		return nil, fmt.Errorf("%w in table %q", ErrNoData, table)
	}

	id := naming.NewIdentifier(g.now(), naming.DumpSuffix(table))
	body, err := g.Render(ctx, id, snap, removeExisting)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(dir, naming.FileName(id))
	if err := g.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dir, err)
	}
	if exists, _ := afero.Exists(g.fs, path); exists {
		return nil, fmt.Errorf("writing %s: %w", path, os.ErrExist)
	}
	if err := afero.WriteFile(g.fs, path, body, 0o644); err != nil {
		return nil, fmt.Errorf("writing %s: %w", path, err)
	}

	g.logger.Info().
		Str("table", table).
		Int("rows", len(snap.Rows)).
		Str("size", humanize.Bytes(uint64(len(body)))).
		Str("path", path).
		Msg("table dumped")

	return &Result{Identifier: id, Path: path, Columns: snap.Columns, Rows: len(snap.Rows)}, nil
}
