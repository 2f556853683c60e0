package migrator

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pthm/modmigrate/pkg/naming"
)

// DefaultHistoryTable is the table recording applied migrations.
const DefaultHistoryTable = "migration"

// AppliedMigration is one row of the history table.
type AppliedMigration struct {
	Identifier string
	ApplyTime  time.Time
}

// History reads and writes the applied-migration table.
type History struct {
	db    *DB
	table string
}

// NewHistory creates a history store. An empty table name selects
// DefaultHistoryTable.
func NewHistory(db *DB, table string) *History {
	if table == "" {
		table = DefaultHistoryTable
	}
	return &History{db: db, table: table}
}

// Table returns the history table name.
func (h *History) Table() string {
	return h.table
}

// Exists reports whether the history table has been created.
func (h *History) Exists(ctx context.Context) bool {
	rows, err := h.db.sql.QueryContext(ctx, "SELECT version FROM "+h.quoted()+" WHERE 1 = 0")
	if err != nil {
		return false
	}
	_ = rows.Close()
	return true
}

// Ensure creates the history table if needed. A freshly created table gets
// the base row so that history never starts out empty.
func (h *History) Ensure(ctx context.Context) error {
	if h.Exists(ctx) {
		return nil
	}
	if _, err := h.db.sql.ExecContext(ctx, h.db.dialect.HistoryDDL(h.table)); err != nil {
		return fmt.Errorf("creating history table %s: %w", h.table, err)
	}
	return h.Add(ctx, h.db.sql, naming.BaseIdentifier, time.Now())
}

// Applied returns applied migrations, most recent first, excluding the base
// row. limit <= 0 returns every row.
func (h *History) Applied(ctx context.Context, limit int) ([]AppliedMigration, error) {
	if err := h.Ensure(ctx); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		"SELECT version, apply_time FROM %s WHERE version <> %s ORDER BY apply_time DESC, version DESC",
		h.quoted(), h.db.dialect.Placeholder(1),
	)
	if limit > 0 {
		query += " LIMIT " + strconv.Itoa(limit)
	}

	rows, err := h.db.sql.QueryContext(ctx, query, naming.BaseIdentifier)
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []AppliedMigration
	for rows.Next() {
		var (
			id string
			at *int64
		)
		if err := rows.Scan(&id, &at); err != nil {
			return nil, fmt.Errorf("scanning history: %w", err)
		}
		am := AppliedMigration{Identifier: id}
		if at != nil {
			am.ApplyTime = time.Unix(*at, 0)
		}
		out = append(out, am)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	return out, nil
}

// Add records identifier as applied at the given time.
func (h *History) Add(ctx context.Context, q Execer, identifier string, at time.Time) error {
	query := fmt.Sprintf("INSERT INTO %s (version, apply_time) VALUES (%s, %s)",
		h.quoted(), h.db.dialect.Placeholder(1), h.db.dialect.Placeholder(2))
	if _, err := q.ExecContext(ctx, query, identifier, at.Unix()); err != nil {
		return fmt.Errorf("recording %s: %w", identifier, err)
	}
	return nil
}

// Remove deletes the history row of identifier.
func (h *History) Remove(ctx context.Context, q Execer, identifier string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE version = %s", h.quoted(), h.db.dialect.Placeholder(1))
	if _, err := q.ExecContext(ctx, query, identifier); err != nil {
		return fmt.Errorf("unrecording %s: %w", identifier, err)
	}
	return nil
}

func (h *History) quoted() string {
	return h.db.dialect.QuoteIdent(h.table)
}
