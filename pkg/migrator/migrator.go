package migrator

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/pthm/modmigrate/pkg/naming"
	"github.com/pthm/modmigrate/pkg/source"
)

// Provider supplies the migrations an Engine acts on. Implementations decide
// which directories are searched and which history rows are visible.
type Provider interface {
	// PendingMigrations returns unapplied identifiers in ascending order.
	PendingMigrations(ctx context.Context) ([]string, error)

	// MigrationHistory returns applied migrations, most recent first.
	// limit <= 0 returns all of them.
	MigrationHistory(ctx context.Context, limit int) ([]AppliedMigration, error)

	// ResolveMigration loads the script for identifier.
	ResolveMigration(identifier string) (*Migration, error)
}

// Direction names the action an Engine performed.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
	DirectionRedo Direction = "redo"
	DirectionMark Direction = "mark"
)

// ActionResult lists the identifiers an action processed, in execution order.
type ActionResult struct {
	Direction   Direction
	Identifiers []string
}

// Option configures an Engine.
type Option func(*Engine)

// WithTransactions wraps each migration in a transaction.
func WithTransactions(enabled bool) Option {
	return func(e *Engine) { e.transactional = enabled }
}

// WithLogger sets the progress logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithClock overrides the time recorded in history rows.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine applies and reverts migrations supplied by a Provider.
//
// Each migration runs on its own connection so that session state set by
// one statement, such as disabled foreign-key checks, holds for the rest of
// the script. The history row is written on the same connection, inside the
// transaction when transactions are enabled.
type Engine struct {
	db            *DB
	history       *History
	transactional bool
	logger        zerolog.Logger
	now           func() time.Time
}

// NewEngine creates an engine.
func NewEngine(db *DB, history *History, opts ...Option) *Engine {
	e := &Engine{
		db:      db,
		history: history,
		logger:  zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DB returns the database the engine runs against.
func (e *Engine) DB() *DB { return e.db }

// History returns the history store.
func (e *Engine) History() *History { return e.history }

// PlanUp returns the identifiers Up would apply.
func (e *Engine) PlanUp(ctx context.Context, p Provider, limit Limit) ([]string, error) {
	pending, err := p.PendingMigrations(ctx)
	if err != nil {
		return nil, err
	}
	return limit.Apply(pending), nil
}

// PlanDown returns the identifiers Down would revert, most recent first.
func (e *Engine) PlanDown(ctx context.Context, p Provider, limit Limit) ([]string, error) {
	applied, err := p.MigrationHistory(ctx, int(limit))
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(applied))
	for i, am := range applied {
		ids[i] = am.Identifier
	}
	return ids, nil
}

// Up applies pending migrations in ascending order. It stops at the first
// failure; migrations applied before it stay applied.
func (e *Engine) Up(ctx context.Context, p Provider, limit Limit) (*ActionResult, error) {
	ids, err := e.PlanUp(ctx, p, limit)
	if err != nil {
		return nil, err
	}
	res := &ActionResult{Direction: DirectionUp}
	for _, id := range ids {
		m, err := p.ResolveMigration(id)
		if err != nil {
			return res, err
		}
		if err := e.Apply(ctx, m); err != nil {
			return res, err
		}
		res.Identifiers = append(res.Identifiers, id)
	}
	return res, nil
}

// Down reverts the most recently applied migrations.
func (e *Engine) Down(ctx context.Context, p Provider, limit Limit) (*ActionResult, error) {
	ids, err := e.PlanDown(ctx, p, limit)
	if err != nil {
		return nil, err
	}
	res := &ActionResult{Direction: DirectionDown}
	for _, id := range ids {
		m, err := p.ResolveMigration(id)
		if err != nil {
			return res, err
		}
		if err := e.Revert(ctx, m); err != nil {
			return res, err
		}
		res.Identifiers = append(res.Identifiers, id)
	}
	return res, nil
}

// Redo reverts the most recent migrations and applies them again.
func (e *Engine) Redo(ctx context.Context, p Provider, limit Limit) (*ActionResult, error) {
	ids, err := e.PlanDown(ctx, p, limit)
	if err != nil {
		return nil, err
	}
	res := &ActionResult{Direction: DirectionRedo}
	migrations := make([]*Migration, len(ids))
	for i, id := range ids {
		m, err := p.ResolveMigration(id)
		if err != nil {
			return res, err
		}
		migrations[i] = m
	}
	for _, m := range migrations {
		if err := e.Revert(ctx, m); err != nil {
			return res, err
		}
	}
	for i := len(migrations) - 1; i >= 0; i-- {
		if err := e.Apply(ctx, migrations[i]); err != nil {
			return res, err
		}
		res.Identifiers = append(res.Identifiers, migrations[i].Identifier)
	}
	return res, nil
}

// Mark moves the recorded history to identifier without running scripts.
// A pending identifier is recorded along with every pending migration before
// it. An applied identifier unrecords every migration applied after it. The
// base identifier unrecords everything.
func (e *Engine) Mark(ctx context.Context, p Provider, identifier string) (*ActionResult, error) {
	res := &ActionResult{Direction: DirectionMark}

	pending, err := p.PendingMigrations(ctx)
	if err != nil {
		return nil, err
	}
	if i := slices.Index(pending, identifier); i >= 0 {
		now := e.now()
		for _, id := range pending[:i+1] {
			if err := e.history.Add(ctx, e.db.sql, id, now); err != nil {
				return res, err
			}
			res.Identifiers = append(res.Identifiers, id)
		}
		e.logger.Info().Str("migration", identifier).Int("count", len(res.Identifiers)).Msg("marked as applied")
		return res, nil
	}

	applied, err := p.MigrationHistory(ctx, 0)
	if err != nil {
		return nil, err
	}
	stop := len(applied)
	if identifier != naming.BaseIdentifier {
		stop = slices.IndexFunc(applied, func(am AppliedMigration) bool { return am.Identifier == identifier })
		if stop < 0 {
			return nil, fmt.Errorf("%w: %s", ErrMigrationNotFound, identifier)
		}
	}
	for _, am := range applied[:stop] {
		if err := e.history.Remove(ctx, e.db.sql, am.Identifier); err != nil {
			return res, err
		}
		res.Identifiers = append(res.Identifiers, am.Identifier)
	}
	e.logger.Info().Str("migration", identifier).Int("count", len(res.Identifiers)).Msg("history reset")
	return res, nil
}

// NewMigrations lists the scripts in dir that are not recorded as applied.
func (e *Engine) NewMigrations(ctx context.Context, fs afero.Fs, dir string) ([]string, error) {
	return pendingIn(ctx, fs, dir, e.history)
}

// Apply runs the up section of m and records it.
func (e *Engine) Apply(ctx context.Context, m *Migration) error {
	start := time.Now()
	e.logger.Info().Str("migration", m.Identifier).Msg("applying")
	err := e.run(ctx, m.Script.Up, func(q Execer) error {
		return e.history.Add(ctx, q, m.Identifier, e.now())
	})
	if err != nil {
		e.logger.Error().Err(err).Str("migration", m.Identifier).Msg("apply failed")
		return fmt.Errorf("applying %s: %w", m.Identifier, err)
	}
	e.logger.Info().Str("migration", m.Identifier).Dur("elapsed", time.Since(start)).Msg("applied")
	return nil
}

// Revert runs the down section of m and removes its history row.
func (e *Engine) Revert(ctx context.Context, m *Migration) error {
	if !m.Script.Reversible() {
		return fmt.Errorf("reverting %s: %w", m.Identifier, ErrIrreversible)
	}
	start := time.Now()
	e.logger.Info().Str("migration", m.Identifier).Msg("reverting")
	err := e.run(ctx, m.Script.Down, func(q Execer) error {
		return e.history.Remove(ctx, q, m.Identifier)
	})
	if err != nil {
		e.logger.Error().Err(err).Str("migration", m.Identifier).Msg("revert failed")
		return fmt.Errorf("reverting %s: %w", m.Identifier, err)
	}
	e.logger.Info().Str("migration", m.Identifier).Dur("elapsed", time.Since(start)).Msg("reverted")
	return nil
}

func (e *Engine) run(ctx context.Context, statements []string, record func(Execer) error) error {
	if err := e.history.Ensure(ctx); err != nil {
		return err
	}

	conn, err := e.db.sql.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	var q Execer = conn
	var tx *sql.Tx
	if e.transactional {
		tx, err = conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		q = tx
	}

	for i, stmt := range statements {
		e.logger.Debug().Int("statement", i+1).Str("sql", stmt).Msg("executing")
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("statement %d: %w", i+1, err)
		}
	}
	if err := record(q); err != nil {
		return err
	}

	if tx != nil {
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing: %w", err)
		}
	}
	return nil
}

func pendingIn(ctx context.Context, fs afero.Fs, dir string, history *History) ([]string, error) {
	found, _, err := source.ListDir(fs, source.AppKey, dir)
	if err != nil {
		return nil, err
	}
	applied, err := history.Applied(ctx, 0)
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool, len(applied))
	for _, am := range applied {
		done[am.Identifier] = true
	}
	var out []string
	for _, d := range found {
		if !done[d.Identifier] {
			out = append(out, d.Identifier)
		}
	}
	return out, nil
}
