package migrator

import (
	"context"
	"fmt"

	"github.com/spf13/afero"

	"github.com/pthm/modmigrate/pkg/source"
)

// Migrate applies every pending script of a single directory. It is the
// shortest path for applications that keep all migrations in one place and
// want to migrate on startup:
//
//	db, err := migrator.Open(ctx, "postgres", dsn)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if _, err := migrator.Migrate(ctx, db, afero.NewOsFs(), "migrations"); err != nil {
//	    log.Fatalf("migration failed: %v", err)
//	}
//
// Applications with migrations spread across modules use the orchestrator
// package instead.
func Migrate(ctx context.Context, db *DB, fs afero.Fs, dir string, opts ...Option) (*ActionResult, error) {
	history := NewHistory(db, "")
	e := NewEngine(db, history, opts...)
	return e.Up(ctx, NewDirProvider(fs, dir, history), All)
}

// DirProvider serves migrations from one directory against the full history.
type DirProvider struct {
	fs      afero.Fs
	dir     string
	history *History
}

// NewDirProvider creates a provider for dir.
func NewDirProvider(fs afero.Fs, dir string, history *History) *DirProvider {
	return &DirProvider{fs: fs, dir: dir, history: history}
}

// PendingMigrations implements Provider.
func (p *DirProvider) PendingMigrations(ctx context.Context) ([]string, error) {
	return pendingIn(ctx, p.fs, p.dir, p.history)
}

// MigrationHistory implements Provider.
func (p *DirProvider) MigrationHistory(ctx context.Context, limit int) ([]AppliedMigration, error) {
	return p.history.Applied(ctx, limit)
}

// ResolveMigration implements Provider.
func (p *DirProvider) ResolveMigration(identifier string) (*Migration, error) {
	found, _, err := source.ListDir(p.fs, source.AppKey, p.dir)
	if err != nil {
		return nil, err
	}
	for _, d := range found {
		if d.Identifier == identifier {
			return LoadMigration(p.fs, identifier, d.FilePath)
		}
	}
	return nil, fmt.Errorf("%w: %s in %s", ErrMigrationNotFound, identifier, p.dir)
}
