// Package orchestrator runs migrations collected from an application and its
// modules as one ordered set.
//
// A Runner is rebuilt before every action: Prepare resolves each configured
// module to its migrations directory, scans every directory and indexes the
// scripts it finds. The Runner then acts as the migrator.Provider for the
// engine, so up, down, redo and mark operate on the merged view while the
// history shown or reverted is restricted to migrations still present on
// disk.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/pthm/modmigrate/pkg/migrator"
	"github.com/pthm/modmigrate/pkg/modules"
	"github.com/pthm/modmigrate/pkg/source"
)

var (
	// ErrUnknownModule is returned when a module is not a known source.
	ErrUnknownModule = errors.New("module does not exist or has no migrations directory")

	// ErrNoDatabase is returned by actions that need a database when the
	// runner was built without an engine.
	ErrNoDatabase = errors.New("no database configured")
)

// Action names a command the runner prepares for.
type Action string

const (
	ActionUp         Action = "up"
	ActionDown       Action = "down"
	ActionRedo       Action = "redo"
	ActionMark       Action = "mark"
	ActionHistory    Action = "history"
	ActionNew        Action = "new"
	ActionCreate     Action = "create"
	ActionModuleUp   Action = "module-up"
	ActionModuleDown Action = "module-down"
	ActionDataDump   Action = "data-dump"
	ActionSources    Action = "sources"
)

// Executes reports whether the action may run or record migrations. Only
// such actions fail on duplicate identifiers.
func (a Action) Executes() bool {
	switch a {
	case ActionCreate, ActionSources:
		return false
	default:
		return true
	}
}

// Config holds the collaborators of a Runner.
type Config struct {
	// FS is the filesystem scripts are read from and written to.
	FS afero.Fs
	// AppDir is the application's own migrations directory.
	AppDir string
	// RuntimeDir holds scratch state. Scoped actions use <RuntimeDir>/tmp
	// as the stand-in application directory.
	RuntimeDir string
	Registry   *modules.Registry
	Resolver   *modules.Resolver
	// Engine may be nil for actions that do not touch the database.
	Engine    *migrator.Engine
	Collision source.CollisionPolicy
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Runner merges migration sources and drives the engine over them.
type Runner struct {
	fs         afero.Fs
	appDir     string
	runtimeDir string
	registry   *modules.Registry
	resolver   *modules.Resolver
	engine     *migrator.Engine
	collision  source.CollisionPolicy
	logger     zerolog.Logger
	now        func() time.Time

	sources *source.Set
	index   *source.Index
}

// New creates a runner. Prepare must be called before any action.
func New(cfg Config) *Runner {
	r := &Runner{
		fs:         cfg.FS,
		appDir:     cfg.AppDir,
		runtimeDir: cfg.RuntimeDir,
		registry:   cfg.Registry,
		resolver:   cfg.Resolver,
		engine:     cfg.Engine,
		collision:  cfg.Collision,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}
	if r.fs == nil {
		r.fs = afero.NewOsFs()
	}
	if r.registry == nil {
		r.registry = modules.NewRegistry()
	}
	if r.resolver == nil {
		r.resolver = modules.NewResolver(r.fs, modules.NewAliases(filepath.Dir(r.appDir)))
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Prepare runs before every action. It flushes cached schema metadata
// unless the action only creates a script, then rebuilds the source set and
// the index from disk.
func (r *Runner) Prepare(ctx context.Context, action Action) error {
	if action != ActionCreate && r.engine != nil {
		r.engine.DB().Cache().Flush()
	}

	set := source.NewSet(source.Source{Key: source.AppKey, Dir: r.appDir})
	for _, src := range r.resolver.Resolve(r.registry) {
		set.Put(src.Key, src.Dir)
	}
	r.sources = set

	if err := r.reindex(); err != nil {
		if !errors.Is(err, source.ErrDuplicateIdentifier) || action.Executes() {
			return err
		}
		// listing and creating scripts still work over a conflicting set
		r.logger.Warn().Err(err).Str("action", string(action)).Msg("duplicate migration identifiers")
		idx, err := source.Scan(r.fs, r.sources, source.CollisionFirstWins)
		if err != nil {
			return err
		}
		r.index = idx
	}
	r.logger.Debug().
		Str("action", string(action)).
		Strs("sources", set.Keys()).
		Int("migrations", r.index.Len()).
		Msg("sources prepared")
	return ctx.Err()
}

func (r *Runner) reindex() error {
	idx, err := source.Scan(r.fs, r.sources, r.collision)
	if err != nil {
		return err
	}
	r.index = idx
	return nil
}

// Sources returns the current source set.
func (r *Runner) Sources() *source.Set {
	return r.sources
}

// Index returns the current script index.
func (r *Runner) Index() *source.Index {
	return r.index
}

// ActiveDir is the directory new application scripts are written to.
func (r *Runner) ActiveDir() string {
	return r.appDir
}

// ScratchDir is the stand-in application directory used by scoped actions.
func (r *Runner) ScratchDir() string {
	return filepath.Join(r.runtimeDir, "tmp")
}

// Engine returns the engine, or nil when no database is configured.
func (r *Runner) Engine() *migrator.Engine {
	return r.engine
}

func (r *Runner) requireEngine() error {
	if r.engine == nil {
		return ErrNoDatabase
	}
	if r.index == nil {
		return errors.New("runner not prepared")
	}
	return nil
}

// PendingMigrations asks each source for its unapplied scripts in source
// order and returns the merged identifiers sorted ascending. Identifiers
// offered by more than one source appear once.
func (r *Runner) PendingMigrations(ctx context.Context) ([]string, error) {
	if err := r.requireEngine(); err != nil {
		return nil, err
	}
	var all []string
	for _, src := range r.sources.Sources() {
		ids, err := r.engine.NewMigrations(ctx, r.fs, src.Dir)
		if err != nil {
			return nil, fmt.Errorf("listing %s migrations: %w", src.Key, err)
		}
		all = append(all, ids...)
	}
	sort.Strings(all)

	out := all[:0]
	for i, id := range all {
		if i > 0 && all[i-1] == id {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// ResolveMigration loads the script indexed under identifier.
func (r *Runner) ResolveMigration(identifier string) (*migrator.Migration, error) {
	if r.index == nil {
		return nil, errors.New("runner not prepared")
	}
	d, ok := r.index.Lookup(identifier)
	if !ok {
		return nil, fmt.Errorf("%w: %s", migrator.ErrMigrationNotFound, identifier)
	}
	return migrator.LoadMigration(r.fs, identifier, d.FilePath)
}

// MigrationHistory returns the applied migrations that still have a script
// in the current source set, most recent first.
func (r *Runner) MigrationHistory(ctx context.Context, limit int) ([]migrator.AppliedMigration, error) {
	if err := r.requireEngine(); err != nil {
		return nil, err
	}
	raw, err := r.engine.History().Applied(ctx, 0)
	if err != nil {
		return nil, err
	}
	return Reconcile(raw, r.index, limit), nil
}

// History is MigrationHistory with a Limit.
func (r *Runner) History(ctx context.Context, limit migrator.Limit) ([]migrator.AppliedMigration, error) {
	return r.MigrationHistory(ctx, int(limit))
}

// Orphans returns applied migrations whose script is no longer visible.
func (r *Runner) Orphans(ctx context.Context) ([]migrator.AppliedMigration, error) {
	if err := r.requireEngine(); err != nil {
		return nil, err
	}
	raw, err := r.engine.History().Applied(ctx, 0)
	if err != nil {
		return nil, err
	}
	return Orphans(raw, r.index), nil
}

// PlanUp lists what Up would apply.
func (r *Runner) PlanUp(ctx context.Context, limit migrator.Limit) ([]string, error) {
	if err := r.requireEngine(); err != nil {
		return nil, err
	}
	return r.engine.PlanUp(ctx, r, limit)
}

// PlanDown lists what Down would revert.
func (r *Runner) PlanDown(ctx context.Context, limit migrator.Limit) ([]string, error) {
	if err := r.requireEngine(); err != nil {
		return nil, err
	}
	return r.engine.PlanDown(ctx, r, limit)
}

// Up applies pending migrations across every source.
func (r *Runner) Up(ctx context.Context, limit migrator.Limit) (*migrator.ActionResult, error) {
	if err := r.requireEngine(); err != nil {
		return nil, err
	}
	return r.engine.Up(ctx, r, limit)
}

// Down reverts the most recent visible migrations.
func (r *Runner) Down(ctx context.Context, limit migrator.Limit) (*migrator.ActionResult, error) {
	if err := r.requireEngine(); err != nil {
		return nil, err
	}
	return r.engine.Down(ctx, r, limit)
}

// Redo reverts and reapplies the most recent visible migrations.
func (r *Runner) Redo(ctx context.Context, limit migrator.Limit) (*migrator.ActionResult, error) {
	if err := r.requireEngine(); err != nil {
		return nil, err
	}
	return r.engine.Redo(ctx, r, limit)
}

// Mark moves recorded history to identifier without running scripts.
func (r *Runner) Mark(ctx context.Context, identifier string) (*migrator.ActionResult, error) {
	if err := r.requireEngine(); err != nil {
		return nil, err
	}
	return r.engine.Mark(ctx, r, identifier)
}

// Scope narrows the source set to module plus an empty stand-in for the
// application. An unknown module leaves only the stand-in, so later actions
// find nothing to do. Scoping to the application itself replaces the
// stand-in with the real application directory, leaving the modules out.
func (r *Runner) Scope(module string) error {
	if r.sources == nil {
		return errors.New("runner not prepared")
	}
	scratch := r.ScratchDir()
	if err := r.fs.MkdirAll(scratch, 0o755); err != nil {
		return fmt.Errorf("creating scratch directory: %w", err)
	}

	scoped := source.NewSet(source.Source{Key: source.AppKey, Dir: scratch})
	if dir, ok := r.sources.Get(module); ok {
		scoped.Put(module, dir)
	} else {
		r.logger.Warn().Str("module", module).Msg("module has no migrations directory, nothing to do")
	}
	r.sources = scoped
	return r.reindex()
}

// ModuleUp applies pending migrations of one module.
func (r *Runner) ModuleUp(ctx context.Context, module string, limit migrator.Limit) (*migrator.ActionResult, error) {
	if err := r.Scope(module); err != nil {
		return nil, err
	}
	return r.Up(ctx, limit)
}

// ModuleDown reverts the most recent migrations of one module.
func (r *Runner) ModuleDown(ctx context.Context, module string, limit migrator.Limit) (*migrator.ActionResult, error) {
	if err := r.Scope(module); err != nil {
		return nil, err
	}
	return r.Down(ctx, limit)
}
