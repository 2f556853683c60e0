package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/pthm/modmigrate/internal/cli"
	"github.com/pthm/modmigrate/pkg/dump"
	"github.com/pthm/modmigrate/pkg/migrator"
	"github.com/pthm/modmigrate/pkg/modules"
	"github.com/pthm/modmigrate/pkg/naming"
	"github.com/pthm/modmigrate/pkg/orchestrator"
	"github.com/pthm/modmigrate/pkg/source"
)

// layout is the filesystem side of the configuration.
type layout struct {
	fs         afero.Fs
	appDir     string
	runtimeDir string
	registry   *modules.Registry
	resolver   *modules.Resolver
}

func loadLayout() (*layout, error) {
	fs := afero.NewOsFs()

	appDir, err := cfg.MigrationsPath()
	if err != nil {
		return nil, cli.ConfigError("resolving migrations directory", err)
	}
	if migrationsDir != "" {
		if appDir, err = filepath.Abs(migrationsDir); err != nil {
			return nil, cli.ConfigError("resolving --migrations-dir", err)
		}
	}
	runtimeDir, err := cfg.RuntimePath()
	if err != nil {
		return nil, cli.ConfigError("resolving runtime directory", err)
	}

	aliases, err := cfg.ModuleAliases()
	if err != nil {
		return nil, cli.ConfigError("resolving aliases", err)
	}
	registry, err := cfg.ModuleRegistry(fs)
	if err != nil {
		return nil, cli.ConfigError("loading modules", err)
	}

	return &layout{
		fs:         fs,
		appDir:     appDir,
		runtimeDir: runtimeDir,
		registry:   registry,
		resolver:   modules.NewResolver(fs, aliases).WithLogger(logger),
	}, nil
}

// dsnConfigured reports whether a database can be opened without error.
func dsnConfigured() bool {
	if dbURL != "" {
		return true
	}
	_, err := cfg.DSN()
	return err == nil
}

func openDB(ctx context.Context) (*migrator.DB, error) {
	dsn := dbURL
	if dsn == "" {
		var err error
		if dsn, err = cfg.DSN(); err != nil {
			return nil, cli.ConfigError("database configuration (use --db or set database in config)", err)
		}
	}
	drv := resolveString(string(driver), cfg.Database.Driver)
	db, err := migrator.Open(ctx, drv, dsn)
	if err != nil {
		if errors.Is(err, migrator.ErrUnknownDialect) {
			return nil, cli.ConfigError("database driver", err)
		}
		return nil, cli.DBConnectError("connecting to database", err)
	}
	logger.Debug().Str("driver", drv).Msg("database connected")
	return db, nil
}

// app is a prepared runner plus the resources it holds.
type app struct {
	*layout
	db     *migrator.DB
	runner *orchestrator.Runner
}

// newApp builds and prepares a runner for action. Without withDB the runner
// has no engine and can only create scripts or list sources.
func newApp(ctx context.Context, action orchestrator.Action, withDB bool) (*app, error) {
	l, err := loadLayout()
	if err != nil {
		return nil, err
	}

	a := &app{layout: l}
	var engine *migrator.Engine
	if withDB {
		if a.db, err = openDB(ctx); err != nil {
			return nil, err
		}
		engine = migrator.NewEngine(a.db,
			migrator.NewHistory(a.db, cfg.HistoryTable),
			migrator.WithTransactions(cfg.Transactional),
			migrator.WithLogger(logger))
	}

	a.runner = orchestrator.New(orchestrator.Config{
		FS:         l.fs,
		AppDir:     l.appDir,
		RuntimeDir: l.runtimeDir,
		Registry:   l.registry,
		Resolver:   l.resolver,
		Engine:     engine,
		Collision:  cfg.CollisionPolicy(),
		Logger:     logger,
	})
	if err := a.runner.Prepare(ctx, action); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) Close() {
	if a.db != nil {
		_ = a.db.Close()
	}
}

// classify attaches exit codes to errors returned by commands.
func classify(err error) error {
	var exitErr *cli.ExitError
	if errors.As(err, &exitErr) {
		return err
	}

	var scriptErr *migrator.ScriptError
	switch {
	case errors.As(err, &scriptErr):
		return cli.ScriptParseError("invalid migration script", err)
	case errors.Is(err, source.ErrDuplicateIdentifier):
		return cli.ConfigError("conflicting migration sources (run `modmigrate doctor` for details, or set on_duplicate)", err)
	case errors.Is(err, orchestrator.ErrUnknownModule),
		errors.Is(err, orchestrator.ErrNoDatabase),
		errors.Is(err, naming.ErrInvalidName),
		errors.Is(err, migrator.ErrInvalidLimit):
		return cli.ConfigError("configuration", err)
	case errors.Is(err, dump.ErrNoData):
		return cli.DataError("nothing to dump", err)
	default:
		return cli.GeneralError(fmt.Sprintf("%s failed", rootCmd.Name()), err)
	}
}
