// Package testutil provides shared test databases and loggers.
package testutil

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	_ "modernc.org/sqlite"

	"github.com/pthm/modmigrate/pkg/migrator"
)

// Logger returns a logger writing to the test output with -v and a no-op
// logger otherwise.
func Logger(tb testing.TB) zerolog.Logger {
	tb.Helper()

	if testing.Verbose() {
		return zerolog.New(zerolog.NewTestWriter(tb))
	}
	return zerolog.Nop()
}

// SQLite returns a database backed by a file in the test's temp dir.
// A file rather than :memory: keeps every pooled connection on the same
// database.
func SQLite(tb testing.TB) *migrator.DB {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "test.db")
	pool, err := sql.Open("sqlite", path)
	require.NoError(tb, err, "failed to open sqlite database")
	require.NoError(tb, pool.Ping(), "failed to ping sqlite database")
	tb.Cleanup(func() { _ = pool.Close() })

	return migrator.New(pool, migrator.SQLite{})
}

// Singleton container state
var (
	singletonOnce sync.Once
	singletonDSN  string
	singletonErr  error
)

// ensureSingleton lazily starts one PostgreSQL container per test binary.
func ensureSingleton() (string, error) {
	singletonOnce.Do(func() {
		ctx := context.Background()

		container, err := postgres.Run(ctx,
			"postgres:18-alpine",
			postgres.WithDatabase("postgres"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithEnv(map[string]string{
				"POSTGRES_INITDB_ARGS": "--auth-host=trust",
			}),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		if err != nil {
			singletonErr = fmt.Errorf("failed to start PostgreSQL container: %w", err)
			return
		}

		dsn, err := container.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			_ = container.Terminate(ctx)
			singletonErr = fmt.Errorf("failed to get PostgreSQL connection string: %w", err)
			return
		}

		singletonDSN = dsn
		// ryuk removes the container when the test binary exits
	})

	return singletonDSN, singletonErr
}

// Postgres returns an empty, isolated PostgreSQL database. The test is
// skipped in -short mode or when no container runtime is available.
func Postgres(tb testing.TB) *migrator.DB {
	tb.Helper()

	if testing.Short() {
		tb.Skip("skipping PostgreSQL test in short mode")
	}
	adminDSN, err := ensureSingleton()
	if err != nil {
		tb.Skipf("PostgreSQL unavailable: %v", err)
	}

	dbName := uniqueDBName("test")
	require.NoError(tb, createDatabase(adminDSN, dbName), "failed to create test database")

	pool, err := sql.Open("pgx", ReplaceDBName(adminDSN, dbName))
	require.NoError(tb, err, "failed to connect to test database")
	require.NoError(tb, pool.Ping(), "failed to ping test database")

	registerCleanup(tb, pool, adminDSN, dbName)
	return migrator.New(pool, migrator.Postgres{})
}

// registerCleanup closes the pool and drops the database in the background.
func registerCleanup(tb testing.TB, db *sql.DB, adminDSN, dbName string) {
	tb.Cleanup(func() {
		_ = db.Close()

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = dropDatabase(ctx, adminDSN, dbName)
		}()
	})
}

func uniqueDBName(prefix string) string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(b))
}

func createDatabase(adminDSN, name string) error {
	db, err := sql.Open("pgx", adminDSN)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	_, err = db.Exec(fmt.Sprintf("CREATE DATABASE %s", name))
	return err
}

func dropDatabase(ctx context.Context, adminDSN, name string) error {
	db, err := sql.Open("pgx", adminDSN)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	_, _ = db.ExecContext(ctx, fmt.Sprintf(`
		SELECT pg_terminate_backend(pid)
		FROM pg_stat_activity
		WHERE datname = '%s' AND pid <> pg_backend_pid()
	`, name))

	_, err = db.ExecContext(ctx, fmt.Sprintf("DROP DATABASE IF EXISTS %s", name))
	return err
}

// ReplaceDBName replaces the database name in a PostgreSQL URL DSN.
func ReplaceDBName(dsn, newDB string) string {
	for i := len(dsn) - 1; i >= 0; i-- {
		if dsn[i] != '/' {
			continue
		}
		rest := ""
		for j := i + 1; j < len(dsn); j++ {
			if dsn[j] == '?' {
				rest = dsn[j:]
				break
			}
		}
		return dsn[:i+1] + newDB + rest
	}
	return dsn
}
