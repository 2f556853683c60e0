package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/modmigrate/internal/cli"
	"github.com/pthm/modmigrate/internal/testutil"
	"github.com/pthm/modmigrate/pkg/dump"
	"github.com/pthm/modmigrate/pkg/migrator"
	"github.com/pthm/modmigrate/pkg/orchestrator"
	"github.com/pthm/modmigrate/pkg/source"
)

const testConfig = `database:
  driver: sqlite
  name: app.db
modules:
  billing:
    class: app\modules\billing\Module
    base_path: modules/billing
  reports: app\modules\reports\Module
`

// project lays out an application with one module and changes into it.
func project(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "modmigrate.yaml"), []byte(testConfig), 0o644))

	fs := afero.NewOsFs()
	testutil.WriteScript(t, fs, filepath.Join(root, "migrations"), "m240101_000000_users",
		"CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT);\nINSERT INTO users (id, name) VALUES (1, 'ada');",
		"DROP TABLE users;")
	testutil.WriteScript(t, fs, filepath.Join(root, "modules", "billing", "migrations"), "m240102_000000_invoices",
		"CREATE TABLE invoices (id INTEGER PRIMARY KEY);",
		"DROP TABLE invoices;")

	chdir(t, root)
	return root
}

// run executes the CLI with args and returns its stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cfgFile, verbose, quiet, dbURL, driver, migrationsDir = "", 0, false, "", "", ""
	assumeYes, doctorVerbose, configShowSource, versionCheck = false, false, false, false

	var buf bytes.Buffer
	stdout = &buf
	t.Cleanup(func() { stdout = os.Stdout })

	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestCLI_UpHistoryDown(t *testing.T) {
	project(t)

	out, err := run(t, "new")
	require.NoError(t, err)
	assert.Contains(t, out, "Found 2 new migrations:")

	out, err = run(t, "up", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Total 2 new migrations to be applied:")
	assert.Contains(t, out, "m240101_000000_users")
	assert.Contains(t, out, "m240102_000000_invoices")
	assert.Contains(t, out, "Migrated up successfully.")

	out, err = run(t, "up", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Your system is up-to-date.")

	out, err = run(t, "history", "all")
	require.NoError(t, err)
	assert.Contains(t, out, "Total 2 migrations applied before:")

	out, err = run(t, "module-down", "billing", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Total 1 migration to be reverted:")
	assert.Contains(t, out, "m240102_000000_invoices")
	assert.NotContains(t, out, "m240101_000000_users")

	out, err = run(t, "new")
	require.NoError(t, err)
	assert.Contains(t, out, "Found 1 new migration:")
	assert.Contains(t, out, "m240102_000000_invoices")
}

func TestCLI_Create(t *testing.T) {
	root := project(t)

	out, err := run(t, "create", "add_index", "billing")
	require.NoError(t, err)
	assert.Contains(t, out, "New migration created successfully: "+filepath.Join(root, "modules", "billing", "migrations"))

	_, err = run(t, "create", "add_index", "reports")
	require.Error(t, err)
	assert.Equal(t, cli.ExitConfig, cli.ExitCode(classify(err)))

	_, err = run(t, "create", "bad-name")
	require.Error(t, err)
	assert.Equal(t, cli.ExitConfig, cli.ExitCode(classify(err)))
}

func TestCLI_Sources(t *testing.T) {
	project(t)

	out, err := run(t, "sources")
	require.NoError(t, err)
	assert.Contains(t, out, "app")
	assert.Contains(t, out, "billing")
	assert.Contains(t, out, "reports")
}

func TestCLI_DuplicateIdentifiers(t *testing.T) {
	root := project(t)
	testutil.WriteScript(t, afero.NewOsFs(), filepath.Join(root, "modules", "billing", "migrations"),
		"m240101_000000_users", "SELECT 1;", "SELECT 1;")

	out, err := run(t, "sources")
	require.NoError(t, err)
	assert.Contains(t, out, "billing")

	out, err = run(t, "create", "add_index")
	require.NoError(t, err)
	assert.Contains(t, out, "New migration created successfully")

	_, err = run(t, "up", "--yes")
	require.Error(t, err)
	classified := classify(err)
	assert.Equal(t, cli.ExitConfig, cli.ExitCode(classified))
	assert.Contains(t, classified.Error(), "modmigrate doctor")
	assert.Contains(t, classified.Error(), "m240101_000000_users")
}

func TestCLI_DataDump(t *testing.T) {
	root := project(t)

	_, err := run(t, "up", "--yes")
	require.NoError(t, err)

	out, err := run(t, "data-dump", "users", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "Dumped 1 row of users")

	matches, err := filepath.Glob(filepath.Join(root, "migrations", "m*_users_dump.sql"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	body, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.NotContains(t, string(body), "DELETE FROM")

	_, err = run(t, "data-dump", "invoices")
	require.Error(t, err)
	assert.Equal(t, cli.ExitData, cli.ExitCode(classify(err)))

	_, err = run(t, "data-dump", "users", "maybe")
	require.Error(t, err)
	assert.Equal(t, cli.ExitConfig, cli.ExitCode(classify(err)))
}

func TestCLI_InvalidLimit(t *testing.T) {
	project(t)

	_, err := run(t, "down", "zero")
	require.Error(t, err)
	assert.Equal(t, cli.ExitConfig, cli.ExitCode(classify(err)))
}

func TestCLI_Doctor(t *testing.T) {
	project(t)

	out, err := run(t, "doctor")
	require.NoError(t, err)
	assert.Contains(t, out, "Module reports has no migrations directory")
	assert.Contains(t, out, "2 migrations pending")
}

func TestCLI_ConfigShowHidesPassword(t *testing.T) {
	project(t)
	t.Setenv("MODMIGRATE_DATABASE_PASSWORD", "hunter2")

	out, err := run(t, "config", "show", "--source")
	require.NoError(t, err)
	assert.Contains(t, out, "modmigrate.yaml")
	assert.NotContains(t, out, "hunter2")
}

func TestDriverFlag(t *testing.T) {
	var d driverFlag
	require.NoError(t, d.Set("PGX"))
	assert.Equal(t, "pgx", d.String())
	assert.Error(t, d.Set("oracle"))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&migrator.ScriptError{Path: "x.sql", Err: migrator.ErrNoUpSection}, cli.ExitScriptParse},
		{fmt.Errorf("applying: %w", &migrator.ScriptError{Path: "x.sql", Err: migrator.ErrUnterminatedBlock}), cli.ExitScriptParse},
		{fmt.Errorf("%w: x", orchestrator.ErrUnknownModule), cli.ExitConfig},
		{&source.DuplicateError{Identifier: "m240101_000000_a"}, cli.ExitConfig},
		{fmt.Errorf("%w in table %q", dump.ErrNoData, "t"), cli.ExitData},
		{cli.DBConnectError("connecting", assert.AnError), cli.ExitDBConnect},
		{assert.AnError, cli.ExitGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, cli.ExitCode(classify(tt.err)))
		})
	}
}
