package orchestrator_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/modmigrate/internal/testutil"
	"github.com/pthm/modmigrate/pkg/migrator"
	"github.com/pthm/modmigrate/pkg/modules"
	"github.com/pthm/modmigrate/pkg/orchestrator"
	"github.com/pthm/modmigrate/pkg/source"
)

const (
	root       = "/srv/app"
	appDir     = "/srv/app/migrations"
	billingDir = "/srv/app/modules/billing/migrations"
	shopDir    = "/srv/app/modules/shop/migrations"
)

type fixture struct {
	fs      afero.Fs
	db      *migrator.DB
	history *migrator.History
	runner  *orchestrator.Runner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	fs := afero.NewMemMapFs()
	db := testutil.SQLite(t)
	history := migrator.NewHistory(db, "")

	clock := time.Unix(1_700_000_000, 0)
	tick := func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	engine := migrator.NewEngine(db, history, migrator.WithClock(tick), migrator.WithLogger(testutil.Logger(t)))

	reg := modules.NewRegistry()
	reg.Add("billing", modules.TypeRef(`app\modules\billing\Module`))
	reg.Add("shop", modules.Mapping(`vendor\acme\shop\Module`, "@app/modules/shop", nil))
	reg.Add("empty", modules.TypeRef(`app\modules\empty\Module`))

	runner := orchestrator.New(orchestrator.Config{
		FS:         fs,
		AppDir:     appDir,
		RuntimeDir: root + "/runtime",
		Registry:   reg,
		Resolver:   modules.NewResolver(fs, modules.NewAliases(root)),
		Engine:     engine,
		Logger:     testutil.Logger(t),
		Now:        func() time.Time { return time.Date(2024, 6, 1, 10, 20, 30, 0, time.UTC) },
	})

	testutil.WriteScript(t, fs, appDir, "m240101_000000_users",
		"CREATE TABLE users (id INTEGER PRIMARY KEY);", "DROP TABLE users;")
	testutil.WriteScript(t, fs, appDir, "m240104_000000_profiles",
		"CREATE TABLE profiles (id INTEGER PRIMARY KEY);", "DROP TABLE profiles;")
	testutil.WriteScript(t, fs, billingDir, "m240102_000000_invoices",
		"CREATE TABLE invoices (id INTEGER PRIMARY KEY);", "DROP TABLE invoices;")
	testutil.WriteScript(t, fs, billingDir, "m240105_000000_payments",
		"CREATE TABLE payments (id INTEGER PRIMARY KEY);", "DROP TABLE payments;")
	testutil.WriteScript(t, fs, shopDir, "m240103_000000_products",
		"CREATE TABLE products (id INTEGER PRIMARY KEY);", "DROP TABLE products;")
	require.NoError(t, fs.MkdirAll("/srv/app/modules/empty", 0o755))

	return &fixture{fs: fs, db: db, history: history, runner: runner}
}

func (f *fixture) prepare(t *testing.T, action orchestrator.Action) {
	t.Helper()
	require.NoError(t, f.runner.Prepare(context.Background(), action))
}

func ids(rows []migrator.AppliedMigration) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Identifier
	}
	return out
}

func TestPrepare_BuildsSourcesInOrder(t *testing.T) {
	f := newFixture(t)
	f.prepare(t, orchestrator.ActionUp)

	assert.Equal(t, []source.Source{
		{Key: source.AppKey, Dir: appDir},
		{Key: "billing", Dir: billingDir},
		{Key: "shop", Dir: shopDir},
	}, f.runner.Sources().Sources())
	assert.Equal(t, 5, f.runner.Index().Len())
}

func TestPrepare_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.prepare(t, orchestrator.ActionUp)
	firstSources, firstIndex := f.runner.Sources().Sources(), f.runner.Index()

	f.prepare(t, orchestrator.ActionUp)
	assert.Equal(t, firstSources, f.runner.Sources().Sources())
	assert.Equal(t, firstIndex, f.runner.Index())
}

func TestPrepare_FlushesSchemaCacheExceptCreate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.db.SQL().Exec("CREATE TABLE cached (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)

	_, err = f.db.TableSchema(ctx, "cached")
	require.NoError(t, err)
	f.prepare(t, orchestrator.ActionCreate)
	assert.Equal(t, 1, f.db.Cache().Len())

	f.prepare(t, orchestrator.ActionHistory)
	assert.Equal(t, 0, f.db.Cache().Len())
}

func TestPrepare_SeesNewFiles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.prepare(t, orchestrator.ActionNew)
	pending, err := f.runner.PendingMigrations(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 5)

	testutil.WriteScript(t, f.fs, shopDir, "m240106_000000_orders", "SELECT 1;", "")
	f.prepare(t, orchestrator.ActionNew)
	pending, err = f.runner.PendingMigrations(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 6)
}

func TestPendingMigrations_SortedAcrossSources(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.prepare(t, orchestrator.ActionNew)

	pending, err := f.runner.PendingMigrations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"m240101_000000_users",
		"m240102_000000_invoices",
		"m240103_000000_products",
		"m240104_000000_profiles",
		"m240105_000000_payments",
	}, pending)
}

func TestPendingMigrations_DeduplicatesUnderLastWins(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	db := testutil.SQLite(t)
	history := migrator.NewHistory(db, "")
	testutil.WriteScript(t, fs, "/a", "m240101_000000_same", "SELECT 1;", "")
	testutil.WriteScript(t, fs, "/b/migrations", "m240101_000000_same", "SELECT 2;", "")

	reg := modules.NewRegistry()
	reg.Add("b", modules.Mapping("", "/b", nil))
	r := orchestrator.New(orchestrator.Config{
		FS:        fs,
		AppDir:    "/a",
		Registry:  reg,
		Resolver:  modules.NewResolver(fs, modules.NewAliases("/")),
		Engine:    migrator.NewEngine(db, history),
		Collision: source.CollisionLastWins,
	})
	require.NoError(t, r.Prepare(ctx, orchestrator.ActionNew))

	pending, err := r.PendingMigrations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"m240101_000000_same"}, pending)

	m, err := r.ResolveMigration("m240101_000000_same")
	require.NoError(t, err)
	assert.Equal(t, "/b/migrations/m240101_000000_same.sql", m.Path)
}

func TestPrepare_RejectsDuplicatesByDefault(t *testing.T) {
	f := newFixture(t)
	testutil.WriteScript(t, f.fs, shopDir, "m240101_000000_users", "SELECT 1;", "")

	err := f.runner.Prepare(context.Background(), orchestrator.ActionUp)
	require.Error(t, err)
	assert.ErrorIs(t, err, source.ErrDuplicateIdentifier)
}

func TestPrepare_ToleratesDuplicatesWhenNotExecuting(t *testing.T) {
	f := newFixture(t)
	testutil.WriteScript(t, f.fs, shopDir, "m240101_000000_users", "SELECT 1;", "")

	for _, action := range []orchestrator.Action{orchestrator.ActionCreate, orchestrator.ActionSources} {
		require.NoError(t, f.runner.Prepare(context.Background(), action), action)
		d, ok := f.runner.Index().Lookup("m240101_000000_users")
		require.True(t, ok)
		assert.Equal(t, appDir+"/m240101_000000_users.sql", d.FilePath, action)
	}

	c, err := f.runner.Create("add_index", "shop")
	require.NoError(t, err)
	assert.Equal(t, "shop", c.Source)

	for _, action := range []orchestrator.Action{orchestrator.ActionDown, orchestrator.ActionHistory, orchestrator.ActionMark} {
		err := f.runner.Prepare(context.Background(), action)
		assert.ErrorIs(t, err, source.ErrDuplicateIdentifier, action)
	}
}

func TestResolveMigration(t *testing.T) {
	f := newFixture(t)
	f.prepare(t, orchestrator.ActionUp)

	m, err := f.runner.ResolveMigration("m240103_000000_products")
	require.NoError(t, err)
	assert.Equal(t, shopDir+"/m240103_000000_products.sql", m.Path)
	assert.Equal(t, []string{"CREATE TABLE products (id INTEGER PRIMARY KEY);"}, m.Script.Up)

	_, err = f.runner.ResolveMigration("m240109_000000_missing")
	assert.ErrorIs(t, err, migrator.ErrMigrationNotFound)
}

func TestUpDown_AcrossSources(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.prepare(t, orchestrator.ActionUp)

	res, err := f.runner.Up(ctx, migrator.All)
	require.NoError(t, err)
	assert.Len(t, res.Identifiers, 5)

	f.prepare(t, orchestrator.ActionDown)
	res, err = f.runner.Down(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"m240105_000000_payments", "m240104_000000_profiles"}, res.Identifiers)
}

func TestHistory_HidesOrphans(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.prepare(t, orchestrator.ActionUp)
	_, err := f.runner.Up(ctx, migrator.All)
	require.NoError(t, err)

	require.NoError(t, f.fs.RemoveAll("/srv/app/modules/shop"))
	require.NoError(t, f.fs.Remove(appDir+"/m240104_000000_profiles.sql"))
	f.prepare(t, orchestrator.ActionHistory)

	visible, err := f.runner.History(ctx, migrator.All)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"m240105_000000_payments",
		"m240102_000000_invoices",
		"m240101_000000_users",
	}, ids(visible))

	orphans, err := f.runner.Orphans(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"m240104_000000_profiles", "m240103_000000_products"}, ids(orphans))

	raw, err := f.history.Applied(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, raw, 5, "persisted history untouched")

	limited, err := f.runner.History(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"m240105_000000_payments", "m240102_000000_invoices"}, ids(limited))

	res, err := f.runner.Down(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"m240105_000000_payments"}, res.Identifiers)
}

func TestModuleUp_OnlyTouchesModule(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.prepare(t, orchestrator.ActionModuleUp)

	res, err := f.runner.ModuleUp(ctx, "billing", migrator.All)
	require.NoError(t, err)
	assert.Equal(t, []string{"m240102_000000_invoices", "m240105_000000_payments"}, res.Identifiers)

	assert.Equal(t, []source.Source{
		{Key: source.AppKey, Dir: "/srv/app/runtime/tmp"},
		{Key: "billing", Dir: billingDir},
	}, f.runner.Sources().Sources())

	isDir, err := afero.IsDir(f.fs, "/srv/app/runtime/tmp")
	require.NoError(t, err)
	assert.True(t, isDir)

	applied, err := f.history.Applied(ctx, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"m240102_000000_invoices", "m240105_000000_payments"}, ids(applied))
}

func TestModuleDown_RevertsModuleMostRecent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.prepare(t, orchestrator.ActionUp)
	_, err := f.runner.Up(ctx, migrator.All)
	require.NoError(t, err)

	f.prepare(t, orchestrator.ActionModuleDown)
	res, err := f.runner.ModuleDown(ctx, "billing", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"m240105_000000_payments"}, res.Identifiers)

	f.prepare(t, orchestrator.ActionModuleDown)
	res, err = f.runner.ModuleDown(ctx, "shop", migrator.All)
	require.NoError(t, err)
	assert.Equal(t, []string{"m240103_000000_products"}, res.Identifiers)

	applied, err := f.history.Applied(ctx, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"m240101_000000_users",
		"m240102_000000_invoices",
		"m240104_000000_profiles",
	}, ids(applied))
}

func TestModuleUp_UnknownModuleIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.prepare(t, orchestrator.ActionModuleUp)

	for _, module := range []string{"ghost", "empty"} {
		f.prepare(t, orchestrator.ActionModuleUp)
		res, err := f.runner.ModuleUp(ctx, module, migrator.All)
		require.NoError(t, err, module)
		assert.Empty(t, res.Identifiers, module)
		assert.Equal(t, []string{source.AppKey}, f.runner.Sources().Keys(), module)
	}
}

func TestModuleUpDown_AppScopesToApplicationOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.prepare(t, orchestrator.ActionModuleUp)
	res, err := f.runner.ModuleUp(ctx, source.AppKey, migrator.All)
	require.NoError(t, err)
	assert.Equal(t, []string{"m240101_000000_users", "m240104_000000_profiles"}, res.Identifiers)
	assert.Equal(t, []source.Source{{Key: source.AppKey, Dir: appDir}}, f.runner.Sources().Sources())

	f.prepare(t, orchestrator.ActionUp)
	_, err = f.runner.Up(ctx, migrator.All)
	require.NoError(t, err)

	f.prepare(t, orchestrator.ActionModuleDown)
	res, err = f.runner.ModuleDown(ctx, source.AppKey, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"m240104_000000_profiles"}, res.Identifiers)

	applied, err := f.history.Applied(ctx, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"m240101_000000_users",
		"m240102_000000_invoices",
		"m240103_000000_products",
		"m240105_000000_payments",
	}, ids(applied))
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	f.prepare(t, orchestrator.ActionCreate)

	c, err := f.runner.Create("add_index", "")
	require.NoError(t, err)
	assert.Equal(t, "m240601_102030_add_index", c.Identifier)
	assert.Equal(t, appDir+"/m240601_102030_add_index.sql", c.Path)
	assert.Equal(t, source.AppKey, c.Source)

	body, err := afero.ReadFile(f.fs, c.Path)
	require.NoError(t, err)
	assert.Contains(t, string(body), "-- +migrate Up")
	assert.Contains(t, string(body), "-- +migrate Down")

	c, err = f.runner.Create("add_tax", "billing")
	require.NoError(t, err)
	assert.Equal(t, billingDir+"/m240601_102030_add_tax.sql", c.Path)

	_, err = f.runner.Create("add_tax", "billing")
	assert.ErrorIs(t, err, os.ErrExist)
}

func TestCreate_Errors(t *testing.T) {
	f := newFixture(t)
	f.prepare(t, orchestrator.ActionCreate)

	for _, module := range []string{"ghost", "empty"} {
		_, err := f.runner.Create("x", module)
		require.Error(t, err)
		assert.ErrorIs(t, err, orchestrator.ErrUnknownModule)
		assert.Contains(t, err.Error(), module)
	}

	_, err := f.runner.Create("bad-name", "")
	require.Error(t, err)
}

func TestCreate_GeneratedScriptApplies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.prepare(t, orchestrator.ActionCreate)
	_, err := f.runner.Create("noop", "shop")
	require.NoError(t, err)

	f.prepare(t, orchestrator.ActionModuleUp)
	res, err := f.runner.ModuleUp(ctx, "shop", migrator.All)
	require.NoError(t, err)
	assert.Equal(t, []string{"m240103_000000_products", "m240601_102030_noop"}, res.Identifiers)
}

func TestRunner_WithoutDatabase(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := orchestrator.New(orchestrator.Config{FS: fs, AppDir: "/a"})
	require.NoError(t, r.Prepare(context.Background(), orchestrator.ActionCreate))

	_, err := r.PendingMigrations(context.Background())
	assert.ErrorIs(t, err, orchestrator.ErrNoDatabase)

	c, err := r.Create("first", "")
	require.NoError(t, err)
	assert.Equal(t, "/a", r.ActiveDir())
	ok, err := afero.Exists(fs, c.Path)
	require.NoError(t, err)
	assert.True(t, ok)
}
