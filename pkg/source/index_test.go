package source

import (
	"errors"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, fs afero.Fs, paths ...string) {
	t.Helper()
	for _, p := range paths {
		require.NoError(t, afero.WriteFile(fs, p, []byte("-- +migrate Up\n"), 0o644))
	}
}

func TestSet_OrderAndReplace(t *testing.T) {
	s := NewSet(Source{Key: AppKey, Dir: "/app/migrations"})
	s.Put("billing", "/mods/billing/migrations")
	s.Put("shop", "/mods/shop/migrations")
	s.Put("billing", "/other")

	assert.Equal(t, []string{AppKey, "billing", "shop"}, s.Keys())
	dir, ok := s.Get("billing")
	require.True(t, ok)
	assert.Equal(t, "/other", dir)
	assert.True(t, s.Has("shop"))
	assert.False(t, s.Has("nope"))
	assert.Equal(t, 3, s.Len())
}

func TestListDir_FiltersNamingConvention(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs,
		"/m/m240102_000000_second.sql",
		"/m/m240101_000000_first.sql",
		"/m/m123_456_x.sql",
		"/m/migration.sql",
		"/m/README.md",
		"/m/m240103_000000_third.php",
	)
	require.NoError(t, fs.MkdirAll("/m/m240104_000000_dir.sql", 0o755))

	found, ignored, err := ListDir(fs, AppKey, "/m")
	require.NoError(t, err)

	require.Len(t, found, 2)
	assert.Equal(t, Discovered{Source: AppKey, FilePath: "/m/m240101_000000_first.sql", Identifier: "m240101_000000_first"}, found[0])
	assert.Equal(t, "m240102_000000_second", found[1].Identifier)
	assert.ElementsMatch(t, []string{
		"/m/m123_456_x.sql",
		"/m/migration.sql",
		"/m/README.md",
		"/m/m240103_000000_third.php",
		"/m/m240104_000000_dir.sql",
	}, ignored)
}

func TestListDir_MissingOrFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, "/file")

	found, ignored, err := ListDir(fs, AppKey, "/missing")
	require.NoError(t, err)
	assert.Empty(t, found)
	assert.Empty(t, ignored)

	found, _, err = ListDir(fs, AppKey, "/file")
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestScan_MergesSources(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs,
		"/app/migrations/m240101_000000_init.sql",
		"/mods/billing/migrations/m240105_000000_invoices.sql",
		"/mods/billing/migrations/m231201_000000_early.sql",
	)
	writeFiles(t, fs, "/mods/shop/migrations")

	set := NewSet(
		Source{Key: AppKey, Dir: "/app/migrations"},
		Source{Key: "billing", Dir: "/mods/billing/migrations"},
		Source{Key: "shop", Dir: "/mods/shop/migrations"},
		Source{Key: "ghost", Dir: "/mods/ghost/migrations"},
	)

	idx, err := Scan(fs, set, CollisionError)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"m231201_000000_early",
		"m240101_000000_init",
		"m240105_000000_invoices",
	}, idx.Identifiers())

	d, ok := idx.Lookup("m240105_000000_invoices")
	require.True(t, ok)
	assert.Equal(t, "billing", d.Source)
	assert.Equal(t, "/mods/billing/migrations/m240105_000000_invoices.sql", d.FilePath)

	id, ok := idx.Identifier("/app/migrations/m240101_000000_init.sql")
	require.True(t, ok)
	assert.Equal(t, "m240101_000000_init", id)
	assert.True(t, idx.Has("m231201_000000_early"))
	assert.False(t, idx.Has("m000000_000000_base"))
}

func TestScan_Idempotent(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs,
		"/a/m240101_000000_x.sql",
		"/b/m240102_000000_y.sql",
	)
	set := NewSet(Source{Key: AppKey, Dir: "/a"}, Source{Key: "b", Dir: "/b"})

	first, err := Scan(fs, set, CollisionError)
	require.NoError(t, err)
	second, err := Scan(fs, set, CollisionError)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestScan_SameDirectoryTwice(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, "/a/m240101_000000_x.sql")
	set := NewSet(Source{Key: AppKey, Dir: "/a"}, Source{Key: "alias", Dir: "/a"})

	idx, err := Scan(fs, set, CollisionError)
	require.NoError(t, err)
	assert.Equal(t, 1, idx.Len())
}

func TestScan_Collisions(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs,
		"/a/m240101_000000_same.sql",
		"/b/m240101_000000_same.sql",
		"/c/m240101_000000_same.sql",
		"/a/m240102_000000_other.sql",
		"/c/m240102_000000_other.sql",
	)
	set := NewSet(
		Source{Key: AppKey, Dir: "/a"},
		Source{Key: "b", Dir: "/b"},
		Source{Key: "c", Dir: "/c"},
	)

	t.Run("error", func(t *testing.T) {
		_, err := Scan(fs, set, CollisionError)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrDuplicateIdentifier)

		var merr *multierror.Error
		require.True(t, errors.As(err, &merr))
		require.Len(t, merr.Errors, 2)

		var de *DuplicateError
		require.True(t, errors.As(merr.Errors[0], &de))
		assert.Equal(t, "m240101_000000_same", de.Identifier)
		assert.Equal(t, []string{"/a/m240101_000000_same.sql", "/b/m240101_000000_same.sql", "/c/m240101_000000_same.sql"}, de.Paths)
	})

	t.Run("last wins", func(t *testing.T) {
		idx, err := Scan(fs, set, CollisionLastWins)
		require.NoError(t, err)
		d, _ := idx.Lookup("m240101_000000_same")
		assert.Equal(t, "/c/m240101_000000_same.sql", d.FilePath)
	})

	t.Run("first wins", func(t *testing.T) {
		idx, err := Scan(fs, set, CollisionFirstWins)
		require.NoError(t, err)
		d, _ := idx.Lookup("m240101_000000_same")
		assert.Equal(t, "/a/m240101_000000_same.sql", d.FilePath)
		assert.Equal(t, 2, idx.Len())
	})
}

func TestParseCollisionPolicy(t *testing.T) {
	for in, want := range map[string]CollisionPolicy{
		"":      CollisionError,
		"error": CollisionError,
		"LAST":  CollisionLastWins,
		"first": CollisionFirstWins,
	} {
		got, err := ParseCollisionPolicy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	assert.Equal(t, "last", CollisionLastWins.String())
	assert.Equal(t, "error", CollisionError.String())

	_, err := ParseCollisionPolicy("random")
	require.Error(t, err)
}
