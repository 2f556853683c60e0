package testutil

import (
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// WriteScript writes a migration script with the given sections into dir.
// An empty down string produces an irreversible script.
func WriteScript(tb testing.TB, fs afero.Fs, dir, identifier, up, down string) string {
	tb.Helper()

	body := "-- +migrate Up\n" + up + "\n"
	if down != "" {
		body += "-- +migrate Down\n" + down + "\n"
	}
	path := filepath.Join(dir, identifier+".sql")
	require.NoError(tb, fs.MkdirAll(dir, 0o755))
	require.NoError(tb, afero.WriteFile(fs, path, []byte(body), 0o644))
	return path
}
