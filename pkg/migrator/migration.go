package migrator

import (
	"fmt"

	"github.com/spf13/afero"
)

// Migration is a script resolved from disk.
type Migration struct {
	Identifier string
	Path       string
	Script     *Script
}

// LoadMigration reads and parses the script at path.
func LoadMigration(fs afero.Fs, identifier, path string) (*Migration, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening migration %s: %w", identifier, err)
	}
	defer func() { _ = f.Close() }()

	script, err := ParseScript(path, f)
	if err != nil {
		return nil, err
	}
	return &Migration{Identifier: identifier, Path: path, Script: script}, nil
}
