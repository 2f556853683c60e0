package orchestrator

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/spf13/afero"

	"github.com/pthm/modmigrate/pkg/naming"
	"github.com/pthm/modmigrate/pkg/source"
)

//go:embed templates/create.sql.tmpl
var createTemplateText string

var createTemplate = template.Must(template.New("create").Parse(createTemplateText))

// Created describes a script written by Create.
type Created struct {
	Identifier string
	Path       string
	Source     string
}

// Create writes an empty migration script named name into the directory of
// module, or into the application directory when module is empty. A module
// must be a known source, which requires Prepare to have run.
func (r *Runner) Create(name, module string) (*Created, error) {
	if err := naming.ValidateName(name); err != nil {
		return nil, err
	}

	key, dir := source.AppKey, r.appDir
	if module != "" {
		if r.sources == nil {
			return nil, fmt.Errorf("%w: %q", ErrUnknownModule, module)
		}
		d, ok := r.sources.Get(module)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownModule, module)
		}
		key, dir = module, d
	}

	id := naming.NewIdentifier(r.now(), name)
	path := filepath.Join(dir, naming.FileName(id))

	var buf bytes.Buffer
	if err := createTemplate.Execute(&buf, struct{ Identifier string }{id}); err != nil {
		return nil, fmt.Errorf("rendering %s: %w", id, err)
	}

	if err := r.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dir, err)
	}
	if exists, _ := afero.Exists(r.fs, path); exists {
		return nil, fmt.Errorf("creating %s: %w", path, os.ErrExist)
	}
	if err := afero.WriteFile(r.fs, path, buf.Bytes(), 0o644); err != nil {
		return nil, fmt.Errorf("writing %s: %w", path, err)
	}

	r.logger.Info().Str("migration", id).Str("source", key).Str("path", path).Msg("created migration")
	return &Created{Identifier: id, Path: path, Source: key}, nil
}
