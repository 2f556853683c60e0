package modules

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/pthm/modmigrate/pkg/source"
)

// AppAlias is the alias of the application root directory.
const AppAlias = "@app"

// ErrNoInstance is returned for a KindInstance config without a module value.
var ErrNoInstance = errors.New("module instance is nil")

// Aliases maps path aliases such as "@app" or "@vendor" to directories.
type Aliases struct {
	root    string
	targets map[string]string
}

// NewAliases creates an alias table rooted at root. "@app" points at root.
func NewAliases(root string) *Aliases {
	root = filepath.Clean(root)
	return &Aliases{
		root:    root,
		targets: map[string]string{AppAlias: root},
	}
}

// Root returns the root directory.
func (a *Aliases) Root() string {
	return a.root
}

// Set registers an alias. Relative targets are resolved against the root.
func (a *Aliases) Set(alias, target string) {
	if !strings.HasPrefix(alias, "@") {
		alias = "@" + alias
	}
	a.targets[strings.TrimRight(alias, "/")] = a.abs(target)
}

// Resolve turns a path that may start with an alias into an absolute path.
// The longest registered alias prefix wins. An unknown alias is treated as
// a path relative to the root directory.
func (a *Aliases) Resolve(p string) string {
	if !strings.HasPrefix(p, "@") {
		return a.abs(p)
	}

	names := make([]string, 0, len(a.targets))
	for name := range a.targets {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })

	for _, name := range names {
		if p == name {
			return a.targets[name]
		}
		if strings.HasPrefix(p, name+"/") {
			return filepath.Join(a.targets[name], filepath.FromSlash(p[len(name)+1:]))
		}
	}
	return filepath.Join(a.root, filepath.FromSlash(strings.TrimPrefix(p, "@")))
}

func (a *Aliases) abs(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(a.root, p)
}

// Resolver derives module migration directories.
type Resolver struct {
	fs      afero.Fs
	aliases *Aliases
	logger  zerolog.Logger
}

// NewResolver creates a resolver over fs.
func NewResolver(fs afero.Fs, aliases *Aliases) *Resolver {
	return &Resolver{fs: fs, aliases: aliases, logger: zerolog.Nop()}
}

// WithLogger returns a copy of the resolver that logs to logger.
func (r *Resolver) WithLogger(logger zerolog.Logger) *Resolver {
	n := *r
	n.logger = logger
	return &n
}

// BasePath returns the base directory of a module:
//  1. an instance's own BasePath,
//  2. a mapping's explicit base path,
//  3. otherwise the namespace directory of the class reference.
func (r *Resolver) BasePath(cfg Config) (string, error) {
	switch cfg.Kind {
	case KindInstance:
		if cfg.Instance == nil {
			return "", ErrNoInstance
		}
		return r.aliases.Resolve(cfg.Instance.BasePath()), nil
	case KindMapping:
		if cfg.BasePath != "" {
			return r.aliases.Resolve(cfg.BasePath), nil
		}
		return r.fromClass(cfg.Class)
	case KindTypeRef:
		return r.fromClass(cfg.Class)
	default:
		return "", fmt.Errorf("unknown module config kind %s", cfg.Kind)
	}
}

func (r *Resolver) fromClass(class string) (string, error) {
	alias, err := namespaceDir(class)
	if err != nil {
		return "", err
	}
	return r.aliases.Resolve(alias), nil
}

// MigrationsDir returns <base path>/migrations for a module.
func (r *Resolver) MigrationsDir(cfg Config) (string, error) {
	base, err := r.BasePath(cfg)
	if err != nil {
		return "", err
	}
	return filepath.Join(base, MigrationsSubdir), nil
}

// Resolve returns one source per module whose migrations directory exists
// and is a directory, in registry order. Modules without one are skipped:
// having no migrations is normal for a module.
func (r *Resolver) Resolve(reg *Registry) []source.Source {
	var out []source.Source
	for _, e := range reg.Entries() {
		dir, err := r.MigrationsDir(e.Config)
		if err != nil {
			r.logger.Warn().Err(err).Str("module", e.Name).Msg("cannot derive module path")
			continue
		}
		if ok, err := afero.IsDir(r.fs, dir); err != nil || !ok {
			r.logger.Debug().Str("module", e.Name).Str("dir", dir).Msg("module has no migrations directory")
			continue
		}
		out = append(out, source.Source{Key: e.Name, Dir: dir})
	}
	return out
}
