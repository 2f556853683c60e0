// Package modules models the application's module registry and derives the
// migrations directory of every module.
//
// A module's configuration comes in one of three shapes, represented as a
// tagged variant (Config.Kind):
//
//   - KindInstance: an already constructed module value exposing BasePath.
//   - KindMapping:  a configuration mapping with a class reference and an
//     optional explicit base path.
//   - KindTypeRef:  a bare, namespace-qualified class reference.
//
// Example:
//
//	reg := modules.NewRegistry()
//	reg.Add("billing", modules.TypeRef(`app\modules\billing\Module`))
//	reg.Add("shop", modules.Mapping("", "/srv/shop", nil))
//
//	r := modules.NewResolver(afero.NewOsFs(), modules.NewAliases("/srv/app"))
//	sources := r.Resolve(reg)
package modules

import (
	"fmt"
	"strings"
)

// MigrationsSubdir is appended to every module base path.
const MigrationsSubdir = "migrations"

// Module is implemented by already instantiated modules.
type Module interface {
	BasePath() string
}

// Kind tags the shape of a module configuration.
type Kind int

const (
	// KindInstance is an instantiated module value.
	KindInstance Kind = iota
	// KindMapping is a configuration mapping.
	KindMapping
	// KindTypeRef is a bare class reference.
	KindTypeRef
)

func (k Kind) String() string {
	switch k {
	case KindInstance:
		return "instance"
	case KindMapping:
		return "mapping"
	case KindTypeRef:
		return "type"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Config is one module's configuration.
type Config struct {
	Kind Kind

	// Instance is set for KindInstance.
	Instance Module

	// Class is the namespace-qualified type reference (KindMapping, KindTypeRef).
	Class string

	// BasePath is the explicit base path of a KindMapping config. Empty means
	// derive it from Class.
	BasePath string

	// Options holds the remaining keys of a KindMapping config.
	Options map[string]any
}

// Instance wraps an instantiated module.
func Instance(m Module) Config {
	return Config{Kind: KindInstance, Instance: m}
}

// Mapping builds a mapping-shaped config.
func Mapping(class, basePath string, options map[string]any) Config {
	return Config{Kind: KindMapping, Class: class, BasePath: basePath, Options: options}
}

// TypeRef builds a bare type reference config.
func TypeRef(class string) Config {
	return Config{Kind: KindTypeRef, Class: class}
}

// Entry is a named module configuration.
type Entry struct {
	Name   string
	Config Config
}

// Registry is an ordered mapping of module name to configuration.
// Iteration order is insertion order; re-adding a name replaces the config
// in place.
type Registry struct {
	entries []Entry
	index   map[string]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Add registers or replaces a module.
func (r *Registry) Add(name string, cfg Config) {
	if i, ok := r.index[name]; ok {
		r.entries[i].Config = cfg
		return
	}
	r.index[name] = len(r.entries)
	r.entries = append(r.entries, Entry{Name: name, Config: cfg})
}

// Get returns the configuration of a module.
func (r *Registry) Get(name string) (Config, bool) {
	i, ok := r.index[name]
	if !ok {
		return Config{}, false
	}
	return r.entries[i].Config, true
}

// Entries returns the modules in registration order.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of registered modules.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Names returns module names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.Name
	}
	return names
}

// namespaceDir converts a class reference to its namespace alias by dropping
// the innermost segment. `app\modules\billing\Module`, `app/modules/billing.Module`
// and `app.modules.billing.Module` all yield "@app/modules/billing".
func namespaceDir(class string) (string, error) {
	segments := strings.FieldsFunc(class, func(r rune) bool {
		return r == '\\' || r == '/' || r == '.'
	})
	if len(segments) < 2 {
		return "", fmt.Errorf("type reference %q has no namespace", class)
	}
	return "@" + strings.Join(segments[:len(segments)-1], "/"), nil
}
