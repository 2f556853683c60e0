package modules

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// modulesKey is the top-level config key holding the module registry.
const modulesKey = "modules"

// mappingConfig is the decoded form of a mapping-shaped module entry.
// Both basePath and base_path spellings are accepted.
type mappingConfig struct {
	Class         string         `mapstructure:"class"`
	BasePath      string         `mapstructure:"basePath"`
	BasePathSnake string         `mapstructure:"base_path"`
	Options       map[string]any `mapstructure:",remain"`
}

// LoadRegistryFile reads the modules section of a YAML config file.
func LoadRegistryFile(fs afero.Fs, path string) (*Registry, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	reg, err := ParseRegistry(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reg, nil
}

// ParseRegistry extracts the ordered module registry from a YAML document.
// Document order is preserved, which plain map decoding would lose.
//
//	modules:
//	  billing: app\modules\billing\Module
//	  shop:
//	    class: app\modules\shop\Module
//	    base_path: vendor/acme/shop
func ParseRegistry(data []byte) (*Registry, error) {
	reg := NewRegistry()

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing yaml: %w", err)
	}
	if len(doc.Content) == 0 {
		return reg, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return reg, nil
	}

	var modulesNode *yaml.Node
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == modulesKey {
			modulesNode = root.Content[i+1]
			break
		}
	}
	if modulesNode == nil || modulesNode.Tag == "!!null" {
		return reg, nil
	}
	if modulesNode.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: %s must be a mapping of module name to config", modulesNode.Line, modulesKey)
	}

	for i := 0; i+1 < len(modulesNode.Content); i += 2 {
		name := modulesNode.Content[i].Value
		cfg, err := decodeModule(modulesNode.Content[i+1])
		if err != nil {
			return nil, fmt.Errorf("module %q: %w", name, err)
		}
		reg.Add(name, cfg)
	}
	return reg, nil
}

func decodeModule(n *yaml.Node) (Config, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Value == "" || n.Tag == "!!null" {
			return Config{}, fmt.Errorf("line %d: empty type reference", n.Line)
		}
		return TypeRef(n.Value), nil
	case yaml.MappingNode:
		var raw map[string]any
		if err := n.Decode(&raw); err != nil {
			return Config{}, fmt.Errorf("line %d: %w", n.Line, err)
		}
		var mc mappingConfig
		if err := mapstructure.Decode(raw, &mc); err != nil {
			return Config{}, fmt.Errorf("line %d: %w", n.Line, err)
		}
		basePath := mc.BasePath
		if basePath == "" {
			basePath = mc.BasePathSnake
		}
		if mc.Class == "" && basePath == "" {
			return Config{}, fmt.Errorf("line %d: mapping needs a class or a base path", n.Line)
		}
		return Mapping(mc.Class, basePath, mc.Options), nil
	default:
		return Config{}, fmt.Errorf("line %d: unsupported module config", n.Line)
	}
}
