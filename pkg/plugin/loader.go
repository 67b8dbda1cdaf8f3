package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	goplugin "plugin"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader resolves capability binaries into Plugin implementations.
type Loader interface {
	Load(path string) (Plugin, error)
}

// GoPluginLoader uses the Go standard library plugin mechanism to dynamically load modules.
type GoPluginLoader struct{}

// Load opens the shared object and searches for a `Plugin` symbol implementing the Plugin interface.
func (GoPluginLoader) Load(path string) (Plugin, error) {
	if path == "" {
		return nil, errors.New("plugin path cannot be empty")
	}
	so, err := goplugin.Open(path)
	if err != nil {
		return nil, err
	}
	symbol, err := so.Lookup("Plugin")
	if err != nil {
		return nil, err
	}
	switch p := symbol.(type) {
	case Plugin:
		return p, nil
	case *Plugin:
		if p == nil || *p == nil {
			return nil, errors.New("plugin symbol is nil")
		}
		return *p, nil
	case func() Plugin:
		return p(), nil
	default:
		return nil, fmt.Errorf("plugin symbol %T must implement plugin.Plugin", symbol)
	}
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(path string) (Plugin, error)

// Load implements Loader.
func (f LoaderFunc) Load(path string) (Plugin, error) { return f(path) }

// LoadDescriptor reads a descriptor sidecar. Files ending in .json are
// decoded as JSON, everything else as YAML.
func LoadDescriptor(path string) (Descriptor, error) {
	var d Descriptor
	raw, err := os.ReadFile(path)
	if err != nil {
		return d, fmt.Errorf("read descriptor: %w", err)
	}
	if strings.HasSuffix(strings.ToLower(path), ".json") {
		err = json.Unmarshal(raw, &d)
	} else {
		err = yaml.Unmarshal(raw, &d)
	}
	if err != nil {
		return d, fmt.Errorf("decode descriptor %s: %w", path, err)
	}
	return d, d.Validate()
}

// WriteDescriptor stores d as a YAML sidecar.
func WriteDescriptor(path string, d Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	raw, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal descriptor: %w", err)
	}
	return os.WriteFile(path, raw, 0o644)
}
