package plugin

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest is the factory table: which capability units exist on disk and
// how to build them.
type Manifest struct {
	CapabilityDir string           `yaml:"capabilityDir"`
	Defaults      IsolationPolicy  `yaml:"defaults"`
	Capabilities  map[string]Entry `yaml:"capabilities"`

	baseDir string
}

// Entry is the manifest block for a single capability unit.
type Entry struct {
	Enabled    bool             `yaml:"enabled"`
	Path       string           `yaml:"path"`
	Descriptor string           `yaml:"descriptor,omitempty"`
	Config     map[string]any   `yaml:"config,omitempty"`
	Policy     *IsolationPolicy `yaml:"policy,omitempty"`
}

// LoadManifest reads a YAML manifest. A missing file yields an empty
// manifest so a fresh install starts with builtins only.
func LoadManifest(path string) (Manifest, error) {
	m := Manifest{Capabilities: map[string]Entry{}}
	if path == "" {
		return m, errors.New("manifest path cannot be empty")
	}
	m.baseDir = filepath.Dir(path)
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return m, fmt.Errorf("read capability manifest: %w", err)
	}
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("unmarshal capability manifest: %w", err)
	}
	if m.Capabilities == nil {
		m.Capabilities = map[string]Entry{}
	}
	return m, nil
}

// SaveManifest writes the manifest atomically.
func SaveManifest(path string, m Manifest) error {
	if err := m.Validate(); err != nil {
		return err
	}
	raw, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal capability manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write capability manifest: %w", err)
	}
	return os.Rename(tmp, path)
}

// Validate ensures the manifest is internally consistent.
func (m Manifest) Validate() error {
	for name, entry := range m.Capabilities {
		if strings.TrimSpace(name) == "" {
			return errors.New("capability name cannot be empty")
		}
		if !entry.Enabled {
			continue
		}
		if entry.Path == "" {
			return fmt.Errorf("capability %s path cannot be empty when enabled", name)
		}
	}
	return nil
}

// Upsert adds or replaces a capability entry.
func (m *Manifest) Upsert(name string, entry Entry) {
	if m.Capabilities == nil {
		m.Capabilities = map[string]Entry{}
	}
	m.Capabilities[name] = entry
}

// Resolve turns an entry path into a filesystem path. Relative paths are
// taken from capabilityDir, which itself is relative to the manifest file.
func (m Manifest) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	dir := m.CapabilityDir
	if dir != "" && !filepath.IsAbs(dir) && m.baseDir != "" {
		dir = filepath.Join(m.baseDir, dir)
	}
	if dir == "" {
		dir = m.baseDir
	}
	return filepath.Join(dir, path)
}

// Dir returns the resolved capability directory.
func (m Manifest) Dir() string {
	if m.CapabilityDir == "" {
		return m.baseDir
	}
	if filepath.IsAbs(m.CapabilityDir) || m.baseDir == "" {
		return m.CapabilityDir
	}
	return filepath.Join(m.baseDir, m.CapabilityDir)
}
