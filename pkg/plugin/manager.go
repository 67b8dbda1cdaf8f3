package plugin

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Manager keeps track of registered capability units and builds handles.
type Manager struct {
	mu        sync.RWMutex
	registry  map[string]*unit
	loader    Loader
	isolation IsolationStrategy
	resources map[string]any
	defaults  IsolationPolicy
}

type unit struct {
	plugin     Plugin
	descriptor Descriptor
	config     map[string]any
	policy     IsolationPolicy
	source     string
}

// Unit is a read-only view of a registered capability.
type Unit struct {
	Name       string
	Descriptor Descriptor
	Source     string
}

// LoadError reports a manifest entry that could not be turned into a unit.
type LoadError struct {
	Name   string
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("capability %s (%s): %v", e.Name, e.Source, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// SourceBuiltin marks units registered in-process.
const SourceBuiltin = "builtin"

// Option customises the manager.
type Option func(*Manager)

// WithLoader overrides the loader used for manifest entries.
func WithLoader(loader Loader) Option {
	return func(m *Manager) {
		if loader != nil {
			m.loader = loader
		}
	}
}

// WithIsolation overrides the permission check.
func WithIsolation(strategy IsolationStrategy) Option {
	return func(m *Manager) {
		if strategy != nil {
			m.isolation = strategy
		}
	}
}

// WithResource exposes a host resource to every constructor.
func WithResource(key string, value any) Option {
	return func(m *Manager) {
		m.resources[key] = value
	}
}

// WithDefaults sets the policy applied when an entry has none.
func WithDefaults(policy IsolationPolicy) Option {
	return func(m *Manager) { m.defaults = policy }
}

// NewManager constructs an empty manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		registry:  make(map[string]*unit),
		loader:    GoPluginLoader{},
		isolation: PermissionCheck{},
		resources: make(map[string]any),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register registers a unit directly with the manager. The unit is catalogued
// under its descriptor name.
func (m *Manager) Register(p Plugin, cfg map[string]any, policy IsolationPolicy) error {
	if p == nil {
		return errors.New("plugin implementation cannot be nil")
	}
	return m.register(p.Descriptor(), p, cfg, policy, SourceBuiltin)
}

func (m *Manager) register(desc Descriptor, p Plugin, cfg map[string]any, policy IsolationPolicy, source string) error {
	if err := desc.Validate(); err != nil {
		return err
	}
	policy = policy.Merge(m.defaults)
	if err := m.isolation.Validate(desc.Name, p.Permissions(), policy); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.registry[desc.Name]; exists {
		return fmt.Errorf("capability %s already registered", desc.Name)
	}
	m.registry[desc.Name] = &unit{
		plugin:     p,
		descriptor: desc.Clone(),
		config:     cloneConfig(cfg),
		policy:     policy,
		source:     source,
	}
	return nil
}

// Load loads a unit from disk using a manifest entry. The descriptor comes
// from the sidecar when the entry names one, otherwise from the unit itself.
func (m *Manager) Load(name string, entry Entry, manifest Manifest) error {
	path := manifest.Resolve(entry.Path)
	if path == "" {
		return &LoadError{Name: name, Source: path, Err: errors.New("plugin path cannot be empty")}
	}
	p, err := m.loader.Load(path)
	if err != nil {
		return &LoadError{Name: name, Source: path, Err: err}
	}
	if p == nil {
		return &LoadError{Name: name, Source: path, Err: errors.New("loader returned nil plugin")}
	}
	desc := p.Descriptor()
	if entry.Descriptor != "" {
		if desc, err = LoadDescriptor(manifest.Resolve(entry.Descriptor)); err != nil {
			return &LoadError{Name: name, Source: path, Err: err}
		}
	}
	if desc.Name == "" {
		desc.Name = name
	}
	if desc.Name != name {
		return &LoadError{Name: name, Source: path, Err: fmt.Errorf("descriptor name mismatch: %s != %s", desc.Name, name)}
	}
	policy := MergePolicies(manifest.Defaults, entry.Policy)
	if err := m.register(desc, p, entry.Config, policy, path); err != nil {
		return &LoadError{Name: name, Source: path, Err: err}
	}
	return nil
}

// Apply loads every enabled manifest entry in name order. Failures are
// collected rather than aborting the remaining entries.
func (m *Manager) Apply(manifest Manifest) []error {
	names := make([]string, 0, len(manifest.Capabilities))
	for name, entry := range manifest.Capabilities {
		if entry.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	var failures []error
	for _, name := range names {
		if err := m.Load(name, manifest.Capabilities[name], manifest); err != nil {
			failures = append(failures, err)
		}
	}
	return failures
}

// Build assembles a manager from in-process builtins plus the enabled
// manifest entries. Builtins register first, so a manifest entry cannot
// shadow one. Returned errors are per-unit and leave the manager usable.
func Build(manifest Manifest, builtins []Plugin, opts ...Option) (*Manager, []error) {
	m := NewManager(append([]Option{WithDefaults(manifest.Defaults)}, opts...)...)
	var failures []error
	for _, p := range builtins {
		if err := m.Register(p, nil, IsolationPolicy{}); err != nil {
			name := ""
			if p != nil {
				name = p.Descriptor().Name
			}
			failures = append(failures, &LoadError{Name: name, Source: SourceBuiltin, Err: err})
		}
	}
	if err := manifest.Validate(); err != nil {
		return m, append(failures, &LoadError{Name: "manifest", Source: manifest.Dir(), Err: err})
	}
	return m, append(failures, m.Apply(manifest)...)
}

// Lookup returns the view of a registered unit.
func (m *Manager) Lookup(name string) (Unit, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.registry[name]
	if !ok {
		return Unit{}, false
	}
	return Unit{Name: name, Descriptor: u.descriptor.Clone(), Source: u.source}, true
}

// Names lists registered units in sorted order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.registry))
	for name := range m.registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Instantiate builds a fresh handle for name.
func (m *Manager) Instantiate(name string) (Capability, error) {
	m.mu.RLock()
	u, ok := m.registry[name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("capability %s not registered", name)
	}
	env := &Env{Config: u.config, Resources: m.resources}
	handle, err := u.plugin.New(env.Clone())
	if err != nil {
		return nil, fmt.Errorf("construct capability %s: %w", name, err)
	}
	if handle == nil {
		return nil, fmt.Errorf("construct capability %s: nil handle", name)
	}
	return handle, nil
}

func cloneConfig(cfg map[string]any) map[string]any {
	if cfg == nil {
		return map[string]any{}
	}
	cp := make(map[string]any, len(cfg))
	for k, v := range cfg {
		cp[k] = v
	}
	return cp
}
