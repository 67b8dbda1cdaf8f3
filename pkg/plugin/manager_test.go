package plugin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"Stepwise-Agent/pkg/value"
)

type echoPlugin struct {
	desc  Descriptor
	perms []Permission
	built int
}

func (p *echoPlugin) Descriptor() Descriptor    { return p.desc }
func (p *echoPlugin) Permissions() []Permission { return p.perms }
func (p *echoPlugin) New(env *Env) (Capability, error) {
	p.built++
	prefix := env.ConfigString("prefix", "")
	return Methods{
		"echo": func(_ context.Context, args []value.Value) (value.Value, error) {
			s, err := StringArg(args, 0)
			if err != nil {
				return value.Null(), err
			}
			return value.String(prefix + s), nil
		},
	}, nil
}

func echoDescriptor(name string) Descriptor {
	return Descriptor{
		Name:    name,
		Purpose: "Echo text back",
		Methods: []MethodDescriptor{{Name: "echo", Description: "returns its input", ReturnType: "string"}},
	}
}

func TestRegisterAndInstantiate(t *testing.T) {
	m := NewManager()
	p := &echoPlugin{desc: echoDescriptor("Echo")}
	if err := m.Register(p, map[string]any{"prefix": "> "}, IsolationPolicy{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register(p, nil, IsolationPolicy{}); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}

	first, err := m.Instantiate("Echo")
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	if _, err := m.Instantiate("Echo"); err != nil {
		t.Fatalf("instantiate again: %v", err)
	}
	if p.built != 2 {
		t.Fatalf("expected a fresh handle per call, got %d constructions", p.built)
	}
	out, err := first.Invoke(context.Background(), "echo", []value.Value{value.String("hi")})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out.String() != "> hi" {
		t.Fatalf("unexpected output %q", out.String())
	}
	if _, err := first.Invoke(context.Background(), "shout", nil); !errors.Is(err, ErrUnknownMethod) {
		t.Fatalf("expected ErrUnknownMethod, got %v", err)
	}
}

func TestRegisterRejectsDeniedPermission(t *testing.T) {
	m := NewManager()
	p := &echoPlugin{desc: echoDescriptor("Net"), perms: []Permission{PermissionNetwork}}
	err := m.Register(p, nil, IsolationPolicy{Denied: []Permission{PermissionNetwork}})
	if err == nil {
		t.Fatalf("expected denied permission to fail registration")
	}
	if _, ok := m.Lookup("Net"); ok {
		t.Fatalf("denied unit must not be registered")
	}
}

func TestApplyCollectsFailures(t *testing.T) {
	dir := t.TempDir()
	manifest := Manifest{
		CapabilityDir: dir,
		Capabilities: map[string]Entry{
			"Good":     {Enabled: true, Path: "good.so"},
			"Broken":   {Enabled: true, Path: "broken.so"},
			"Nameless": {Enabled: true, Path: "nameless.so"},
			"Off":      {Enabled: false, Path: "off.so"},
		},
	}
	loader := LoaderFunc(func(path string) (Plugin, error) {
		switch filepath.Base(path) {
		case "good.so":
			return &echoPlugin{desc: echoDescriptor("Good")}, nil
		case "nameless.so":
			return &echoPlugin{desc: Descriptor{Name: "Nameless"}}, nil
		default:
			return nil, errors.New("plugin.Open: invalid ELF header")
		}
	})
	m := NewManager(WithLoader(loader))
	failures := m.Apply(manifest)
	if len(failures) != 2 {
		t.Fatalf("expected 2 failures, got %v", failures)
	}
	var loadErr *LoadError
	if !errors.As(failures[0], &loadErr) || loadErr.Name != "Broken" {
		t.Fatalf("expected Broken to fail first, got %v", failures[0])
	}
	if !errors.Is(failures[1], ErrInvalidDescriptor) {
		t.Fatalf("expected descriptor failure, got %v", failures[1])
	}
	if names := m.Names(); len(names) != 1 || names[0] != "Good" {
		t.Fatalf("unexpected registered names %v", names)
	}
}

func TestLoadUsesDescriptorSidecar(t *testing.T) {
	dir := t.TempDir()
	sidecar := filepath.Join(dir, "echo.yaml")
	content := "name: Echo\npurpose: Echo from sidecar\nmethods:\n  - name: echo\n    description: returns its input\n"
	if err := os.WriteFile(sidecar, []byte(content), 0o644); err != nil {
		t.Fatalf("write sidecar: %v", err)
	}
	manifest := Manifest{CapabilityDir: dir}
	loader := LoaderFunc(func(string) (Plugin, error) {
		return &echoPlugin{desc: Descriptor{}}, nil
	})
	m := NewManager(WithLoader(loader))
	if err := m.Load("Echo", Entry{Enabled: true, Path: "echo.so", Descriptor: "echo.yaml"}, manifest); err != nil {
		t.Fatalf("load: %v", err)
	}
	unit, ok := m.Lookup("Echo")
	if !ok {
		t.Fatalf("expected Echo to be registered")
	}
	if unit.Descriptor.Purpose != "Echo from sidecar" {
		t.Fatalf("unexpected purpose %q", unit.Descriptor.Purpose)
	}
	if unit.Source != filepath.Join(dir, "echo.so") {
		t.Fatalf("unexpected source %q", unit.Source)
	}
}

func TestManifestRoundTripThroughDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capabilities.yaml")
	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("missing manifest should load empty: %v", err)
	}
	if len(m.Capabilities) != 0 {
		t.Fatalf("expected empty manifest")
	}
	m.CapabilityDir = "modules"
	m.Upsert("Greeter", Entry{Enabled: true, Path: "Greeter/Greeter.so", Descriptor: "Greeter/Greeter.yaml"})
	if err := SaveManifest(path, m); err != nil {
		t.Fatalf("save: %v", err)
	}
	reloaded, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	entry, ok := reloaded.Capabilities["Greeter"]
	if !ok || !entry.Enabled {
		t.Fatalf("expected Greeter entry, got %+v", reloaded.Capabilities)
	}
	want := filepath.Join(filepath.Dir(path), "modules", "Greeter/Greeter.so")
	if got := reloaded.Resolve(entry.Path); got != want {
		t.Fatalf("resolve: got %s want %s", got, want)
	}
}

func TestManifestValidate(t *testing.T) {
	m := Manifest{Capabilities: map[string]Entry{"X": {Enabled: true}}}
	if err := m.Validate(); err == nil {
		t.Fatalf("expected enabled entry without path to fail")
	}
}

func TestNumberArgAcceptsNumericStrings(t *testing.T) {
	args := []value.Value{value.Number(2), value.String(" 3.5 "), value.String("x")}
	if n, err := NumberArg(args, 0); err != nil || n != 2 {
		t.Fatalf("arg 0: %v %v", n, err)
	}
	if n, err := NumberArg(args, 1); err != nil || n != 3.5 {
		t.Fatalf("arg 1: %v %v", n, err)
	}
	if _, err := NumberArg(args, 2); err == nil {
		t.Fatalf("expected non-numeric string to fail")
	}
	if _, err := NumberArg(args, 3); err == nil {
		t.Fatalf("expected missing argument to fail")
	}
	if err := Arity(args, 2, 2); err == nil {
		t.Fatalf("expected arity mismatch")
	}
}
