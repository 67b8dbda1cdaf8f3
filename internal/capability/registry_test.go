package capability

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	xerrors "Stepwise-Agent/internal/errors"
	"Stepwise-Agent/pkg/logger"
	"Stepwise-Agent/pkg/plugin"
	"Stepwise-Agent/pkg/value"
)

type stubPlugin struct {
	name string
}

func (p stubPlugin) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{
		Name:    p.name,
		Purpose: "test capability " + p.name,
		Methods: []plugin.MethodDescriptor{{Name: "ping", Description: "returns pong"}},
	}
}

func (stubPlugin) Permissions() []plugin.Permission { return nil }

func (stubPlugin) New(env *plugin.Env) (plugin.Capability, error) {
	tag, _ := plugin.Resource[string](env, "tag")
	return plugin.Methods{
		"ping": func(context.Context, []value.Value) (value.Value, error) {
			return value.String("pong" + tag), nil
		},
	}, nil
}

func writeManifest(t *testing.T, dir string, entries map[string]plugin.Entry) string {
	t.Helper()
	path := filepath.Join(dir, "capabilities.yaml")
	if err := plugin.SaveManifest(path, plugin.Manifest{Capabilities: entries}); err != nil {
		t.Fatalf("save manifest: %v", err)
	}
	return path
}

func TestLoadMissingManifestKeepsBuiltins(t *testing.T) {
	reg := New(filepath.Join(t.TempDir(), "none.yaml"), WithBuiltin(stubPlugin{name: "Zeta"}, stubPlugin{name: "Alpha"}))
	if err := reg.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	catalog := reg.Catalog()
	if len(catalog) != 2 || catalog[0].Name != "Alpha" || catalog[1].Name != "Zeta" {
		t.Fatalf("unexpected catalog %+v", catalog)
	}
	if len(reg.Diagnostics()) != 0 {
		t.Fatalf("unexpected diagnostics %v", reg.Diagnostics())
	}
	if _, ok := reg.Lookup("Alpha"); !ok {
		t.Fatalf("expected Alpha to be catalogued")
	}
}

func TestLoadRecordsFailuresWithoutAborting(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, map[string]plugin.Entry{
		"Broken": {Enabled: true, Path: "broken.so"},
		"Good":   {Enabled: true, Path: "good.so"},
	})
	loader := plugin.LoaderFunc(func(p string) (plugin.Plugin, error) {
		if strings.HasSuffix(p, "good.so") {
			return stubPlugin{name: "Good"}, nil
		}
		return nil, errors.New("bad object")
	})
	var buf bytes.Buffer
	reg := New(path, WithLoader(loader), WithJournal(logger.NewJournal(&buf)))
	if err := reg.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	diags := reg.Diagnostics()
	if len(diags) != 1 || !xerrors.HasCode(diags[0], CodeModuleLoadFailed) {
		t.Fatalf("expected one load failure, got %v", diags)
	}
	if !strings.Contains(buf.String(), "[module] ❌ Module error [Broken]") {
		t.Fatalf("expected journal diagnostic, got %q", buf.String())
	}

	if _, err := reg.Resolve(context.Background(), "Good"); err != nil {
		t.Fatalf("resolve Good: %v", err)
	}
	if _, err := reg.Resolve(context.Background(), "Broken"); !xerrors.HasCode(err, CodeModuleLoadFailed) {
		t.Fatalf("expected load failure for Broken, got %v", err)
	}
}

func TestResolveReloadsOnMiss(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "capabilities.yaml")
	loads := 0
	loader := plugin.LoaderFunc(func(string) (plugin.Plugin, error) {
		loads++
		return stubPlugin{name: "Late"}, nil
	})
	reg := New(path, WithLoader(loader), WithResources(map[string]any{"tag": "!"}))
	if err := reg.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := reg.Resolve(context.Background(), "Late"); !xerrors.HasCode(err, CodeModuleNotFound) {
		t.Fatalf("expected MODULE_NOT_FOUND, got %v", err)
	}

	// A capability created after the initial load becomes resolvable.
	writeManifest(t, dir, map[string]plugin.Entry{"Late": {Enabled: true, Path: "late.so"}})
	factory, err := reg.Resolve(context.Background(), "Late")
	if err != nil {
		t.Fatalf("resolve after manifest update: %v", err)
	}
	if loads != 1 {
		t.Fatalf("expected exactly one load, got %d", loads)
	}
	handle, err := factory.New()
	if err != nil {
		t.Fatalf("new handle: %v", err)
	}
	out, err := handle.Invoke(context.Background(), "ping", nil)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out.String() != "pong!" {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestLoadCorruptManifestFallsBackToBuiltins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "capabilities.yaml")
	if err := os.WriteFile(path, []byte("capabilities: [not, a, map"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	reg := New(path, WithBuiltin(stubPlugin{name: "Calculator"}))
	if err := reg.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(reg.Catalog()) != 1 {
		t.Fatalf("expected builtin catalog, got %+v", reg.Catalog())
	}
	if len(reg.Diagnostics()) != 1 {
		t.Fatalf("expected manifest diagnostic, got %v", reg.Diagnostics())
	}
}
