package capabilities

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"Stepwise-Agent/internal/llm"
	"Stepwise-Agent/pkg/plugin"
	"Stepwise-Agent/pkg/value"
)

// ErrNoSource is returned when the reasoning client's reply has no Go block.
var ErrNoSource = errors.New("failed to parse module content from response")

// Builder compiles a generated capability into a loadable object.
type Builder interface {
	Build(ctx context.Context, sourceDir, output string) error
}

// CommandBuilder runs an external build command inside the source directory,
// appending "-o <output> .".
type CommandBuilder struct {
	Command []string
	Env     []string
}

// DefaultBuildCommand builds a Go plugin.
var DefaultBuildCommand = []string{"go", "build", "-buildmode=plugin"}

// Build implements Builder.
func (b CommandBuilder) Build(ctx context.Context, sourceDir, output string) error {
	command := b.Command
	if len(command) == 0 {
		command = DefaultBuildCommand
	}
	args := append(append([]string{}, command[1:]...), "-o", output, ".")
	cmd := exec.CommandContext(ctx, command[0], args...)
	cmd.Dir = sourceDir
	if len(b.Env) > 0 {
		cmd.Env = append(os.Environ(), b.Env...)
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("build %s: %w: %s", sourceDir, err, strings.TrimSpace(out.String()))
	}
	return nil
}

// CreateModule asks the reasoning client for a new capability, compiles it
// and registers it in the manifest so the next catalog reload picks it up.
type CreateModule struct{}

// Descriptor implements plugin.Plugin.
func (CreateModule) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{
		Name:    "CreateModule",
		Purpose: "Create a new module that you can use in a later step",
		Methods: []plugin.MethodDescriptor{{
			Name:        "create",
			Description: "Create a new module with the desired name, purpose, and methods",
			Parameters: []plugin.ParamSpec{
				{Name: "name", Type: "string", Description: "The name of the module"},
				{Name: "purpose", Type: "string", Description: "The purpose of the module"},
				{Name: "methods", Type: "MethodInfo[]", Description: "The methods of the module, each with a name and description"},
			},
			ReturnType:        "string",
			ReturnDescription: "Where the module was created",
			Example:           `CreateModule.create("MyModule", "This is a module that does something", [{"name": "run", "description": "does it"}])`,
		}},
	}
}

// Permissions implements plugin.Plugin.
func (CreateModule) Permissions() []plugin.Permission {
	return []plugin.Permission{plugin.PermissionFilesystem, plugin.PermissionExecution}
}

// New implements plugin.Plugin.
func (CreateModule) New(env *plugin.Env) (plugin.Capability, error) {
	manifestPath, _ := plugin.Resource[string](env, ResourceManifest)
	manifestPath = env.ConfigString("manifest", manifestPath)
	builder, ok := plugin.Resource[Builder](env, ResourceBuilder)
	if !ok || builder == nil {
		builder = CommandBuilder{Command: strings.Fields(env.ConfigString("buildCommand", ""))}
	}
	client, _ := plugin.Resource[llm.Client](env, ResourceReasoner)

	creator := &moduleCreator{manifestPath: manifestPath, builder: builder, client: client}
	return plugin.Methods{"create": creator.create}, nil
}

type moduleCreator struct {
	manifestPath string
	builder      Builder
	client       llm.Client
}

var identPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

func (c *moduleCreator) create(ctx context.Context, args []value.Value) (value.Value, error) {
	if err := plugin.Arity(args, 2, 3); err != nil {
		return value.Null(), err
	}
	if c.client == nil {
		return value.Null(), missingResource("CreateModule", ResourceReasoner)
	}
	if c.manifestPath == "" {
		return value.Null(), missingResource("CreateModule", ResourceManifest)
	}
	name, _ := plugin.StringArg(args, 0)
	purpose, _ := plugin.StringArg(args, 1)
	if !identPattern.MatchString(name) {
		return value.Null(), fmt.Errorf("invalid module name %q", name)
	}
	var methods []plugin.MethodDescriptor
	if len(args) > 2 {
		methods = MethodsFromValue(args[2])
	}

	resp, err := c.client.Generate(ctx, llm.Request{Prompt: ModulePrompt(name, purpose, methods)})
	if err != nil {
		return value.Null(), err
	}
	if resp == nil {
		return value.Null(), ErrNoSource
	}
	source, ok := ExtractGoSource(resp.Content)
	if !ok {
		return value.Null(), ErrNoSource
	}

	manifest, err := plugin.LoadManifest(c.manifestPath)
	if err != nil {
		return value.Null(), err
	}
	dir := manifest.Dir()
	if dir == "" {
		dir = filepath.Dir(c.manifestPath)
	}
	srcDir := filepath.Join(dir, name)
	if err := os.MkdirAll(srcDir, 0o755); err != nil {
		return value.Null(), fmt.Errorf("create module dir: %w", err)
	}
	sourcePath := filepath.Join(srcDir, name+".go")
	if err := os.WriteFile(sourcePath, []byte(source+"\n"), 0o644); err != nil {
		return value.Null(), fmt.Errorf("write module source: %w", err)
	}

	entry := plugin.Entry{Enabled: true, Path: filepath.Join(name, name+".so")}
	if len(methods) > 0 {
		descriptor := plugin.Descriptor{Name: name, Purpose: purpose, Methods: methods}
		if err := plugin.WriteDescriptor(filepath.Join(srcDir, name+".yaml"), descriptor); err != nil {
			return value.Null(), err
		}
		entry.Descriptor = filepath.Join(name, name+".yaml")
	}

	if err := c.builder.Build(ctx, srcDir, filepath.Join(srcDir, name+".so")); err != nil {
		return value.Null(), err
	}

	manifest.Upsert(name, entry)
	if err := plugin.SaveManifest(c.manifestPath, manifest); err != nil {
		return value.Null(), err
	}
	return value.String(fmt.Sprintf("Module %s created successfully at %s", name, sourcePath)), nil
}

// MethodsFromValue reads method descriptions given either as strings or as
// maps with name and description keys.
func MethodsFromValue(v value.Value) []plugin.MethodDescriptor {
	var out []plugin.MethodDescriptor
	for _, item := range v.Items() {
		if s, ok := item.AsString(); ok {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, plugin.MethodDescriptor{Name: s, Description: s})
			}
			continue
		}
		nameVal, ok := item.Get("name")
		if !ok {
			continue
		}
		name, _ := nameVal.AsString()
		if strings.TrimSpace(name) == "" {
			continue
		}
		desc := name
		if d, ok := item.Get("description"); ok {
			if s, ok := d.AsString(); ok && s != "" {
				desc = s
			}
		}
		out = append(out, plugin.MethodDescriptor{Name: name, Description: desc})
	}
	return out
}

var goFence = regexp.MustCompile("(?s)```go\\s*(.*?)\\s*```")

// ExtractGoSource returns the first fenced Go block of a reply.
func ExtractGoSource(reply string) (string, bool) {
	m := goFence.FindStringSubmatch(reply)
	if m == nil || strings.TrimSpace(m[1]) == "" {
		return "", false
	}
	return m[1], true
}

// ModulePrompt asks for the Go source of a capability plugin.
func ModulePrompt(name, purpose string, methods []plugin.MethodDescriptor) string {
	listed := "You can create whatever methods you think are necessary to accomplish the purpose of the module."
	if len(methods) > 0 {
		parts := make([]string, len(methods))
		for i, m := range methods {
			parts[i] = m.Name + ": " + m.Description
		}
		listed = strings.Join(parts, ", ")
	}

	var b strings.Builder
	b.WriteString("Create a new module with the following name, purpose, and methods:\n")
	fmt.Fprintf(&b, "Name: %s\nPurpose: %s\nMethods: %s\n\n", name, purpose, listed)
	b.WriteString("Return the code for the module, do not include any other text or comments. You should fill out each method with complete code.\n")
	b.WriteString("It should be a valid Go file, built with -buildmode=plugin, in this format:\n")
	b.WriteString("```go\n")
	fmt.Fprintf(&b, moduleTemplate, name, purpose)
	b.WriteString("```\n")
	return b.String()
}

const moduleTemplate = `package main

import (
	"context"

	"Stepwise-Agent/pkg/plugin"
	"Stepwise-Agent/pkg/value"
)

type module struct{}

func (module) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{
		Name:    %q,
		Purpose: %q,
		// ADD METHODS HERE: []plugin.MethodDescriptor{{Name, Description, Parameters: []plugin.ParamSpec{{Name, Type, Description}}, ReturnType, ReturnDescription, Example}}
	}
}

func (module) Permissions() []plugin.Permission { return nil }

func (module) New(env *plugin.Env) (plugin.Capability, error) {
	return plugin.Methods{
		// ADD METHODS TO ACCOMPLISH PURPOSE: "name": func(ctx context.Context, args []value.Value) (value.Value, error) { ... }
	}, nil
}

// Plugin is the symbol the host loader looks up.
var Plugin module
`
