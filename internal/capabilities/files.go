package capabilities

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"Stepwise-Agent/pkg/plugin"
	"Stepwise-Agent/pkg/value"
)

// FileManager reads and writes files. Relative paths resolve against the
// "root" config value when set, else the working directory.
type FileManager struct{}

// Descriptor implements plugin.Plugin.
func (FileManager) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{
		Name:    "FileManager",
		Purpose: "Handles file system operations like reading and writing files",
		Methods: []plugin.MethodDescriptor{
			{
				Name:              "readFile",
				Description:       "Reads the contents of a file",
				Parameters:        []plugin.ParamSpec{{Name: "filePath", Type: "string", Description: "Path to the file to read"}},
				ReturnType:        "string",
				ReturnDescription: "The contents of the file",
				Example:           `FileManager.readFile("path/to/file.txt")`,
			},
			{
				Name:        "writeFile",
				Description: "Writes content to a file",
				Parameters: []plugin.ParamSpec{
					{Name: "filePath", Type: "string", Description: "Path to the file to write"},
					{Name: "content", Type: "string", Description: "Content to write to the file"},
				},
				ReturnType:        "void",
				ReturnDescription: "Nothing",
				Example:           `FileManager.writeFile("path/to/file.txt", "Hello World!")`,
			},
		},
	}
}

// Permissions implements plugin.Plugin.
func (FileManager) Permissions() []plugin.Permission {
	return []plugin.Permission{plugin.PermissionFilesystem}
}

// New implements plugin.Plugin.
func (FileManager) New(env *plugin.Env) (plugin.Capability, error) {
	root := env.ConfigString("root", "")
	resolve := func(path string) string {
		if root == "" || filepath.IsAbs(path) {
			return path
		}
		return filepath.Join(root, path)
	}

	return plugin.Methods{
		"readFile": func(_ context.Context, args []value.Value) (value.Value, error) {
			if err := plugin.Arity(args, 1, 1); err != nil {
				return value.Null(), err
			}
			path, _ := plugin.StringArg(args, 0)
			raw, err := os.ReadFile(resolve(path))
			if err != nil {
				return value.Null(), fmt.Errorf("failed to read file %s: %w", path, err)
			}
			return value.String(string(raw)), nil
		},
		"writeFile": func(_ context.Context, args []value.Value) (value.Value, error) {
			if err := plugin.Arity(args, 2, 2); err != nil {
				return value.Null(), err
			}
			path, _ := plugin.StringArg(args, 0)
			content, _ := plugin.StringArg(args, 1)
			target := resolve(path)
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return value.Null(), fmt.Errorf("failed to write file %s: %w", path, err)
			}
			if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
				return value.Null(), fmt.Errorf("failed to write file %s: %w", path, err)
			}
			return value.Null(), nil
		},
	}, nil
}
