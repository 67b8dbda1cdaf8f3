package plugin

import (
	"errors"
	"fmt"
	"strings"
)

// Permission expresses host access a capability unit asks for.
type Permission string

const (
	PermissionFilesystem Permission = "filesystem"
	PermissionNetwork    Permission = "network"
	PermissionExecution  Permission = "execution"
)

// ParamSpec documents one method parameter.
type ParamSpec struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Description string `json:"description" yaml:"description"`
}

// MethodDescriptor documents one invocable method of a capability.
type MethodDescriptor struct {
	Name              string      `json:"name" yaml:"name"`
	Description       string      `json:"description" yaml:"description"`
	Parameters        []ParamSpec `json:"parameters" yaml:"parameters"`
	ReturnType        string      `json:"returnType" yaml:"returnType"`
	ReturnDescription string      `json:"returnDescription" yaml:"returnDescription"`
	Example           string      `json:"example" yaml:"example"`
}

// Descriptor is the read-only metadata a capability unit declares about
// itself. It is what the planner sees; it never executes anything.
type Descriptor struct {
	Name    string             `json:"name" yaml:"name"`
	Purpose string             `json:"purpose" yaml:"purpose"`
	Methods []MethodDescriptor `json:"methods" yaml:"methods"`
}

// ErrInvalidDescriptor marks descriptors that cannot be catalogued.
var ErrInvalidDescriptor = errors.New("invalid capability descriptor")

// Validate checks the descriptor is complete enough to be catalogued.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidDescriptor)
	}
	if strings.TrimSpace(d.Purpose) == "" {
		return fmt.Errorf("%w: %s has no purpose", ErrInvalidDescriptor, d.Name)
	}
	if len(d.Methods) == 0 {
		return fmt.Errorf("%w: %s declares no methods", ErrInvalidDescriptor, d.Name)
	}
	seen := make(map[string]struct{}, len(d.Methods))
	for i, method := range d.Methods {
		if strings.TrimSpace(method.Name) == "" {
			return fmt.Errorf("%w: %s method %d has no name", ErrInvalidDescriptor, d.Name, i)
		}
		if _, dup := seen[method.Name]; dup {
			return fmt.Errorf("%w: %s declares %s twice", ErrInvalidDescriptor, d.Name, method.Name)
		}
		seen[method.Name] = struct{}{}
	}
	return nil
}

// Method finds a method descriptor by name.
func (d Descriptor) Method(name string) (MethodDescriptor, bool) {
	for _, method := range d.Methods {
		if method.Name == name {
			return method, true
		}
	}
	return MethodDescriptor{}, false
}

// Clone returns a deep copy.
func (d Descriptor) Clone() Descriptor {
	out := d
	out.Methods = make([]MethodDescriptor, len(d.Methods))
	for i, method := range d.Methods {
		method.Parameters = append([]ParamSpec(nil), method.Parameters...)
		out.Methods[i] = method
	}
	return out
}
