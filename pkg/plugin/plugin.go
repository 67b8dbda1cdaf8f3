package plugin

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"Stepwise-Agent/pkg/value"
)

// Capability is a live handle able to run the methods its descriptor lists.
// Handles are created per invocation and never shared.
type Capability interface {
	Invoke(ctx context.Context, method string, args []value.Value) (value.Value, error)
}

// Plugin is one capability unit: its metadata plus a constructor.
type Plugin interface {
	// Descriptor returns the static metadata of the unit.
	Descriptor() Descriptor
	// Permissions lists host access the unit needs.
	Permissions() []Permission
	// New builds a fresh handle. It is called once per step.
	New(env *Env) (Capability, error)
}

// Env is passed to every constructor call.
type Env struct {
	// Config is the unit's configuration block from the manifest.
	Config map[string]any
	// Resources exposes host services (prompter, display, reasoning client...).
	Resources map[string]any
}

// Clone returns a shallow copy so constructors can mutate the maps safely.
func (e *Env) Clone() *Env {
	if e == nil {
		return &Env{}
	}
	dup := &Env{}
	if e.Config != nil {
		dup.Config = make(map[string]any, len(e.Config))
		for k, v := range e.Config {
			dup.Config[k] = v
		}
	}
	if e.Resources != nil {
		dup.Resources = make(map[string]any, len(e.Resources))
		for k, v := range e.Resources {
			dup.Resources[k] = v
		}
	}
	return dup
}

// ConfigString returns a string config value or fallback.
func (e *Env) ConfigString(key, fallback string) string {
	if e == nil {
		return fallback
	}
	if raw, ok := e.Config[key].(string); ok && raw != "" {
		return raw
	}
	return fallback
}

// Resource fetches a host resource and asserts its type.
func Resource[T any](env *Env, key string) (T, bool) {
	var zero T
	if env == nil || env.Resources == nil {
		return zero, false
	}
	typed, ok := env.Resources[key].(T)
	return typed, ok
}

// ErrUnknownMethod is returned for methods a capability does not implement.
var ErrUnknownMethod = errors.New("unknown method")

// MethodFunc implements one capability method.
type MethodFunc func(ctx context.Context, args []value.Value) (value.Value, error)

// Methods is a name-indexed dispatch table implementing Capability.
type Methods map[string]MethodFunc

// Invoke implements Capability.
func (m Methods) Invoke(ctx context.Context, method string, args []value.Value) (value.Value, error) {
	fn, ok := m[method]
	if !ok {
		return value.Null(), fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}
	return fn(ctx, args)
}

// Arity checks the argument count is within [min, max]. max < 0 means unbounded.
func Arity(args []value.Value, min, max int) error {
	if len(args) < min || (max >= 0 && len(args) > max) {
		if min == max {
			return fmt.Errorf("expected %d argument(s), got %d", min, len(args))
		}
		return fmt.Errorf("expected %d..%d arguments, got %d", min, max, len(args))
	}
	return nil
}

// NumberArg reads args[i] as a number. Numeric strings are accepted because
// planners often quote numbers.
func NumberArg(args []value.Value, i int) (float64, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("argument %d is missing", i+1)
	}
	if n, ok := args[i].AsNumber(); ok {
		return n, nil
	}
	if s, ok := args[i].AsString(); ok {
		n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err == nil {
			return n, nil
		}
	}
	return 0, fmt.Errorf("argument %d: expected number, got %s %q", i+1, args[i].Kind(), args[i].String())
}

// StringArg reads args[i] as text; non-string values use their display form.
func StringArg(args []value.Value, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("argument %d is missing", i+1)
	}
	if s, ok := args[i].AsString(); ok {
		return s, nil
	}
	return args[i].String(), nil
}

// OptionalStringArg is StringArg with a fallback for absent or null arguments.
func OptionalStringArg(args []value.Value, i int, fallback string) string {
	if i >= len(args) || args[i].IsNull() {
		return fallback
	}
	s, _ := StringArg(args, i)
	return s
}
