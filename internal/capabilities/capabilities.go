// Package capabilities holds the capability units compiled into the agent.
// Host services reach them through plugin.Env resources keyed by the
// Resource* constants.
package capabilities

import (
	"context"
	"fmt"

	"Stepwise-Agent/internal/plan"
	"Stepwise-Agent/pkg/plugin"
)

// Resource keys understood by the builtin capabilities.
const (
	ResourcePrompter   = "prompter"
	ResourceDisplay    = "display"
	ResourceReasoner   = "llm"
	ResourcePlanner    = "planner"
	ResourceCatalog    = "catalog"
	ResourceManifest   = "manifestPath"
	ResourceBuilder    = "builder"
	ResourceHTTPClient = "httpClient"
)

// Prompter asks the operator a question and waits for the answer.
type Prompter interface {
	Ask(ctx context.Context, question string) (string, error)
}

// Display renders messages for the operator.
type Display interface {
	Result(text string)
	Error(message string)
	Success(message string)
}

// Planner produces a plan for instructions against a catalog.
type Planner interface {
	Generate(ctx context.Context, instructions string, catalog []plugin.Descriptor) (*plan.Plan, error)
}

// Catalog lists the currently registered capabilities.
type Catalog interface {
	Catalog() []plugin.Descriptor
}

// Builtins returns every capability compiled into the binary.
func Builtins() []plugin.Plugin {
	return []plugin.Plugin{
		Calculator{},
		ResponseHandler{},
		FileManager{},
		CreatePlan{},
		CreateModule{},
		WebReader{},
	}
}

func missingResource(capability, key string) error {
	return fmt.Errorf("%s: host resource %q is not available", capability, key)
}
