package capabilities

import (
	"context"

	"Stepwise-Agent/pkg/plugin"
	"Stepwise-Agent/pkg/value"
)

// CreatePlan lets a running plan ask for a fresh plan, typically after
// gathering more input from the operator or an expert.
type CreatePlan struct{}

// Descriptor implements plugin.Plugin.
func (CreatePlan) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{
		Name:    "CreatePlan",
		Purpose: "Create a plan to handle new instructions such as new input from the user or from an expert",
		Methods: []plugin.MethodDescriptor{{
			Name:        "createPlan",
			Description: "Create a plan to handle instructions",
			Parameters: []plugin.ParamSpec{{
				Name: "instructions",
				Type: "string",
				Description: "The instructions to handle along with all the context. Form a good prompt that will help the LLM understand what is being asked, including a return format. " +
					"Any previous step's result can be added as a parameter in this form: $stepX where X is the step number. " +
					`For example a short prompt would be: "The user wants to know the weather in Tokyo, we asked them for a date and they said: $step1".`,
			}},
			ReturnType:        "Plan",
			ReturnDescription: "The plan to handle the instructions",
			Example:           `CreatePlan.createPlan("Add two numbers and show the result") // returns a plan`,
		}},
	}
}

// Permissions implements plugin.Plugin.
func (CreatePlan) Permissions() []plugin.Permission { return nil }

// New implements plugin.Plugin.
func (CreatePlan) New(env *plugin.Env) (plugin.Capability, error) {
	planner, _ := plugin.Resource[Planner](env, ResourcePlanner)
	catalog, _ := plugin.Resource[Catalog](env, ResourceCatalog)

	return plugin.Methods{
		"createPlan": func(ctx context.Context, args []value.Value) (value.Value, error) {
			if err := plugin.Arity(args, 1, 2); err != nil {
				return value.Null(), err
			}
			if planner == nil {
				return value.Null(), missingResource("CreatePlan", ResourcePlanner)
			}
			instructions, _ := plugin.StringArg(args, 0)
			var descriptors []plugin.Descriptor
			if catalog != nil {
				descriptors = catalog.Catalog()
			}
			p, err := planner.Generate(ctx, instructions, descriptors)
			if err != nil {
				return value.Null(), err
			}
			return p.ToValue(), nil
		},
	}, nil
}
