package capabilities

import (
	"context"
	"fmt"

	"Stepwise-Agent/internal/llm"
	"Stepwise-Agent/pkg/plugin"
	"Stepwise-Agent/pkg/value"
)

// ResponseHandler talks to the operator: it displays results and errors and
// can ask the operator or the reasoning client for more input.
type ResponseHandler struct{}

const replanHint = " You should ALWAYS use the CreatePlan module following your use of this method so that you can adjust your plan as needed after getting more input."

// Descriptor implements plugin.Plugin.
func (ResponseHandler) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{
		Name:    "ResponseHandler",
		Purpose: "Handle user interaction and display formatted responses",
		Methods: []plugin.MethodDescriptor{
			{
				Name:        "displayResult",
				Description: "Displays a result to the user",
				Parameters: []plugin.ParamSpec{
					{Name: "result", Type: "any", Description: "The result to display"},
					{Name: "context", Type: "string", Description: "Optional context for the result"},
				},
				ReturnType:        "void",
				ReturnDescription: "No return value",
				Example:           `responseHandler.displayResult(42, "The answer is")`,
			},
			{
				Name:              "askUser",
				Description:       "Asks the user a question and returns their response." + replanHint,
				Parameters:        []plugin.ParamSpec{{Name: "question", Type: "string", Description: "The question to ask"}},
				ReturnType:        "string",
				ReturnDescription: "The user's response",
				Example:           `responseHandler.askUser("What is your name?")`,
			},
			{
				Name:              "askExpertOpinion",
				Description:       "Asks an LLM for an opinion. May help you to further examine your plan." + replanHint,
				Parameters:        []plugin.ParamSpec{{Name: "prompt", Type: "string", Description: "The prompt to ask"}},
				ReturnType:        "string",
				ReturnDescription: "The expert's opinion",
				Example:           `responseHandler.askExpertOpinion("What is the best way to accomplish this task?")`,
			},
			{
				Name:              "displayError",
				Description:       "Displays an error message to the user",
				Parameters:        []plugin.ParamSpec{{Name: "error", Type: "string", Description: "The error message to display"}},
				ReturnType:        "void",
				ReturnDescription: "No return value",
				Example:           `responseHandler.displayError("Something went wrong")`,
			},
		},
	}
}

// Permissions implements plugin.Plugin.
func (ResponseHandler) Permissions() []plugin.Permission { return nil }

// New implements plugin.Plugin.
func (ResponseHandler) New(env *plugin.Env) (plugin.Capability, error) {
	display, _ := plugin.Resource[Display](env, ResourceDisplay)
	prompter, _ := plugin.Resource[Prompter](env, ResourcePrompter)
	client, _ := plugin.Resource[llm.Client](env, ResourceReasoner)

	return plugin.Methods{
		"displayResult": func(_ context.Context, args []value.Value) (value.Value, error) {
			if err := plugin.Arity(args, 1, 2); err != nil {
				return value.Null(), err
			}
			if display == nil {
				return value.Null(), missingResource("ResponseHandler", ResourceDisplay)
			}
			display.Result(FormatResult(args[0], plugin.OptionalStringArg(args, 1, "")))
			return value.Null(), nil
		},
		"displayError": func(_ context.Context, args []value.Value) (value.Value, error) {
			if err := plugin.Arity(args, 1, 1); err != nil {
				return value.Null(), err
			}
			if display == nil {
				return value.Null(), missingResource("ResponseHandler", ResourceDisplay)
			}
			msg, _ := plugin.StringArg(args, 0)
			display.Error(msg)
			return value.Null(), nil
		},
		"askUser": func(ctx context.Context, args []value.Value) (value.Value, error) {
			if err := plugin.Arity(args, 1, 1); err != nil {
				return value.Null(), err
			}
			if prompter == nil {
				return value.Null(), missingResource("ResponseHandler", ResourcePrompter)
			}
			question, _ := plugin.StringArg(args, 0)
			answer, err := prompter.Ask(ctx, question)
			if err != nil {
				return value.Null(), err
			}
			return value.String(answer), nil
		},
		"askExpertOpinion": func(ctx context.Context, args []value.Value) (value.Value, error) {
			if err := plugin.Arity(args, 1, 1); err != nil {
				return value.Null(), err
			}
			if client == nil {
				return value.Null(), missingResource("ResponseHandler", ResourceReasoner)
			}
			subject, _ := plugin.StringArg(args, 0)
			resp, err := client.Generate(ctx, llm.Request{Prompt: ExpertPrompt(subject)})
			if err != nil {
				return value.Null(), err
			}
			if resp == nil {
				return value.String(""), nil
			}
			return value.String(resp.Content), nil
		},
	}, nil
}

// FormatResult renders a result line the way displayResult shows it.
func FormatResult(result value.Value, context string) string {
	if context != "" {
		return fmt.Sprintf("🤖 %s %s", context, result.String())
	}
	return fmt.Sprintf("🤖 Result %s", result.String())
}

// ExpertPrompt wraps subject matter in the expert-opinion prompt.
func ExpertPrompt(subject string) string {
	return fmt.Sprintf("You are an expert in this matter. Here is the subject matter: ```%s``` \n\n Provide an expert opinion on the subject matter in a concise manner.", subject)
}
