package plan

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "Stepwise-Agent/internal/errors"
	"Stepwise-Agent/internal/llm"
	"Stepwise-Agent/pkg/plugin"
)

const sumPlan = `{
  "goal": "Add two numbers and display result",
  "steps": [
    {"description": "Add 2 and 3", "action": {"moduleName": "Calculator", "methodName": "add", "parameters": [2, 3], "stepNumber": 1}},
    {"description": "Display", "action": {"moduleName": "ResponseHandler", "methodName": "displayResult", "parameters": ["$step1", "Sum is"], "stepNumber": 2}}
  ]
}`

func fixedClient(content string, err error) llm.Client {
	return llm.ClientFunc(func(context.Context, llm.Request) (*llm.Response, error) {
		if err != nil {
			return nil, err
		}
		return &llm.Response{Content: content}, nil
	})
}

func TestRecoverJSON(t *testing.T) {
	cases := map[string]struct {
		in   string
		want string
	}{
		"json fence":       {"Here you go:\n```json\n{\"a\":1}\n```\nthanks", `{"a":1}`},
		"bare fence":       {"```\n{\"a\":2}\n```", `{"a":2}`},
		"first fence wins": {"```json\n{\"a\":1}\n```\n```json\n{\"a\":2}\n```", `{"a":1}`},
		"braces":           {"Sure! {\"a\": {\"b\": 1}} hope that helps", `{"a": {"b": 1}}`},
		"prose":            {"  I cannot help with that.  ", "I cannot help with that."},
	}
	for name, tc := range cases {
		assert.Equal(t, tc.want, RecoverJSON(tc.in), name)
	}
}

func TestGenerateSumScenario(t *testing.T) {
	var prompt string
	client := llm.ClientFunc(func(_ context.Context, req llm.Request) (*llm.Response, error) {
		prompt = req.Prompt
		return &llm.Response{Content: "```json\n" + sumPlan + "\n```"}, nil
	})
	catalog := []plugin.Descriptor{{
		Name:    "Calculator",
		Purpose: "Perform basic arithmetic",
		Methods: []plugin.MethodDescriptor{{Name: "add", Description: "Add two numbers", Example: "Calculator.add(1, 2)"}},
	}}

	p, err := NewGenerator(client).Generate(context.Background(), "add 2 and 3 and show it", catalog)
	require.NoError(t, err)
	assert.Equal(t, "Add two numbers and display result", p.Goal)
	require.Len(t, p.Steps, 2)
	assert.Equal(t, "Calculator.add(2, 3)", p.Steps[0].Action.Call())
	n, ok := ParseReference(p.Steps[1].Action.Parameters[0])
	require.True(t, ok)
	assert.Equal(t, 1, n)

	assert.Contains(t, prompt, "- Calculator: Perform basic arithmetic")
	assert.Contains(t, prompt, "add - Add two numbers. Example usage: Calculator.add(1, 2)")
	assert.Contains(t, prompt, `"add 2 and 3 and show it"`)
	assert.Contains(t, prompt, "$stepX")
}

func TestGenerateEmptyCatalogPrompt(t *testing.T) {
	assert.Contains(t, BuildPrompt("x", nil), "I currently have no additional capabilities installed.")
}

type staticHints []string

func (h staticHints) Lookup(string) []string { return h }

func TestGenerateIncludesHints(t *testing.T) {
	var prompt string
	client := llm.ClientFunc(func(_ context.Context, req llm.Request) (*llm.Response, error) {
		prompt = req.Prompt
		return &llm.Response{Content: `{"goal": "g", "steps": [{"description": "d", "action": null}]}`}, nil
	})

	_, err := NewGenerator(client, WithHints(staticHints{"Use Calculator for arithmetic."})).Generate(context.Background(), "add", nil)
	require.NoError(t, err)
	assert.Contains(t, prompt, "Keep these notes in mind:\n- Use Calculator for arithmetic.")
	assert.NotContains(t, BuildPrompt("add", nil), "Keep these notes in mind")
}

func TestGenerateFailsOnProse(t *testing.T) {
	_, err := NewGenerator(fixedClient("I am not sure what you mean.", nil)).Generate(context.Background(), "x", nil)
	require.Error(t, err)
	assert.True(t, xerrors.HasCode(err, CodeGenerationFailed))
}

func TestGenerateFailsOnInvalidPlan(t *testing.T) {
	_, err := NewGenerator(fixedClient(`{"goal": "", "steps": []}`, nil)).Generate(context.Background(), "x", nil)
	require.Error(t, err)
	assert.True(t, xerrors.HasCode(err, CodeGenerationFailed))
	assert.True(t, errors.Is(err, ErrInvalidPlan))
}

func TestGenerateWrapsClientError(t *testing.T) {
	cause := errors.New("connection refused")
	_, err := NewGenerator(fixedClient("", cause)).Generate(context.Background(), "x", nil)
	require.Error(t, err)
	assert.True(t, xerrors.HasCode(err, CodeGenerationFailed))
	assert.True(t, errors.Is(err, cause))
	assert.True(t, strings.Contains(err.Error(), "Failed to create execution plan"))
}

func TestGenerateAppliesTimeout(t *testing.T) {
	client := llm.ClientFunc(func(ctx context.Context, _ llm.Request) (*llm.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	_, err := NewGenerator(client, WithTimeout(10*time.Millisecond)).Generate(context.Background(), "x", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
