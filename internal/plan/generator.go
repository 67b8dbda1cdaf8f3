package plan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	xerrors "Stepwise-Agent/internal/errors"
	"Stepwise-Agent/internal/llm"
	"Stepwise-Agent/pkg/plugin"
)

// CodeGenerationFailed marks a run whose plan could not be produced.
const CodeGenerationFailed xerrors.Code = "PLAN_GENERATION_FAILED"

func init() {
	xerrors.Register(CodeGenerationFailed, xerrors.Attributes{Message: "Failed to create execution plan", Severity: xerrors.SeverityWarning})
}

// Generator turns instructions plus a capability catalog into a Plan.
type Generator struct {
	client      llm.Client
	temperature float64
	timeout     time.Duration
	hints       Hints
}

// Hints supplies extra planning notes relevant to an instruction.
type Hints interface {
	Lookup(instructions string) []string
}

// GeneratorOption customises a Generator.
type GeneratorOption func(*Generator)

// WithTemperature sets the sampling temperature. The default is 0.
func WithTemperature(t float64) GeneratorOption {
	return func(g *Generator) { g.temperature = t }
}

// WithTimeout bounds each reasoning call. Zero disables the bound.
func WithTimeout(d time.Duration) GeneratorOption {
	return func(g *Generator) {
		if d < 0 {
			d = 0
		}
		g.timeout = d
	}
}

// WithHints appends matching notes from h to every planning prompt.
func WithHints(h Hints) GeneratorOption {
	return func(g *Generator) { g.hints = h }
}

// NewGenerator builds a generator backed by client.
func NewGenerator(client llm.Client, opts ...GeneratorOption) *Generator {
	g := &Generator{client: client}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Generate asks the reasoning client for a plan. It never returns a partial
// plan: any failure is reported as PLAN_GENERATION_FAILED.
func (g *Generator) Generate(ctx context.Context, instructions string, catalog []plugin.Descriptor) (*Plan, error) {
	if g.client == nil {
		return nil, xerrors.New(CodeGenerationFailed, "no reasoning client configured")
	}
	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	var hints []string
	if g.hints != nil {
		hints = g.hints.Lookup(instructions)
	}
	resp, err := g.client.Generate(callCtx, llm.Request{
		Prompt:      BuildPrompt(instructions, catalog, hints...),
		Temperature: g.temperature,
	})
	if err != nil {
		return nil, xerrors.Wrap(CodeGenerationFailed, err, "")
	}
	if resp == nil {
		return nil, xerrors.New(CodeGenerationFailed, "")
	}
	p, err := Decode(resp.Content)
	if err != nil {
		return nil, xerrors.Wrap(CodeGenerationFailed, err, "")
	}
	return p, nil
}

// Decode recovers JSON from a raw model response, decodes it and validates
// the resulting plan.
func Decode(raw string) (*Plan, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(RecoverJSON(raw))))
	var p Plan
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

var fencePattern = regexp.MustCompile("(?s)```(?:json)?\\n(.*?)\\n```")

// RecoverJSON extracts the structured part of a model response: the first
// fenced block when the text has a fence, otherwise the span from the first
// '{' to the last '}', otherwise the trimmed text.
func RecoverJSON(raw string) string {
	if strings.Contains(raw, "```") {
		if m := fencePattern.FindStringSubmatch(raw); m != nil {
			return strings.TrimSpace(m[1])
		}
		return strings.TrimSpace(raw)
	}
	if first := strings.Index(raw, "{"); first >= 0 {
		last := strings.LastIndex(raw, "}")
		if last < first {
			return strings.TrimSpace(raw[first:])
		}
		return strings.TrimSpace(raw[first : last+1])
	}
	return strings.TrimSpace(raw)
}

// BuildPrompt renders the planning prompt for instructions and catalog.
// Hints, when present, are listed just before the example plan.
func BuildPrompt(instructions string, catalog []plugin.Descriptor, hints ...string) string {
	var b strings.Builder
	b.WriteString("As an AI agent with the following capabilities:\n\n")
	b.WriteString(DescribeCatalog(catalog))
	b.WriteString("\n\nI need to create a plan to handle these instructions:\n")
	fmt.Fprintf(&b, "\"%s\"\n\n", instructions)
	b.WriteString("Create a plan that uses existing modules. You can reference results from previous steps using $stepX where X is the step number.\n\n")
	if len(hints) > 0 {
		b.WriteString("Keep these notes in mind:\n")
		for _, h := range hints {
			fmt.Fprintf(&b, "- %s\n", h)
		}
		b.WriteString("\n")
	}
	b.WriteString("For example:\n")
	b.WriteString(examplePlan)
	return b.String()
}

// DescribeCatalog lists capabilities with their methods and usage examples.
func DescribeCatalog(catalog []plugin.Descriptor) string {
	if len(catalog) == 0 {
		return "I currently have no additional capabilities installed."
	}
	blocks := make([]string, 0, len(catalog))
	for _, d := range catalog {
		methods := make([]string, 0, len(d.Methods))
		for _, m := range d.Methods {
			methods = append(methods, fmt.Sprintf("\n%s - %s. Example usage: %s\n", m.Name, m.Description, m.Example))
		}
		blocks = append(blocks, fmt.Sprintf("\n- %s: %s\nMethods: %s", d.Name, d.Purpose, strings.Join(methods, ", ")))
	}
	return strings.Join(blocks, "\n")
}

const examplePlan = `{
    "goal": "Add two numbers and show the result",
    "steps": [
        {
            "description": "Calculate 2 + 2",
            "action": {
                "moduleName": "Calculator",
                "methodName": "add",
                "parameters": [2, 2],
                "stepNumber": 1
            }
        },
        {
            "description": "Show the calculation result",
            "action": {
                "moduleName": "ResponseHandler",
                "methodName": "displayResult",
                "parameters": ["$step1", "The sum is"],
                "stepNumber": 2
            }
        }
    ]
}`
