// Package plan holds the flat step sequence produced for one run and the
// generator that asks a reasoning client to produce it.
package plan

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"Stepwise-Agent/pkg/value"
)

// Plan is an ordered list of steps aimed at a goal. It is immutable once
// generated.
type Plan struct {
	Goal  string `json:"goal"`
	Steps []Step `json:"steps"`
}

// Step is one unit of a plan. A step without an action is narrative only.
type Step struct {
	Description string  `json:"description"`
	Action      *Action `json:"action,omitempty"`
}

// Action is a concrete capability invocation.
type Action struct {
	ModuleName string        `json:"moduleName"`
	MethodName string        `json:"methodName"`
	Parameters []value.Value `json:"parameters"`
	StepNumber int           `json:"stepNumber"`
}

// ErrInvalidPlan marks structural validation failures.
var ErrInvalidPlan = errors.New("invalid plan")

// ReferencePrefix starts a back-reference token such as "$step1".
const ReferencePrefix = "$step"

// ParseReference reports whether v is a back-reference token and the step
// number it names. Only a string that is exactly the prefix followed by a
// positive decimal integer qualifies.
func ParseReference(v value.Value) (int, bool) {
	s, ok := v.AsString()
	if !ok || !strings.HasPrefix(s, ReferencePrefix) {
		return 0, false
	}
	digits := s[len(ReferencePrefix):]
	if digits == "" {
		return 0, false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// Reference builds the token naming step n.
func Reference(n int) value.Value {
	return value.String(ReferencePrefix + strconv.Itoa(n))
}

// References lists the step numbers an action refers back to, in parameter order.
func (a *Action) References() []int {
	if a == nil {
		return nil
	}
	var refs []int
	for _, p := range a.Parameters {
		if n, ok := ParseReference(p); ok {
			refs = append(refs, n)
		}
	}
	return refs
}

// Call renders the action as Module.method(p1, p2).
func (a *Action) Call() string {
	if a == nil {
		return ""
	}
	return fmt.Sprintf("%s.%s(%s)", a.ModuleName, a.MethodName, value.Join(a.Parameters, ", "))
}

// Validate checks the structural invariants of a plan.
func (p *Plan) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: plan is nil", ErrInvalidPlan)
	}
	if strings.TrimSpace(p.Goal) == "" {
		return fmt.Errorf("%w: goal is empty", ErrInvalidPlan)
	}
	last := 0
	for i, step := range p.Steps {
		if strings.TrimSpace(step.Description) == "" {
			return fmt.Errorf("%w: step %d has no description", ErrInvalidPlan, i+1)
		}
		action := step.Action
		if action == nil {
			continue
		}
		if strings.TrimSpace(action.ModuleName) == "" || strings.TrimSpace(action.MethodName) == "" {
			return fmt.Errorf("%w: step %d action needs moduleName and methodName", ErrInvalidPlan, i+1)
		}
		if action.StepNumber <= 0 {
			return fmt.Errorf("%w: step %d has non-positive stepNumber %d", ErrInvalidPlan, i+1, action.StepNumber)
		}
		if action.StepNumber <= last {
			return fmt.Errorf("%w: step %d stepNumber %d does not follow %d", ErrInvalidPlan, i+1, action.StepNumber, last)
		}
		for _, ref := range action.References() {
			if ref >= action.StepNumber {
				return fmt.Errorf("%w: step %d references step %d which has not run yet", ErrInvalidPlan, action.StepNumber, ref)
			}
		}
		last = action.StepNumber
	}
	return nil
}

// Describe renders the journal lines announcing the plan.
func (p *Plan) Describe() []string {
	lines := make([]string, 0, len(p.Steps)*2)
	for i, step := range p.Steps {
		lines = append(lines, fmt.Sprintf("📝 Step %d: %s", i+1, step.Description))
		if step.Action != nil {
			lines = append(lines, fmt.Sprintf("📝 Step %d:   Action: %s", i+1, step.Action.Call()))
		}
	}
	return lines
}

// ToValue converts the plan to a tagged value with the wire field names.
func (p *Plan) ToValue() value.Value {
	steps := make([]value.Value, len(p.Steps))
	for i, step := range p.Steps {
		entries := []value.Entry{{Key: "description", Value: value.String(step.Description)}}
		if step.Action != nil {
			entries = append(entries, value.Entry{Key: "action", Value: value.Map(
				value.Entry{Key: "moduleName", Value: value.String(step.Action.ModuleName)},
				value.Entry{Key: "methodName", Value: value.String(step.Action.MethodName)},
				value.Entry{Key: "parameters", Value: value.List(step.Action.Parameters...)},
				value.Entry{Key: "stepNumber", Value: value.Number(float64(step.Action.StepNumber))},
			)})
		}
		steps[i] = value.Map(entries...)
	}
	return value.Map(
		value.Entry{Key: "goal", Value: value.String(p.Goal)},
		value.Entry{Key: "steps", Value: value.List(steps...)},
	)
}
