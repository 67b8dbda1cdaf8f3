package executor

import (
	"bytes"
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Stepwise-Agent/internal/capability"
	xerrors "Stepwise-Agent/internal/errors"
	"Stepwise-Agent/internal/observability/metrics"
	"Stepwise-Agent/internal/plan"
	"Stepwise-Agent/internal/result"
	"Stepwise-Agent/pkg/logger"
	"Stepwise-Agent/pkg/plugin"
	"Stepwise-Agent/pkg/value"
)

// funcPlugin exposes a fixed method table and counts constructions.
type funcPlugin struct {
	name    string
	methods plugin.Methods
	built   *int
}

func (p funcPlugin) Descriptor() plugin.Descriptor {
	d := plugin.Descriptor{Name: p.name, Purpose: "test " + p.name}
	for name := range p.methods {
		d.Methods = append(d.Methods, plugin.MethodDescriptor{Name: name, Description: name})
	}
	return d
}

func (funcPlugin) Permissions() []plugin.Permission { return nil }

func (p funcPlugin) New(*plugin.Env) (plugin.Capability, error) {
	if p.built != nil {
		*p.built++
	}
	return p.methods, nil
}

type recorder struct {
	calls [][]value.Value
}

func (r *recorder) method(out value.Value) plugin.MethodFunc {
	return func(_ context.Context, args []value.Value) (value.Value, error) {
		r.calls = append(r.calls, args)
		return out, nil
	}
}

func newRegistry(t *testing.T, plugins ...plugin.Plugin) *capability.Registry {
	t.Helper()
	reg := capability.New(filepath.Join(t.TempDir(), "capabilities.yaml"), capability.WithBuiltin(plugins...))
	require.NoError(t, reg.Load(context.Background()))
	return reg
}

func calculator(built *int) plugin.Plugin {
	return funcPlugin{name: "Calculator", built: built, methods: plugin.Methods{
		"add": func(_ context.Context, args []value.Value) (value.Value, error) {
			a, err := plugin.NumberArg(args, 0)
			if err != nil {
				return value.Null(), err
			}
			b, err := plugin.NumberArg(args, 1)
			if err != nil {
				return value.Null(), err
			}
			return value.Number(a + b), nil
		},
	}}
}

func act(module, method string, step int, params ...value.Value) *plan.Action {
	return &plan.Action{ModuleName: module, MethodName: method, StepNumber: step, Parameters: params}
}

func TestExecuteSumAndDisplay(t *testing.T) {
	display := &recorder{}
	built := 0
	reg := newRegistry(t,
		calculator(&built),
		funcPlugin{name: "ResponseHandler", built: &built, methods: plugin.Methods{"displayResult": display.method(value.Bool(true))}},
	)
	var journal bytes.Buffer
	collector := metrics.New()
	exec := New(reg, WithJournal(logger.NewJournal(&journal)), WithMetrics(collector))

	p := &plan.Plan{Goal: "Add two numbers and display result", Steps: []plan.Step{
		{Description: "Add", Action: act("Calculator", "add", 1, value.Number(2), value.Number(3))},
		{Description: "Display", Action: act("ResponseHandler", "displayResult", 2, plan.Reference(1), value.String("Sum is"))},
	}}
	store := result.NewMemoryStore()
	var progress []float64
	require.NoError(t, exec.Execute(context.Background(), p, store, func(v float64) { progress = append(progress, v) }))

	assert.Equal(t, []float64{0, 50}, progress)
	require.Len(t, display.calls, 1)
	assert.Equal(t, "5", display.calls[0][0].String())
	assert.Equal(t, "Sum is", display.calls[0][1].String())

	stored, ok, err := store.Get(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "5", stored.String())
	assert.Equal(t, 2, built)

	out := journal.String()
	assert.Contains(t, out, "[plan] 📝 Step 1: Stored result of step 1: 5")
	assert.Contains(t, out, "[module] 🔄 Calculator.add() => 5")
	assert.Contains(t, collector.Render(), `stepwise_steps_total{capability="Calculator",method="add",outcome="success"} 1`)
}

func TestExecuteStopsAtUnknownModule(t *testing.T) {
	later := &recorder{}
	reg := newRegistry(t,
		calculator(nil),
		funcPlugin{name: "Later", methods: plugin.Methods{"run": later.method(value.Null())}},
	)
	p := &plan.Plan{Goal: "g", Steps: []plan.Step{
		{Description: "Add", Action: act("Calculator", "add", 1, value.Number(1), value.Number(1))},
		{Description: "Ghost", Action: act("Ghost", "haunt", 2)},
		{Description: "Never", Action: act("Later", "run", 3)},
	}}
	store := result.NewMemoryStore()
	var progress []float64
	err := New(reg).Execute(context.Background(), p, store, func(v float64) { progress = append(progress, v) })
	require.Error(t, err)

	var stepErr *StepExecutionError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, 1, stepErr.Index)
	assert.Equal(t, "Ghost", stepErr.Description)
	assert.True(t, xerrors.HasCode(err, CodeStepFailed))
	assert.True(t, xerrors.HasCode(err, capability.CodeModuleNotFound))

	assert.Empty(t, later.calls)
	assert.Equal(t, 1, store.Len())
	assert.InDeltaSlice(t, []float64{0, 100.0 / 3}, progress, 1e-9)
}

func TestExecuteWrapsInvocationFailure(t *testing.T) {
	boom := errors.New("division by zero")
	reg := newRegistry(t, funcPlugin{name: "Calculator", methods: plugin.Methods{
		"divide": func(context.Context, []value.Value) (value.Value, error) { return value.Null(), boom },
	}})
	p := &plan.Plan{Goal: "g", Steps: []plan.Step{{Description: "Divide", Action: act("Calculator", "divide", 1)}}}
	err := New(reg).Execute(context.Background(), p, result.NewMemoryStore(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))

	err = New(reg).Execute(context.Background(), &plan.Plan{Goal: "g", Steps: []plan.Step{
		{Description: "Unknown method", Action: act("Calculator", "sqrt", 1)},
	}}, result.NewMemoryStore(), nil)
	assert.True(t, errors.Is(err, plugin.ErrUnknownMethod))
}

func TestExecuteRejectsNonFiniteResult(t *testing.T) {
	reg := newRegistry(t, funcPlugin{name: "Calculator", methods: plugin.Methods{
		"multiply": func(context.Context, []value.Value) (value.Value, error) {
			return value.List(value.Number(math.Inf(1))), nil
		},
	}})
	store := result.NewMemoryStore()
	p := &plan.Plan{Goal: "g", Steps: []plan.Step{{Description: "Overflow", Action: act("Calculator", "multiply", 1)}}}

	err := New(reg).Execute(context.Background(), p, store, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNonFiniteResult))
	assert.True(t, xerrors.HasCode(err, CodeStepFailed))
	assert.Equal(t, 0, store.Len())
}

func TestExecuteNarrativeStepsOnlyJournal(t *testing.T) {
	reg := newRegistry(t)
	var journal bytes.Buffer
	p := &plan.Plan{Goal: "g", Steps: []plan.Step{{Description: "Think about it"}, {Description: "Done"}}}
	var progress []float64
	err := New(reg, WithJournal(logger.NewJournal(&journal))).Execute(context.Background(), p, result.NewMemoryStore(), func(v float64) { progress = append(progress, v) })
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 50}, progress)
	assert.True(t, strings.Contains(journal.String(), "Executing step 1: Think about it"))
}

func TestExecuteUnresolvedReference(t *testing.T) {
	echo := &recorder{}
	reg := newRegistry(t, funcPlugin{name: "Echo", methods: plugin.Methods{"say": echo.method(value.Null())}})
	p := &plan.Plan{Goal: "g", Steps: []plan.Step{
		{Description: "Narrate"},
		{Description: "Say", Action: act("Echo", "say", 2, plan.Reference(1))},
	}}

	require.NoError(t, New(reg).Execute(context.Background(), p, result.NewMemoryStore(), nil))
	require.Len(t, echo.calls, 1)
	assert.Equal(t, "$step1", echo.calls[0][0].String())

	err := New(reg, WithStrictReferences(true)).Execute(context.Background(), p, result.NewMemoryStore(), nil)
	require.Error(t, err)
	assert.True(t, xerrors.HasCode(err, CodeReferenceUnresolved))
	assert.Len(t, echo.calls, 1)
}

func TestExecutePassesStoredValueByIdentity(t *testing.T) {
	produced := value.List(value.String("a"), value.String("b"))
	consumer := &recorder{}
	reg := newRegistry(t,
		funcPlugin{name: "Source", methods: plugin.Methods{"make": func(context.Context, []value.Value) (value.Value, error) { return produced, nil }}},
		funcPlugin{name: "Sink", methods: plugin.Methods{"take": consumer.method(value.Null())}},
	)
	p := &plan.Plan{Goal: "g", Steps: []plan.Step{
		{Description: "Make", Action: act("Source", "make", 1)},
		{Description: "Take", Action: act("Sink", "take", 2, plan.Reference(1), value.Number(9))},
	}}
	require.NoError(t, New(reg).Execute(context.Background(), p, result.NewMemoryStore(), nil))
	require.Len(t, consumer.calls, 1)
	assert.True(t, value.Same(produced, consumer.calls[0][0]))
	assert.Equal(t, "9", consumer.calls[0][1].String())
}

func TestExecuteHonoursCancelledContext(t *testing.T) {
	reg := newRegistry(t, calculator(nil))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &plan.Plan{Goal: "g", Steps: []plan.Step{{Description: "Add", Action: act("Calculator", "add", 1, value.Number(1), value.Number(2))}}}
	err := New(reg).Execute(ctx, p, result.NewMemoryStore(), nil)
	assert.True(t, errors.Is(err, context.Canceled))
}
