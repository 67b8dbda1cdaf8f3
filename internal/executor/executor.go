// Package executor walks a plan step by step, resolving each action against
// the capability registry and threading results between steps.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"Stepwise-Agent/internal/capability"
	xerrors "Stepwise-Agent/internal/errors"
	"Stepwise-Agent/internal/observability/metrics"
	"Stepwise-Agent/internal/plan"
	"Stepwise-Agent/internal/result"
	"Stepwise-Agent/pkg/logger"
	"Stepwise-Agent/pkg/value"
)

const (
	// CodeStepFailed wraps any failure inside a step.
	CodeStepFailed xerrors.Code = "STEP_EXECUTION_FAILED"
	// CodeReferenceUnresolved reports a back-reference with no stored result
	// when strict references are enabled.
	CodeReferenceUnresolved xerrors.Code = "RESULT_REFERENCE_UNRESOLVED"
)

func init() {
	xerrors.Register(CodeStepFailed, xerrors.Attributes{Message: "step execution failed", Severity: xerrors.SeverityWarning})
	xerrors.Register(CodeReferenceUnresolved, xerrors.Attributes{Message: "result reference unresolved", Severity: xerrors.SeverityWarning})
}

// ErrNonFiniteResult rejects results holding NaN or an infinity, which no
// result store or event sink can encode.
var ErrNonFiniteResult = errors.New("result contains a non-finite number")

// Resolver finds the factory for a capability name.
type Resolver interface {
	Resolve(ctx context.Context, name string) (capability.Factory, error)
}

// StepRecorder receives per-invocation measurements.
type StepRecorder interface {
	ObserveStep(capability, method, outcome string, duration time.Duration)
}

// StepExecutionError annotates a failure with the step it happened in.
type StepExecutionError struct {
	Index       int
	Description string
	err         error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %d %q: %v", e.Index+1, e.Description, e.err)
}

// Unwrap exposes the coded error, whose own cause is the original failure.
func (e *StepExecutionError) Unwrap() error { return e.err }

// Executor runs plans. It holds no per-run state and may be reused.
type Executor struct {
	resolver Resolver
	journal  *logger.Journal
	log      *slog.Logger
	strict   bool
	metrics  StepRecorder
}

// Option customises an Executor.
type Option func(*Executor)

// WithJournal sets the journal step lines go to.
func WithJournal(journal *logger.Journal) Option {
	return func(e *Executor) { e.journal = journal }
}

// WithLogger overrides the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Executor) {
		if log != nil {
			e.log = log
		}
	}
}

// WithStrictReferences makes unresolved back-references fail the step
// instead of passing the token through.
func WithStrictReferences(strict bool) Option {
	return func(e *Executor) { e.strict = strict }
}

// WithMetrics records invocation counts and durations.
func WithMetrics(recorder StepRecorder) Option {
	return func(e *Executor) { e.metrics = recorder }
}

// New builds an executor resolving capabilities through resolver.
func New(resolver Resolver, opts ...Option) *Executor {
	e := &Executor{resolver: resolver, log: logger.Named("executor")}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Execute runs the steps of p in order. Progress is reported before each
// step as the share of steps already finished. The first failure stops the
// run; effects of earlier steps are not rolled back.
func (e *Executor) Execute(ctx context.Context, p *plan.Plan, store result.Store, onProgress func(float64)) error {
	total := len(p.Steps)
	for i, step := range p.Steps {
		if onProgress != nil {
			onProgress(float64(i) / float64(total) * 100)
		}
		n := i + 1
		e.journal.Printf(logger.NamespacePlan, "📝 Step %d: Executing step %d: %s", n, n, step.Description)
		if step.Action != nil {
			e.journal.Printf(logger.NamespacePlan, "📝 Step %d: Attempting to use modules: %s", n, step.Action.Call())
			if err := e.run(ctx, step.Action, store); err != nil {
				e.journal.Printf(logger.NamespacePlan, "📝 Step %d: Error in step %d: %v", n, n, err)
				return &StepExecutionError{
					Index:       i,
					Description: step.Description,
					err:         xerrors.Wrap(CodeStepFailed, err, "", xerrors.WithMetadata("module", step.Action.ModuleName)),
				}
			}
		}
		e.journal.Printf(logger.NamespacePlan, "📝 Step %d: Completed step %d", n, n)
	}
	return nil
}

func (e *Executor) run(ctx context.Context, action *plan.Action, store result.Store) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	factory, err := e.resolver.Resolve(ctx, action.ModuleName)
	if err != nil {
		e.moduleError(action.ModuleName, err)
		return err
	}
	handle, err := factory.New()
	if err != nil {
		e.moduleError(action.ModuleName, err)
		return err
	}
	args, err := e.substitute(ctx, action, store)
	if err != nil {
		return err
	}

	start := time.Now()
	out, err := handle.Invoke(ctx, action.MethodName, args)
	elapsed := time.Since(start)
	if err != nil {
		e.observe(action, metrics.OutcomeFailure, elapsed)
		e.moduleError(action.ModuleName, err)
		return err
	}
	if !value.Finite(out) {
		e.observe(action, metrics.OutcomeFailure, elapsed)
		err := fmt.Errorf("%s.%s: %w", action.ModuleName, action.MethodName, ErrNonFiniteResult)
		e.moduleError(action.ModuleName, err)
		return err
	}
	e.observe(action, metrics.OutcomeSuccess, elapsed)

	if err := store.Put(ctx, action.StepNumber, out); err != nil {
		return err
	}
	e.journal.Printf(logger.NamespaceModule, "🔄 %s.%s() => %s", action.ModuleName, action.MethodName, encode(out))
	e.journal.Printf(logger.NamespacePlan, "📝 Step %d: Stored result of step %d: %s", action.StepNumber, action.StepNumber, out.String())
	e.log.Debug("step executed",
		slog.String("module", action.ModuleName),
		slog.String("method", action.MethodName),
		slog.Int("step", action.StepNumber),
		slog.Duration("elapsed", elapsed))
	return nil
}

// substitute replaces back-reference tokens with stored results.
func (e *Executor) substitute(ctx context.Context, action *plan.Action, store result.Store) ([]value.Value, error) {
	args := make([]value.Value, len(action.Parameters))
	for i, param := range action.Parameters {
		ref, ok := plan.ParseReference(param)
		if !ok {
			args[i] = param
			continue
		}
		stored, found, err := store.Get(ctx, ref)
		if err != nil {
			return nil, err
		}
		if found {
			args[i] = stored
			continue
		}
		if e.strict {
			return nil, xerrors.New(CodeReferenceUnresolved,
				fmt.Sprintf("no result recorded for step %d", ref),
				xerrors.WithMetadata("reference", param.String()))
		}
		e.log.Warn("unresolved result reference passed through", slog.String("token", param.String()), slog.Int("step", action.StepNumber))
		args[i] = param
	}
	return args, nil
}

func (e *Executor) moduleError(name string, err error) {
	e.journal.Printf(logger.NamespaceModule, "❌ Module error [%s]: %v", name, err)
}

func (e *Executor) observe(action *plan.Action, outcome string, elapsed time.Duration) {
	if e.metrics != nil {
		e.metrics.ObserveStep(action.ModuleName, action.MethodName, outcome, elapsed)
	}
}

func encode(v value.Value) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return v.String()
	}
	return string(raw)
}
