package agent

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"sort"
	"sync"

	"Stepwise-Agent/internal/executor"
	"Stepwise-Agent/internal/history"
	"Stepwise-Agent/internal/plan"
	"Stepwise-Agent/internal/result"
	"Stepwise-Agent/internal/task"
	"Stepwise-Agent/pkg/logger"
	"Stepwise-Agent/pkg/plugin"
	"Stepwise-Agent/pkg/value"
)

// 状态栏上显示的固定文案。
const (
	StatusInitializing = "Initializing..."
	StatusWaiting      = "Waiting for instructions..."
	StatusProcessing   = "Processing instructions..."
	StatusError        = "ERROR"
	StatusShutDown     = "SHUT_DOWN"
)

// RunState 表示一次运行所处的阶段。
type RunState string

const (
	StateCreated   RunState = "created"
	StatePlanning  RunState = "planning"
	StateExecuting RunState = "executing"
	StateCompleted RunState = "completed"
	StateFailed    RunState = "failed"
)

// Registry 是 Agent 依赖的能力目录。
type Registry interface {
	Reload(ctx context.Context) error
	Catalog() []plugin.Descriptor
}

// Planner 根据指令和能力目录生成计划。
type Planner interface {
	Generate(ctx context.Context, instructions string, catalog []plugin.Descriptor) (*plan.Plan, error)
}

// Runner 顺序执行计划。
type Runner interface {
	Execute(ctx context.Context, p *plan.Plan, store result.Store, onProgress func(float64)) error
}

// RunRecorder 记录运行结果指标。
type RunRecorder interface {
	ObserveRun(state string)
}

// Report 汇总一次运行的结果。
type Report struct {
	TaskID        string
	Goal          string
	State         RunState
	StepsExecuted int
	Results       map[int]value.Value
	Err           error
}

// Agent 串行地把自然语言指令转换为计划并执行，是系统的业务核心。
type Agent struct {
	registry Registry
	planner  Planner
	runner   Runner
	tracker  *task.Tracker

	stores  result.Factory
	journal *logger.Journal
	metrics RunRecorder
	history history.Repository
	log     *slog.Logger

	mu sync.Mutex
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithResultStoreFactory 替换每次运行使用的结果存储。
func WithResultStoreFactory(factory result.Factory) Option {
	return func(a *Agent) {
		if factory != nil {
			a.stores = factory
		}
	}
}

// WithJournal 设置状态与计划日志的输出位置。
func WithJournal(journal *logger.Journal) Option {
	return func(a *Agent) { a.journal = journal }
}

// WithMetrics 设置运行指标记录器。
func WithMetrics(recorder RunRecorder) Option {
	return func(a *Agent) { a.metrics = recorder }
}

// WithHistory 配置持久化的任务历史，供 ListHistory 查询。
func WithHistory(repo history.Repository) Option {
	return func(a *Agent) { a.history = repo }
}

// WithLogger 覆盖结构化日志。
func WithLogger(log *slog.Logger) Option {
	return func(a *Agent) {
		if log != nil {
			a.log = log
		}
	}
}

// New 创建一个 Agent。
func New(registry Registry, planner Planner, runner Runner, tracker *task.Tracker, opts ...Option) *Agent {
	ag := &Agent{
		registry: registry,
		planner:  planner,
		runner:   runner,
		tracker:  tracker,
		stores:   result.MemoryFactory,
		log:      logger.Named("agent"),
	}
	if ag.tracker == nil {
		ag.tracker = task.NewTracker()
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	return ag
}

// Tracker 返回 Agent 使用的任务跟踪器。
func (a *Agent) Tracker() *task.Tracker { return a.tracker }

// Catalog 返回当前能力目录。
func (a *Agent) Catalog() []plugin.Descriptor {
	if a.registry == nil {
		return nil
	}
	return a.registry.Catalog()
}

// Run 处理一条指令：登记任务、生成计划、逐步执行。同一时间只有一个运行。
// 失败时返回的 Report 与 error 同时非空。
func (a *Agent) Run(ctx context.Context, instructions string) (*Report, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.journal.Status(StatusProcessing)
	if a.registry != nil {
		// 运行期间新生成的能力要在规划前可见。
		if err := a.registry.Reload(ctx); err != nil {
			a.log.Warn("刷新能力目录失败", slog.Any("error", err))
		}
	}

	t := a.tracker.Create(task.TypeSystem, "Processing instructions: "+instructions)
	report := &Report{TaskID: t.ID, State: StateCreated, Results: map[int]value.Value{}}
	if err := a.tracker.Start(t.ID); err != nil {
		return a.fail(report, err)
	}

	store, err := a.stores(t.ID)
	if err != nil {
		return a.fail(report, err)
	}
	recorder := &recordingStore{Store: store, results: report.Results}
	defer func() {
		if err := store.Discard(context.WithoutCancel(ctx)); err != nil {
			a.log.Warn("清理结果存储失败", slog.String("task_id", t.ID), slog.Any("error", err))
		}
	}()

	report.State = StatePlanning
	p, err := a.planner.Generate(ctx, instructions, a.Catalog())
	if err != nil {
		return a.fail(report, err)
	}
	report.Goal = p.Goal
	a.journal.Printf(logger.NamespacePlan, "🎯 Plan created: %s", p.Goal)
	for _, line := range p.Describe() {
		a.journal.Write(logger.NamespacePlan, line)
	}
	a.journal.Printf(logger.NamespacePlan, "✅ Plan completed")

	report.State = StateExecuting
	err = a.runner.Execute(ctx, p, recorder, func(progress float64) {
		if perr := a.tracker.UpdateProgress(t.ID, progress); perr != nil {
			a.log.Debug("更新任务进度失败", slog.String("task_id", t.ID), slog.Any("error", perr))
		}
	})
	if err != nil {
		var stepErr *executor.StepExecutionError
		if stdErrors.As(err, &stepErr) {
			report.StepsExecuted = stepErr.Index
		}
		return a.fail(report, err)
	}
	report.StepsExecuted = len(p.Steps)

	if err := a.tracker.Complete(t.ID, recorder.last); err != nil {
		return a.fail(report, err)
	}
	report.State = StateCompleted
	a.observeRun(report.State)
	a.journal.Status(StatusWaiting)
	a.log.Info("运行完成", slog.String("task_id", t.ID), slog.String("goal", p.Goal), slog.Int("steps", report.StepsExecuted))
	return report, nil
}

// fail 将运行标记为失败。上下文被取消时任务记为 cancelled。
func (a *Agent) fail(report *Report, err error) (*Report, error) {
	report.State = StateFailed
	report.Err = err
	a.journal.Status(StatusError)

	var terr error
	if stdErrors.Is(err, context.Canceled) {
		terr = a.tracker.Cancel(report.TaskID)
	} else {
		terr = a.tracker.Fail(report.TaskID, err.Error())
	}
	if terr != nil && !stdErrors.Is(terr, task.ErrTaskFinished) {
		a.log.Debug("任务状态迁移失败", slog.String("task_id", report.TaskID), slog.Any("error", terr))
	}
	a.observeRun(report.State)
	a.log.Warn("运行失败", slog.String("task_id", report.TaskID), slog.Any("error", err))
	return report, err
}

// ListHistory 查询最近结束的任务。未配置持久化历史时退化为本次会话的任务表。
func (a *Agent) ListHistory(ctx context.Context, opts history.ListOptions) ([]history.Record, error) {
	if a.history != nil {
		return a.history.List(ctx, opts)
	}
	opts = history.BuildListOptions(history.WithLimit(opts.Limit), history.WithOffset(opts.Offset), history.WithStatuses(opts.Statuses...))
	wanted := make(map[task.Status]bool, len(opts.Statuses))
	for _, s := range opts.Statuses {
		wanted[s] = true
	}

	tasks := a.tracker.List()
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].StartTime.After(tasks[j].StartTime) })
	var out []history.Record
	skipped := 0
	for _, t := range tasks {
		if !t.Status.Terminal() || (len(wanted) > 0 && !wanted[t.Status]) {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		out = append(out, history.FromTask(t))
		if len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

// recordingStore 在写入底层存储的同时保留结果，用于生成 Report。
type recordingStore struct {
	result.Store
	results map[int]value.Value
	last    value.Value
}

func (s *recordingStore) Put(ctx context.Context, stepNumber int, v value.Value) error {
	if err := s.Store.Put(ctx, stepNumber, v); err != nil {
		return err
	}
	s.results[stepNumber] = v
	s.last = v
	return nil
}

func (a *Agent) observeRun(state RunState) {
	if a.metrics != nil {
		a.metrics.ObserveRun(string(state))
	}
}
