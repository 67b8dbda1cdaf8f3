package task

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "Stepwise-Agent/internal/errors"
	"Stepwise-Agent/pkg/value"
)

// EventType 标识一次状态迁移。
type EventType string

const (
	EventCreated   EventType = "created"
	EventStarted   EventType = "started"
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventCancelled EventType = "cancelled"
)

// Event 是一次迁移之后的任务快照。
type Event struct {
	Type EventType
	Task *Task
}

// Observer 接收任务生命周期事件。
type Observer interface {
	OnTaskEvent(Event)
}

// ObserverFunc 允许使用普通函数作为 Observer。
type ObserverFunc func(Event)

// OnTaskEvent 实现 Observer 接口。
func (f ObserverFunc) OnTaskEvent(ev Event) { f(ev) }

// Tracker 维护任务表和唯一的活动任务槽位。
//
// 事件在释放状态锁之后同步投递，按注册顺序，每次迁移恰好一次。
// 观察者不能在回调中再次驱动同一个 Tracker 的状态迁移。
type Tracker struct {
	mu        sync.Mutex
	tasks     map[string]*Task
	order     []string
	active    string
	observers []Observer

	// emit 保证并发迁移时事件顺序与迁移顺序一致。
	emit sync.Mutex

	newID func() string
	now   func() time.Time
}

// Option 定制 Tracker。
type Option func(*Tracker)

// WithIDGenerator 替换任务 ID 生成器。
func WithIDGenerator(gen func() string) Option {
	return func(t *Tracker) {
		if gen != nil {
			t.newID = gen
		}
	}
}

// WithClock 替换时间来源，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithObserver 在创建时注册观察者。
func WithObserver(obs Observer) Option {
	return func(t *Tracker) {
		if obs != nil {
			t.observers = append(t.observers, obs)
		}
	}
}

// NewTracker 创建空的任务跟踪器。
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		tasks: make(map[string]*Task),
		now:   time.Now,
	}
	t.newID = func() string { return NewID(t.now()) }
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// NewID 生成形如 task_<毫秒时间戳>_<随机串> 的任务 ID。
func NewID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("task_%d_%s", now.UnixMilli(), suffix)
}

// Subscribe 追加观察者。
func (t *Tracker) Subscribe(obs Observer) {
	if obs == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, obs)
}

// Create 以 pending 状态登记新任务。
func (t *Tracker) Create(kind Type, description string) *Task {
	t.mu.Lock()
	task := &Task{
		ID:          t.newID(),
		Type:        kind,
		Status:      StatusPending,
		Description: description,
		StartTime:   t.now(),
	}
	t.tasks[task.ID] = task
	t.order = append(t.order, task.ID)
	snapshot := task.clone()
	t.publish(EventCreated, snapshot)
	return snapshot
}

// Start 将任务切换为 running 并占用活动槽位。
func (t *Tracker) Start(id string) error {
	t.mu.Lock()
	task, err := t.lookup(id)
	if err == nil {
		err = checkState(task, StatusPending)
	}
	if err == nil && t.active != "" && t.active != id {
		err = xerrors.New(CodeTaskConflict, fmt.Sprintf("task %s is still active", t.active),
			xerrors.WithMetadata("task_id", id))
	}
	if err != nil {
		t.mu.Unlock()
		return err
	}
	task.Status = StatusRunning
	t.active = id
	t.publish(EventStarted, task.clone())
	return nil
}

// UpdateProgress 覆盖运行中任务的进度，取值被限制在 [0,100]。
func (t *Tracker) UpdateProgress(id string, progress float64) error {
	t.mu.Lock()
	task, err := t.lookup(id)
	if err == nil {
		err = checkState(task, StatusRunning)
	}
	if err != nil {
		t.mu.Unlock()
		return err
	}
	switch {
	case progress < 0 || progress != progress:
		progress = 0
	case progress > 100:
		progress = 100
	}
	task.Progress = progress
	t.publish(EventProgress, task.clone())
	return nil
}

// Complete 以结果结束运行中的任务。
func (t *Tracker) Complete(id string, result value.Value) error {
	return t.finish(id, StatusCompleted, EventCompleted, func(task *Task) {
		task.Result = result
	})
}

// Fail 以错误信息结束任务。尚未启动（pending）的任务也可以直接失败，
// 例如启动本身被拒绝时。
func (t *Tracker) Fail(id, message string) error {
	return t.finish(id, StatusFailed, EventFailed, func(task *Task) {
		task.Error = message
	})
}

// Cancel 取消运行中的任务。
func (t *Tracker) Cancel(id string) error {
	return t.finish(id, StatusCancelled, EventCancelled, nil)
}

// Get 返回任务快照。
func (t *Tracker) Get(id string) (*Task, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, err := t.lookup(id)
	if err != nil {
		return nil, err
	}
	return task.clone(), nil
}

// Active 返回当前活动任务。
func (t *Tracker) Active() (*Task, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == "" {
		return nil, false
	}
	return t.tasks[t.active].clone(), true
}

// List 按创建顺序返回全部任务快照。
func (t *Tracker) List() []*Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Task, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.tasks[id].clone())
	}
	return out
}

func (t *Tracker) finish(id string, status Status, kind EventType, apply func(*Task)) error {
	t.mu.Lock()
	task, err := t.lookup(id)
	if err == nil && !(status == StatusFailed && task.Status == StatusPending) {
		err = checkState(task, StatusRunning)
	}
	if err != nil {
		t.mu.Unlock()
		return err
	}
	end := t.now()
	task.Status = status
	task.EndTime = &end
	if apply != nil {
		apply(task)
	}
	if t.active == id {
		t.active = ""
	}
	t.publish(kind, task.clone())
	return nil
}

// publish 在持有 t.mu 时调用，负责释放锁并投递事件。
func (t *Tracker) publish(kind EventType, snapshot *Task) {
	observers := append([]Observer(nil), t.observers...)
	t.emit.Lock()
	t.mu.Unlock()
	defer t.emit.Unlock()
	ev := Event{Type: kind, Task: snapshot}
	for _, obs := range observers {
		obs.OnTaskEvent(ev)
	}
}

func (t *Tracker) lookup(id string) (*Task, error) {
	task, ok := t.tasks[id]
	if !ok {
		return nil, xerrors.New(CodeTaskNotFound, fmt.Sprintf("task %s not found", id),
			xerrors.WithMetadata("task_id", id))
	}
	return task, nil
}

func checkState(task *Task, want Status) error {
	if task.Status == want {
		return nil
	}
	if task.Status.Terminal() {
		return xerrors.New(CodeTaskFinished, fmt.Sprintf("task %s is already %s", task.ID, task.Status),
			xerrors.WithMetadata("task_id", task.ID))
	}
	return xerrors.New(CodeTaskConflict, fmt.Sprintf("task %s is %s, expected %s", task.ID, task.Status, want),
		xerrors.WithMetadata("task_id", task.ID))
}
