package task

import (
	"time"

	xerrors "Stepwise-Agent/internal/errors"
	"Stepwise-Agent/pkg/value"
)

// Status 表示任务在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal 判断状态是否为终态。
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Type 区分任务的来源。
type Type string

const (
	TypeSystem          Type = "system_task"
	TypeModuleCreation  Type = "module_creation"
	TypeModuleExecution Type = "module_execution"
)

// Task 记录一次运行的生命周期。
type Task struct {
	ID          string      `json:"id"`
	Type        Type        `json:"type"`
	Status      Status      `json:"status"`
	Description string      `json:"description"`
	StartTime   time.Time   `json:"startTime"`
	EndTime     *time.Time  `json:"endTime,omitempty"`
	Progress    float64     `json:"progress"`
	Error       string      `json:"error,omitempty"`
	Result      value.Value `json:"result"`
}

func (t *Task) clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.EndTime != nil {
		end := *t.EndTime
		c.EndTime = &end
	}
	return &c
}

const (
	CodeTaskNotFound xerrors.Code = "TASK_NOT_FOUND"
	CodeTaskConflict xerrors.Code = "TASK_CONFLICT"
	CodeTaskFinished xerrors.Code = "TASK_FINISHED"
)

var (
	// ErrTaskNotFound 表示指定的任务不存在。
	ErrTaskNotFound = xerrors.New(CodeTaskNotFound, "task not found")
	// ErrTaskConflict 表示任务在当前状态下无法进行所请求的操作。
	ErrTaskConflict = xerrors.New(CodeTaskConflict, "task conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrTaskFinished 表示任务已处于终态。
	ErrTaskFinished = xerrors.New(CodeTaskFinished, "task already finished", xerrors.WithSeverity(xerrors.SeverityInfo))
)

func init() {
	xerrors.Register(CodeTaskNotFound, xerrors.Attributes{
		Message:  "task not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTaskConflict, xerrors.Attributes{
		Message:  "task conflict",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeTaskFinished, xerrors.Attributes{
		Message:  "task already finished",
		Severity: xerrors.SeverityInfo,
	})
}

// IsValidStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}
