// Package history 持久化已结束任务的生命周期记录，供 /history 命令和状态 API 查询。
// 只保存任务本身，计划与步骤结果不落盘。
package history

import (
	"context"
	"log/slog"
	"time"

	"Stepwise-Agent/internal/task"
	"Stepwise-Agent/pkg/logger"
)

// Record 是一次任务的落库结构。
type Record struct {
	TaskID      string      `json:"taskId"`
	Type        task.Type   `json:"type"`
	Description string      `json:"description"`
	Status      task.Status `json:"status"`
	Error       string      `json:"error,omitempty"`
	Progress    float64     `json:"progress"`
	StartedAt   time.Time   `json:"startedAt"`
	EndedAt     *time.Time  `json:"endedAt,omitempty"`
}

// FromTask 将任务快照转换为记录。
func FromTask(t *task.Task) Record {
	rec := Record{
		TaskID:      t.ID,
		Type:        t.Type,
		Description: t.Description,
		Status:      t.Status,
		Error:       t.Error,
		Progress:    t.Progress,
		StartedAt:   t.StartTime,
	}
	if t.EndTime != nil {
		end := *t.EndTime
		rec.EndedAt = &end
	}
	return rec
}

// Repository 抽象历史记录的持久化接口。
type Repository interface {
	Save(ctx context.Context, record Record) error
	List(ctx context.Context, opts ListOptions) ([]Record, error)
	Close() error
}

// saveTimeout 限制观察者同步写入的耗时。
const saveTimeout = 5 * time.Second

// Observer 返回在任务进入终态时写入 repo 的观察者。写入失败只记录日志。
func Observer(repo Repository, log *slog.Logger) task.Observer {
	if log == nil {
		log = logger.Named("history")
	}
	return task.ObserverFunc(func(ev task.Event) {
		if repo == nil || ev.Task == nil || !ev.Task.Status.Terminal() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		if err := repo.Save(ctx, FromTask(ev.Task)); err != nil {
			log.Warn("写入任务历史失败", slog.String("task_id", ev.Task.ID), slog.Any("error", err))
		}
	})
}
