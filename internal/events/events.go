// Package events 将任务生命周期事件发布到外部消息系统（Redis Pub/Sub、RabbitMQ）。
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"Stepwise-Agent/internal/task"
	"Stepwise-Agent/pkg/logger"
)

// Event 是发布到外部系统的消息体。
type Event struct {
	Type       task.EventType `json:"type"`
	Task       *task.Task     `json:"task"`
	OccurredAt time.Time      `json:"occurredAt"`
}

// Publisher 负责投递事件。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Nop 丢弃所有事件。
type Nop struct{}

// Publish 实现 Publisher 接口。
func (Nop) Publish(context.Context, Event) error { return nil }

// Close 实现 Publisher 接口。
func (Nop) Close() error { return nil }

// Fanout 将事件广播给多个发布器。
type Fanout struct {
	publishers []Publisher
}

// NewFanout 创建 Fanout，忽略 nil 发布器。
func NewFanout(publishers ...Publisher) *Fanout {
	set := make([]Publisher, 0, len(publishers))
	for _, p := range publishers {
		if p != nil {
			set = append(set, p)
		}
	}
	return &Fanout{publishers: set}
}

// Len 返回发布器数量。
func (f *Fanout) Len() int {
	if f == nil {
		return 0
	}
	return len(f.publishers)
}

// Publish 将事件投递到所有发布器，失败会被合并返回。
func (f *Fanout) Publish(ctx context.Context, event Event) error {
	if f == nil {
		return nil
	}
	var errs []error
	for i, p := range f.publishers {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("publisher %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Close 关闭所有发布器。
func (f *Fanout) Close() error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, p := range f.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

const publishTimeout = 3 * time.Second

// Observer 返回把每次任务迁移转发给 pub 的观察者。发布失败只记录日志，不影响运行。
func Observer(pub Publisher, log *slog.Logger) task.Observer {
	if log == nil {
		log = logger.Named("events")
	}
	return task.ObserverFunc(func(ev task.Event) {
		if pub == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := pub.Publish(ctx, Event{Type: ev.Type, Task: ev.Task, OccurredAt: time.Now().UTC()}); err != nil {
			log.Warn("发布任务事件失败",
				slog.String("task_id", ev.Task.ID),
				slog.String("event", string(ev.Type)),
				slog.Any("error", err))
		}
	})
}
