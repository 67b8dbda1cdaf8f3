package task

import (
	"log/slog"
	"strconv"

	"Stepwise-Agent/pkg/logger"
)

// JournalObserver 将生命周期事件写入 task 命名空间。
func JournalObserver(journal *logger.Journal) Observer {
	return ObserverFunc(func(ev Event) {
		t := ev.Task
		switch ev.Type {
		case EventCreated:
			journal.Printf(logger.NamespaceTask, "Created: %s - %s", t.ID, t.Description)
		case EventStarted:
			journal.Printf(logger.NamespaceTask, "Started: %s", t.ID)
		case EventProgress:
			journal.Printf(logger.NamespaceTask, "Progress: %s - %s%%", t.ID, strconv.FormatFloat(t.Progress, 'f', -1, 64))
		case EventCompleted:
			journal.Printf(logger.NamespaceTask, "Completed: %s", t.ID)
		case EventFailed:
			msg := t.Error
			if msg == "" {
				msg = "Unknown error"
			}
			journal.Printf(logger.NamespaceTask, "Failed: %s - %s", t.ID, msg)
		case EventCancelled:
			journal.Printf(logger.NamespaceTask, "Failed: %s - Task cancelled: %s", t.ID, t.Description)
		}
	})
}

// AuditObserver 将终态迁移写入审计日志。log 为空时使用 logger.Audit()。
func AuditObserver(log *slog.Logger) Observer {
	return ObserverFunc(func(ev Event) {
		if !ev.Task.Status.Terminal() && ev.Type != EventStarted {
			return
		}
		l := log
		if l == nil {
			l = logger.Audit()
		}
		attrs := []any{
			slog.String("task_id", ev.Task.ID),
			slog.String("type", string(ev.Task.Type)),
			slog.String("event", string(ev.Type)),
		}
		if ev.Task.Error != "" {
			attrs = append(attrs, slog.String("error", ev.Task.Error))
		}
		if ev.Task.EndTime != nil {
			attrs = append(attrs, slog.Duration("elapsed", ev.Task.EndTime.Sub(ev.Task.StartTime)))
		}
		l.Info("task lifecycle", attrs...)
	})
}
