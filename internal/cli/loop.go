package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"Stepwise-Agent/internal/agent"
	"Stepwise-Agent/internal/history"
	"Stepwise-Agent/pkg/logger"
	"Stepwise-Agent/pkg/plugin"
)

// Question is shown before every instruction prompt.
const Question = "What would you like me to do? (Type 'exit' to quit)"

// Agent is the part of the run supervisor the loop drives.
type Agent interface {
	Run(ctx context.Context, instructions string) (*agent.Report, error)
	Catalog() []plugin.Descriptor
	ListHistory(ctx context.Context, opts history.ListOptions) ([]history.Record, error)
}

// Reloader rebuilds the capability catalog on demand.
type Reloader interface {
	Reload(ctx context.Context) error
	Diagnostics() []error
}

// Loop is the read-run cycle of the interactive front end.
type Loop struct {
	console  *Console
	agent    Agent
	reloader Reloader
	journal  *logger.Journal
	log      *slog.Logger
}

// LoopOption customises a Loop.
type LoopOption func(*Loop)

// WithReloader enables the /reload command.
func WithReloader(r Reloader) LoopOption {
	return func(l *Loop) { l.reloader = r }
}

// WithJournal records loop status changes.
func WithJournal(j *logger.Journal) LoopOption {
	return func(l *Loop) { l.journal = j }
}

// WithLogger overrides the structured logger.
func WithLogger(log *slog.Logger) LoopOption {
	return func(l *Loop) {
		if log != nil {
			l.log = log
		}
	}
}

// NewLoop wires the console to the agent.
func NewLoop(console *Console, ag Agent, opts ...LoopOption) *Loop {
	l := &Loop{console: console, agent: ag, log: logger.Named("cli")}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Run reads instructions until the operator types exit, closes the input
// or ctx is cancelled. A failed instruction never ends the loop.
func (l *Loop) Run(ctx context.Context) error {
	defer l.journal.Status(agent.StatusShutDown)
	l.journal.Status(agent.StatusWaiting)

	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := l.console.ReadLine(Question)
		if errors.Is(err, io.EOF) || errors.Is(err, ErrInterrupted) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read instruction: %w", err)
		}

		switch {
		case line == "":
			continue
		case strings.EqualFold(line, "exit"):
			return nil
		case strings.HasPrefix(line, "/"):
			l.command(ctx, line)
		default:
			l.instruct(ctx, line)
		}
	}
}

func (l *Loop) instruct(ctx context.Context, instructions string) {
	report, err := l.agent.Run(ctx, instructions)
	if err != nil {
		l.console.Error(fmt.Sprintf("Failed to process instructions: %v", err))
		return
	}
	l.log.Debug("instruction completed", slog.String("task_id", report.TaskID), slog.Int("steps", report.StepsExecuted))
	l.console.Success("Task completed successfully!")
}

func (l *Loop) command(ctx context.Context, line string) {
	fields := strings.Fields(line)
	switch strings.ToLower(fields[0]) {
	case "/catalog":
		l.printCatalog()
	case "/history":
		l.printHistory(ctx)
	case "/reload":
		l.reload(ctx)
	case "/help":
		l.console.Info(helpText)
	default:
		l.console.Error(fmt.Sprintf("Unknown command %s, type /help for the list", fields[0]))
	}
}

const helpText = `/catalog   list the available modules and their methods
/history   show the most recent tasks
/reload    reload the module manifest
/help      show this help
exit       quit`

func (l *Loop) printCatalog() {
	catalog := l.agent.Catalog()
	if len(catalog) == 0 {
		l.console.Info("No modules loaded")
		return
	}
	var b strings.Builder
	for i, d := range catalog {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "📦 %s: %s", d.Name, d.Purpose)
		for _, m := range d.Methods {
			params := make([]string, len(m.Parameters))
			for j, p := range m.Parameters {
				params[j] = p.Name
			}
			fmt.Fprintf(&b, "\n   %s(%s): %s", m.Name, strings.Join(params, ", "), m.Description)
		}
	}
	l.console.Info(b.String())
}

func (l *Loop) printHistory(ctx context.Context) {
	records, err := l.agent.ListHistory(ctx, history.BuildListOptions(history.WithLimit(10)))
	if err != nil {
		l.console.Error(fmt.Sprintf("Failed to read history: %v", err))
		return
	}
	if len(records) == 0 {
		l.console.Info("No finished tasks yet")
		return
	}
	lines := make([]string, len(records))
	for i, rec := range records {
		line := fmt.Sprintf("%s  %-9s  %s  %s", rec.StartedAt.Format(time.DateTime), rec.Status, rec.TaskID, rec.Description)
		if rec.Error != "" {
			line += "  (" + rec.Error + ")"
		}
		lines[i] = line
	}
	l.console.Info(strings.Join(lines, "\n"))
}

func (l *Loop) reload(ctx context.Context) {
	if l.reloader == nil {
		l.console.Error("Reloading is not available")
		return
	}
	if err := l.reloader.Reload(ctx); err != nil {
		l.console.Error(fmt.Sprintf("Failed to reload modules: %v", err))
		return
	}
	for _, diag := range l.reloader.Diagnostics() {
		l.console.Error(diag.Error())
	}
	l.console.Success(fmt.Sprintf("%d modules loaded", len(l.agent.Catalog())))
}
