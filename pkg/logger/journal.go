package logger

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Journal namespaces written by the agent.
const (
	NamespaceStatus = "agent:status"
	NamespaceAgent  = "agent"
	NamespacePrompt = "prompt"
	NamespaceTask   = "task"
	NamespaceModule = "module"
	NamespacePlan   = "plan"
)

// TimestampLayout is the ISO-8601 layout used for journal lines.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Journal is the append-only line sink the status monitor tails. Every entry
// is a single line of the form "[<timestamp>] [<namespace>] <message>".
// A nil *Journal discards everything.
type Journal struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	now    func() time.Time
}

// JournalOption customises a Journal.
type JournalOption func(*Journal)

// WithJournalClock overrides the timestamp source.
func WithJournalClock(now func() time.Time) JournalOption {
	return func(j *Journal) {
		if now != nil {
			j.now = now
		}
	}
}

// OpenJournal truncates (or creates) the file at path and returns a journal
// appending to it. Files above maxSizeMB are rotated once; 0 selects 50MB.
func OpenJournal(path string, maxSizeMB int, opts ...JournalOption) (*Journal, error) {
	if maxSizeMB <= 0 {
		maxSizeMB = 50
	}
	writer, err := newRotatingWriter(path, rotateOptions{maxSizeMB: maxSizeMB, maxBackups: 1, truncate: true})
	if err != nil {
		return nil, err
	}
	j := NewJournal(writer, opts...)
	j.closer = writer
	return j, nil
}

// NewJournal writes journal lines to w.
func NewJournal(w io.Writer, opts ...JournalOption) *Journal {
	j := &Journal{w: w, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(j)
		}
	}
	return j
}

// Write appends one line under namespace.
func (j *Journal) Write(namespace, message string) error {
	if j == nil || j.w == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := io.WriteString(j.w, FormatLine(j.now(), namespace, message)+"\n")
	return err
}

// Printf formats and appends one line under namespace. Write errors are
// reported to the structured logger.
func (j *Journal) Printf(namespace, format string, args ...any) {
	if j == nil {
		return
	}
	if err := j.Write(namespace, fmt.Sprintf(format, args...)); err != nil {
		L().Warn("journal write failed", "namespace", namespace, "error", err)
	}
}

// Status records a status update for the monitor header.
func (j *Journal) Status(message string) {
	j.Printf(NamespaceStatus, "%s", message)
}

// Close releases the underlying file, if any.
func (j *Journal) Close() error {
	if j == nil || j.closer == nil {
		return nil
	}
	return j.closer.Close()
}

// FormatLine renders a journal line without the trailing newline.
func FormatLine(ts time.Time, namespace, message string) string {
	return fmt.Sprintf("[%s] [%s] %s", ts.UTC().Format(TimestampLayout), namespace, message)
}

// Line is a parsed journal entry.
type Line struct {
	Timestamp string
	Namespace string
	Message   string
}

// IsStatus reports whether the line carries a status update.
func (l Line) IsStatus() bool {
	return l.Namespace == NamespaceStatus
}

var linePattern = regexp.MustCompile(`^\[(.*?)\] \[(.*?)\] (.*)$`)

// ParseLine splits a journal line into its parts.
func ParseLine(raw string) (Line, bool) {
	match := linePattern.FindStringSubmatch(strings.TrimRight(raw, "\r\n"))
	if match == nil {
		return Line{}, false
	}
	return Line{Timestamp: match[1], Namespace: match[2], Message: match[3]}, true
}
