// Package monitor follows the agent journal and renders a status view: the
// latest agent:status message as a header above the most recent log lines.
package monitor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"

	"Stepwise-Agent/pkg/logger"
)

// MaxLines bounds the log buffer.
const MaxLines = 1000

// State is what the monitor shows.
type State struct {
	Status string
	Lines  []string
}

// NewState returns an empty view.
func NewState() *State {
	return &State{Status: "Waiting for agent..."}
}

// Apply folds journal lines into the view. Status lines replace the header;
// everything else is appended and the oldest lines fall off past MaxLines.
func (s *State) Apply(lines ...string) {
	for _, raw := range lines {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		line, ok := logger.ParseLine(raw)
		switch {
		case ok && line.IsStatus():
			s.Status = line.Message
			continue
		case ok:
			s.Lines = append(s.Lines, fmt.Sprintf("%s [%s] %s", shortTime(line.Timestamp), line.Namespace, line.Message))
		default:
			s.Lines = append(s.Lines, raw)
		}
	}
	if over := len(s.Lines) - MaxLines; over > 0 {
		s.Lines = append(s.Lines[:0:0], s.Lines[over:]...)
	}
}

func shortTime(ts string) string {
	parsed, err := time.Parse(logger.TimestampLayout, ts)
	if err != nil {
		return ts
	}
	return parsed.Local().Format(time.TimeOnly)
}

// Tail reads a growing file from where it last stopped. A file that became
// shorter is treated as truncated and read again from the start.
type Tail struct {
	path    string
	offset  int64
	partial []byte
}

// NewTail starts at the beginning of path.
func NewTail(path string) *Tail {
	return &Tail{path: path}
}

// ReadNew returns the complete lines appended since the previous call. A
// missing file yields no lines.
func (t *Tail) ReadNew() ([]string, error) {
	f, err := os.Open(t.path)
	if errors.Is(err, fs.ErrNotExist) {
		t.offset, t.partial = 0, nil
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() < t.offset {
		t.offset, t.partial = 0, nil
	}
	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return nil, err
	}
	chunk, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	t.offset += int64(len(chunk))

	data := append(t.partial, chunk...)
	end := bytes.LastIndexByte(data, '\n')
	if end < 0 {
		t.partial = data
		return nil, nil
	}
	t.partial = append([]byte(nil), data[end+1:]...)
	return strings.Split(strings.TrimRight(string(data[:end]), "\r"), "\n"), nil
}

// Follow reads the whole journal, then calls onLines each time it grows.
// It watches the parent directory so a journal that is recreated or does
// not exist yet is still picked up. A slow ticker covers filesystems where
// notifications are unreliable.
func Follow(ctx context.Context, path string, onLines func([]string)) error {
	tail := NewTail(path)
	emit := func() error {
		lines, err := tail.ReadNew()
		if err != nil {
			return err
		}
		if len(lines) > 0 {
			onLines(lines)
		}
		return nil
	}
	if err := emit(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(path)

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				if err := emit(); err != nil {
					return err
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.L().Warn("journal watcher error", "error", err)
		case <-ticker.C:
			if err := emit(); err != nil {
				return err
			}
		}
	}
}

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("242")).
			Padding(0, 1)
	errorHeaderStyle = headerStyle.Foreground(lipgloss.Color("196"))
	lineStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
)

// Render draws the view into width x height cells. Only the newest lines
// that fit below the header are shown.
func Render(s *State, width, height int) string {
	if width <= 0 {
		width = 80
	}
	style := headerStyle
	if s.Status == "ERROR" {
		style = errorHeaderStyle
	}
	header := style.Width(width - 2).Render("Agent status: " + s.Status)

	room := height - lipgloss.Height(header)
	if height <= 0 {
		room = len(s.Lines)
	}
	lines := s.Lines
	if room < 0 {
		room = 0
	}
	if len(lines) > room {
		lines = lines[len(lines)-room:]
	}
	body := make([]string, len(lines))
	for i, line := range lines {
		if lipgloss.Width(line) > width {
			line = truncate(line, width)
		}
		body[i] = lineStyle.Render(line)
	}
	if len(body) == 0 {
		return header
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, strings.Join(body, "\n"))
}

func truncate(line string, width int) string {
	runes := []rune(line)
	if width <= 1 || len(runes) <= width {
		return line
	}
	return string(runes[:width-1]) + "…"
}
