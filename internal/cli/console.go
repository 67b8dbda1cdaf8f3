// Package cli is the interactive front end: it reads instructions from the
// operator, hands them to the agent and renders what capabilities display.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/peterh/liner"
	"golang.org/x/term"
)

// ErrInterrupted is returned when the operator aborts a prompt with Ctrl-C.
var ErrInterrupted = errors.New("prompt interrupted")

// LineReader reads one line of input after showing a prompt.
type LineReader interface {
	Prompt(prompt string) (string, error)
	Close() error
}

// Console serialises terminal access between the loop and capabilities that
// ask the operator questions or display results.
type Console struct {
	mu  sync.Mutex
	in  LineReader
	out io.Writer

	prompt  lipgloss.Style
	result  lipgloss.Style
	failure lipgloss.Style
	success lipgloss.Style
	dim     lipgloss.Style
}

// NewConsole uses liner line editing when stdin is a terminal and a plain
// buffered reader otherwise. historyFile may be empty.
func NewConsole(historyFile string) *Console {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		return NewConsoleWith(newLinerReader(historyFile), os.Stdout)
	}
	return NewConsoleWith(NewScanReader(os.Stdin, os.Stdout), os.Stdout)
}

// NewConsoleWith builds a console over an explicit reader and writer.
func NewConsoleWith(in LineReader, out io.Writer) *Console {
	r := lipgloss.NewRenderer(out)
	return &Console{
		in:      in,
		out:     out,
		prompt:  r.NewStyle().Foreground(lipgloss.Color("39")).Bold(true),
		result:  r.NewStyle().Foreground(lipgloss.Color("255")),
		failure: r.NewStyle().Foreground(lipgloss.Color("196")),
		success: r.NewStyle().Foreground(lipgloss.Color("82")),
		dim:     r.NewStyle().Foreground(lipgloss.Color("242")),
	}
}

// ReadLine shows text as a question and reads the answer.
func (c *Console) ReadLine(question string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, c.prompt.Render(question))
	line, err := c.in.Prompt("> ")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Ask implements the prompter resource used by ResponseHandler.askUser.
func (c *Console) Ask(ctx context.Context, question string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return c.ReadLine(question)
}

// Result implements the display resource.
func (c *Console) Result(text string) { c.println(c.result, text) }

// Error implements the display resource.
func (c *Console) Error(message string) { c.println(c.failure, "❌ "+message) }

// Success implements the display resource.
func (c *Console) Success(message string) { c.println(c.success, "✅ "+message) }

// Info prints secondary output such as command listings.
func (c *Console) Info(text string) { c.println(c.dim, text) }

// Close releases the line reader, saving input history when supported.
func (c *Console) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.in.Close()
}

func (c *Console) println(style lipgloss.Style, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, style.Render(text))
}

// linerReader provides line editing and persistent input history.
type linerReader struct {
	state       *liner.State
	historyFile string
}

func newLinerReader(historyFile string) *linerReader {
	state := liner.NewLiner()
	state.SetCtrlCAborts(true)
	r := &linerReader{state: state, historyFile: historyFile}
	if historyFile != "" {
		if f, err := os.Open(historyFile); err == nil {
			_, _ = state.ReadHistory(f)
			f.Close()
		}
	}
	return r
}

func (r *linerReader) Prompt(prompt string) (string, error) {
	line, err := r.state.Prompt(prompt)
	if errors.Is(err, liner.ErrPromptAborted) {
		return "", ErrInterrupted
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(line) != "" {
		r.state.AppendHistory(line)
	}
	return line, nil
}

func (r *linerReader) Close() error {
	if r.historyFile != "" {
		if err := os.MkdirAll(filepath.Dir(r.historyFile), 0o755); err == nil {
			if f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
				_, _ = r.state.WriteHistory(f)
				f.Close()
			}
		}
	}
	return r.state.Close()
}

// ScanReader reads lines from a non-interactive input such as a pipe.
type ScanReader struct {
	r   *bufio.Reader
	out io.Writer
}

// NewScanReader wraps in; prompts are echoed to out.
func NewScanReader(in io.Reader, out io.Writer) *ScanReader {
	return &ScanReader{r: bufio.NewReader(in), out: out}
}

// Prompt implements LineReader.
func (s *ScanReader) Prompt(prompt string) (string, error) {
	if s.out != nil {
		io.WriteString(s.out, prompt)
	}
	line, err := s.r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Close implements LineReader.
func (s *ScanReader) Close() error { return nil }
