// Package stepwise is a small client for the agent's read-only status API.
package stepwise

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the status API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Task mirrors a tracked task.
type Task struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	Description string          `json:"description"`
	StartTime   time.Time       `json:"startTime"`
	EndTime     *time.Time      `json:"endTime,omitempty"`
	Progress    float64         `json:"progress"`
	Error       string          `json:"error,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// Finished reports whether the task reached a terminal status.
func (t Task) Finished() bool {
	switch t.Status {
	case "completed", "failed", "cancelled":
		return true
	}
	return false
}

// Record is one finished task from the history store.
type Record struct {
	TaskID      string     `json:"taskId"`
	Type        string     `json:"type"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	Progress    float64    `json:"progress"`
	StartedAt   time.Time  `json:"startedAt"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
}

// Method describes one callable method of a capability.
type Method struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  []struct {
		Name        string `json:"name"`
		Type        string `json:"type"`
		Description string `json:"description"`
	} `json:"parameters"`
	ReturnType string `json:"returnType"`
}

// Capability is a catalog entry.
type Capability struct {
	Name    string   `json:"name"`
	Purpose string   `json:"purpose"`
	Methods []Method `json:"methods"`
}

// ListQuery filters the task history. Zero values are omitted.
type ListQuery struct {
	Limit    int
	Offset   int
	Statuses []string
}

func (q ListQuery) encode() string {
	values := url.Values{}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		values.Set("offset", strconv.Itoa(q.Offset))
	}
	if len(q.Statuses) > 0 {
		values.Set("status", strings.Join(q.Statuses, ","))
	}
	return values.Encode()
}

// APIError represents an error payload returned by the server.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("stepwise api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("stepwise api error (%d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// NewClient instantiates a client for the status API. When httpClient is nil
// a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// ActiveTask returns the task currently running, or nil when the agent is idle.
func (c *Client) ActiveTask(ctx context.Context) (*Task, error) {
	var t Task
	found, err := c.get(ctx, "/api/v1/tasks/active", "", &t)
	if err != nil || !found {
		return nil, err
	}
	return &t, nil
}

// GetTask fetches a task the running agent still tracks.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var t Task
	if _, err := c.get(ctx, "/api/v1/tasks/"+id, "", &t); err != nil {
		return Task{}, err
	}
	return t, nil
}

// ListTasks reads finished tasks from history, newest first.
func (c *Client) ListTasks(ctx context.Context, q ListQuery) ([]Record, error) {
	var records []Record
	if _, err := c.get(ctx, "/api/v1/tasks", q.encode(), &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Capabilities returns the loaded capability catalog.
func (c *Client) Capabilities(ctx context.Context) ([]Capability, error) {
	var catalog []Capability
	if _, err := c.get(ctx, "/api/v1/capabilities", "", &catalog); err != nil {
		return nil, err
	}
	return catalog, nil
}

// WaitForIdle polls until no task is active or ctx ends.
func (c *Client) WaitForIdle(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		active, err := c.ActiveTask(ctx)
		if err != nil {
			return err
		}
		if active == nil || active.Finished() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// get returns false without decoding when the server answers 204.
func (c *Client) get(ctx context.Context, endpoint, query string, out any) (bool, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint), RawQuery: query}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return false, fmt.Errorf("read error response: %w", err)
		}
		_ = json.Unmarshal(data, apiErr)
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return false, apiErr
	}
	if resp.StatusCode == http.StatusNoContent {
		return false, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	return true, nil
}
