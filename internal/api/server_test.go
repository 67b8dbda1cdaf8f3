package api

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"Stepwise-Agent/internal/auth"
	"Stepwise-Agent/internal/history"
	"Stepwise-Agent/internal/observability/metrics"
	"Stepwise-Agent/internal/task"
	"Stepwise-Agent/pkg/plugin"
	"Stepwise-Agent/pkg/value"
)

type stubSource struct {
	tracker *task.Tracker
	catalog []plugin.Descriptor
	records []history.Record
	opts    history.ListOptions
}

func (s *stubSource) Tracker() *task.Tracker       { return s.tracker }
func (s *stubSource) Catalog() []plugin.Descriptor { return s.catalog }
func (s *stubSource) ListHistory(_ context.Context, opts history.ListOptions) ([]history.Record, error) {
	s.opts = opts
	return s.records, nil
}

func newStubSource() *stubSource {
	return &stubSource{
		tracker: task.NewTracker(),
		catalog: []plugin.Descriptor{{Name: "Calculator", Purpose: "math", Methods: []plugin.MethodDescriptor{{Name: "add"}}}},
	}
}

func serve(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestActiveTask(t *testing.T) {
	src := newStubSource()
	h := NewServer(":0", src, nil).Handler()

	if rec := serve(t, h, "/api/v1/tasks/active"); rec.Code != http.StatusNoContent {
		t.Fatalf("idle tracker should answer 204, got %d", rec.Code)
	}

	created := src.tracker.Create(task.TypeSystem, "Processing instructions: add")
	if err := src.tracker.Start(created.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := src.tracker.UpdateProgress(created.ID, 50); err != nil {
		t.Fatalf("progress: %v", err)
	}

	rec := serve(t, h, "/api/v1/tasks/active")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["id"] != created.ID || body["status"] != string(task.StatusRunning) || body["progress"] != float64(50) {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestTaskDetail(t *testing.T) {
	src := newStubSource()
	h := NewServer(":0", src, nil).Handler()
	created := src.tracker.Create(task.TypeSystem, "demo")
	_ = src.tracker.Start(created.ID)
	_ = src.tracker.Complete(created.ID, value.Number(5))

	rec := serve(t, h, "/api/v1/tasks/"+created.ID)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"status":"completed"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}

	rec = serve(t, h, "/api/v1/tasks/task_missing")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), string(task.CodeTaskNotFound)) {
		t.Fatalf("expected error code in %s", rec.Body.String())
	}
}

func TestTaskDetailWithUnencodableResult(t *testing.T) {
	src := newStubSource()
	h := NewServer(":0", src, nil).Handler()
	created := src.tracker.Create(task.TypeSystem, "overflow")
	_ = src.tracker.Start(created.ID)
	_ = src.tracker.Complete(created.ID, value.Number(math.Inf(1)))

	rec := serve(t, h, "/api/v1/tasks/"+created.ID)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d: %q", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "ENCODING_FAILED") {
		t.Fatalf("expected an error body, got %q", rec.Body.String())
	}
}

func TestListTasksParsesQuery(t *testing.T) {
	src := newStubSource()
	src.records = []history.Record{{TaskID: "task_1", Status: task.StatusFailed}}
	h := NewServer(":0", src, nil).Handler()

	rec := serve(t, h, "/api/v1/tasks?limit=5&offset=2&status=failed,cancelled")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if src.opts.Limit != 5 || src.opts.Offset != 2 || len(src.opts.Statuses) != 2 {
		t.Fatalf("unexpected options %+v", src.opts)
	}
	var records []history.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 1 || records[0].TaskID != "task_1" {
		t.Fatalf("unexpected records %+v", records)
	}

	for _, target := range []string{"/api/v1/tasks?limit=0", "/api/v1/tasks?offset=-1", "/api/v1/tasks?status=sleeping"} {
		if rec := serve(t, h, target); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, rec.Code)
		}
	}
}

func TestListTasksEmptyIsArray(t *testing.T) {
	h := NewServer(":0", newStubSource(), nil).Handler()
	rec := serve(t, h, "/api/v1/tasks")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestCapabilitiesHealthAndMetrics(t *testing.T) {
	collector := metrics.New()
	collector.ObserveRun("completed")
	h := NewServer(":0", newStubSource(), collector).Handler()

	rec := serve(t, h, "/api/v1/capabilities")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"name":"Calculator"`) {
		t.Fatalf("unexpected catalog response %d %s", rec.Code, rec.Body.String())
	}
	if rec := serve(t, h, "/healthz"); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("unexpected health response %d %q", rec.Code, rec.Body.String())
	}

	rec = serve(t, h, "/metrics")
	body := rec.Body.String()
	if !strings.Contains(body, `stepwise_runs_total{state="completed"} 1`) {
		t.Fatalf("missing run series in %s", body)
	}
	if !strings.Contains(body, `stepwise_http_requests_total{handler="/api/v1/capabilities",method="GET",code="200"} 1`) {
		t.Fatalf("missing request series in %s", body)
	}
}

func TestAuthProtectsAPIButNotHealth(t *testing.T) {
	h := NewServer(":0", newStubSource(), nil, WithAuth(auth.NewService(map[string]string{"ops": "s3cret"}))).Handler()

	if rec := serve(t, h, "/api/v1/capabilities"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec := serve(t, h, "/healthz"); rec.Code != http.StatusOK {
		t.Fatalf("health must stay public, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/capabilities", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}
}

func TestWithContextRejectsAfterShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := withContext(ctx, http.NotFoundHandler())
	if rec := serve(t, h, "/healthz"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
