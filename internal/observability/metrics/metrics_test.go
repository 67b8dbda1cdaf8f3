package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRenderIncludesObservedSeries(t *testing.T) {
	c := New()
	c.ObserveRun("completed")
	c.ObserveRun("completed")
	c.ObserveRun("failed")
	c.ObserveStep("Calculator", "add", OutcomeSuccess, 20*time.Millisecond)
	c.ObserveStep("Calculator", "add", OutcomeFailure, 2*time.Second)
	c.ObserveHTTPRequest("/api/v1/tasks", http.MethodGet, http.StatusOK)

	out := c.Render()
	for _, want := range []string{
		`stepwise_runs_total{state="completed"} 2`,
		`stepwise_runs_total{state="failed"} 1`,
		`stepwise_steps_total{capability="Calculator",method="add",outcome="success"} 1`,
		`stepwise_step_duration_seconds_bucket{capability="Calculator",method="add",le="0.05"} 1`,
		`stepwise_step_duration_seconds_bucket{capability="Calculator",method="add",le="2.5"} 2`,
		`stepwise_step_duration_seconds_count{capability="Calculator",method="add"} 2`,
		`stepwise_http_requests_total{handler="/api/v1/tasks",method="GET",code="200"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestHandlerServesText(t *testing.T) {
	c := New()
	c.ObserveRun("completed")
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain") {
		t.Fatalf("unexpected content type %q", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), "stepwise_runs_total") {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.ObserveRun("completed")
	c.ObserveStep("A", "b", OutcomeSuccess, time.Second)
	c.ObserveHTTPRequest("/", http.MethodGet, 200)
}
