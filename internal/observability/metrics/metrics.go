// Package metrics records run, step and status-API counters and renders them
// in the Prometheus text exposition format.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Step outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

type stepKey struct {
	capability string
	method     string
	outcome    string
}

type latencyKey struct {
	capability string
	method     string
}

type requestKey struct {
	handler string
	method  string
	code    string
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

// Collector accumulates counters in memory. The zero value is not usable;
// call New.
type Collector struct {
	mu       sync.Mutex
	runs     map[string]uint64
	steps    map[stepKey]uint64
	latency  map[latencyKey]*histogram
	requests map[requestKey]uint64
}

// New creates an empty collector.
func New() *Collector {
	return &Collector{
		runs:     make(map[string]uint64),
		steps:    make(map[stepKey]uint64),
		latency:  make(map[latencyKey]*histogram),
		requests: make(map[requestKey]uint64),
	}
}

// ObserveRun counts a run reaching a terminal state.
func (c *Collector) ObserveRun(state string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs[state]++
}

// ObserveStep records one capability invocation.
func (c *Collector) ObserveStep(capability, method, outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.steps[stepKey{capability: capability, method: method, outcome: outcome}]++
	key := latencyKey{capability: capability, method: method}
	hist := c.latency[key]
	if hist == nil {
		hist = newHistogram()
		c.latency[key] = hist
	}
	hist.observe(duration.Seconds())
}

// ObserveHTTPRequest records a status API request.
func (c *Collector) ObserveHTTPRequest(handler, method string, status int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests[requestKey{handler: handler, method: method, code: strconv.Itoa(status)}]++
}

func newHistogram() *histogram {
	buckets := []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			return
		}
	}
	// Values greater than the last bucket only show up in +Inf via h.count.
}

// Handler exposes the metrics in Prometheus text exposition format.
func (c *Collector) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, c.Render())
	})
}

// Render returns the current exposition text.
func (c *Collector) Render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	states := make([]string, 0, len(c.runs))
	for state := range c.runs {
		states = append(states, state)
	}
	sort.Strings(states)

	steps := make([]stepKey, 0, len(c.steps))
	for key := range c.steps {
		steps = append(steps, key)
	}
	sort.Slice(steps, func(i, j int) bool {
		if steps[i].capability != steps[j].capability {
			return steps[i].capability < steps[j].capability
		}
		if steps[i].method != steps[j].method {
			return steps[i].method < steps[j].method
		}
		return steps[i].outcome < steps[j].outcome
	})

	lats := make([]latencyKey, 0, len(c.latency))
	for key := range c.latency {
		lats = append(lats, key)
	}
	sort.Slice(lats, func(i, j int) bool {
		if lats[i].capability != lats[j].capability {
			return lats[i].capability < lats[j].capability
		}
		return lats[i].method < lats[j].method
	})

	reqs := make([]requestKey, 0, len(c.requests))
	for key := range c.requests {
		reqs = append(reqs, key)
	}
	sort.Slice(reqs, func(i, j int) bool {
		if reqs[i].handler != reqs[j].handler {
			return reqs[i].handler < reqs[j].handler
		}
		if reqs[i].method != reqs[j].method {
			return reqs[i].method < reqs[j].method
		}
		return reqs[i].code < reqs[j].code
	})

	var builder strings.Builder
	builder.Grow(1024)

	builder.WriteString("# HELP stepwise_runs_total Runs that reached a terminal state.\n")
	builder.WriteString("# TYPE stepwise_runs_total counter\n")
	for _, state := range states {
		fmt.Fprintf(&builder, "stepwise_runs_total{state=\"%s\"} %d\n", escape(state), c.runs[state])
	}

	builder.WriteString("# HELP stepwise_steps_total Capability invocations by outcome.\n")
	builder.WriteString("# TYPE stepwise_steps_total counter\n")
	for _, key := range steps {
		fmt.Fprintf(&builder, "stepwise_steps_total{capability=\"%s\",method=\"%s\",outcome=\"%s\"} %d\n",
			escape(key.capability), escape(key.method), escape(key.outcome), c.steps[key])
	}

	builder.WriteString("# HELP stepwise_step_duration_seconds Capability invocation duration in seconds.\n")
	builder.WriteString("# TYPE stepwise_step_duration_seconds histogram\n")
	for _, key := range lats {
		hist := c.latency[key]
		labels := fmt.Sprintf("capability=\"%s\",method=\"%s\"", escape(key.capability), escape(key.method))
		for idx, bound := range hist.buckets {
			fmt.Fprintf(&builder, "stepwise_step_duration_seconds_bucket{%s,le=\"%s\"} %d\n", labels, formatFloat(bound), hist.counts[idx])
		}
		fmt.Fprintf(&builder, "stepwise_step_duration_seconds_bucket{%s,le=\"+Inf\"} %d\n", labels, hist.count)
		fmt.Fprintf(&builder, "stepwise_step_duration_seconds_sum{%s} %s\n", labels, formatFloat(hist.sum))
		fmt.Fprintf(&builder, "stepwise_step_duration_seconds_count{%s} %d\n", labels, hist.count)
	}

	builder.WriteString("# HELP stepwise_http_requests_total Status API requests processed.\n")
	builder.WriteString("# TYPE stepwise_http_requests_total counter\n")
	for _, key := range reqs {
		fmt.Fprintf(&builder, "stepwise_http_requests_total{handler=\"%s\",method=\"%s\",code=\"%s\"} %d\n",
			escape(key.handler), escape(key.method), escape(key.code), c.requests[key])
	}

	return builder.String()
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
