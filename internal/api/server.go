package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"Stepwise-Agent/internal/auth"
	xerrors "Stepwise-Agent/internal/errors"
	"Stepwise-Agent/internal/history"
	"Stepwise-Agent/internal/observability/metrics"
	"Stepwise-Agent/internal/task"
	"Stepwise-Agent/pkg/plugin"
)

// StatusSource 是状态 API 读取的只读视图，*agent.Agent 天然满足。
type StatusSource interface {
	Tracker() *task.Tracker
	Catalog() []plugin.Descriptor
	ListHistory(ctx context.Context, opts history.ListOptions) ([]history.Record, error)
}

// Server 暴露只读的 REST 接口，供外部查看任务进度、历史与能力目录。
type Server struct {
	addr    string
	source  StatusSource
	metrics *metrics.Collector
	auth    *auth.Service
}

// Option 自定义 Server。
type Option func(*Server)

// WithAuth 要求除健康检查外的请求携带 Bearer 令牌。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) { s.auth = svc }
}

// NewServer 构造 API 服务实例，collector 可以为空。
func NewServer(addr string, source StatusSource, collector *metrics.Collector, opts ...Option) *Server {
	s := &Server{addr: addr, source: source, metrics: collector}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回完整的路由表。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "GET /api/v1/tasks", s.handleListTasks)
	s.route(mux, "GET /api/v1/tasks/active", s.handleActiveTask)
	s.route(mux, "GET /api/v1/tasks/{id}", s.handleTaskDetail)
	s.route(mux, "GET /api/v1/capabilities", s.handleCapabilities)
	s.route(mux, "GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	if s.metrics != nil {
		s.route(mux, "GET /metrics", s.metrics.Handler().ServeHTTP)
	}
	if s.auth.Enabled() {
		return s.auth.Middleware(auth.MiddlewareConfig{Public: []string{"/healthz"}})(mux)
	}
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// route 注册处理器并记录请求指标。
func (s *Server) route(mux *http.ServeMux, pattern string, handler http.HandlerFunc) {
	name := pattern[strings.IndexByte(pattern, ' ')+1:]
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler(rec, r)
		s.metrics.ObserveHTTPRequest(name, r.Method, rec.status)
	})
}

func (s *Server) handleActiveTask(w http.ResponseWriter, _ *http.Request) {
	active, ok := s.source.Tracker().Active()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, active)
}

func (s *Server) handleTaskDetail(w http.ResponseWriter, r *http.Request) {
	t, err := s.source.Tracker().Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	var opts []history.ListOption
	query := r.URL.Query()
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Code: "INVALID_ARGUMENT", Message: "limit 必须为正整数"})
			return
		}
		opts = append(opts, history.WithLimit(limit))
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Code: "INVALID_ARGUMENT", Message: "offset 必须为非负整数"})
			return
		}
		opts = append(opts, history.WithOffset(offset))
	}
	if raw := query.Get("status"); raw != "" {
		var statuses []task.Status
		for _, part := range strings.Split(raw, ",") {
			status := task.Status(strings.TrimSpace(part))
			if !task.IsValidStatus(status) {
				writeJSON(w, http.StatusBadRequest, errorBody{Code: "INVALID_ARGUMENT", Message: "未知的任务状态 " + string(status)})
				return
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, history.WithStatuses(statuses...))
	}

	records, err := s.source.ListHistory(r.Context(), history.BuildListOptions(opts...))
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleCapabilities(w http.ResponseWriter, _ *http.Request) {
	catalog := s.source.Catalog()
	if catalog == nil {
		catalog = []plugin.Descriptor{}
	}
	writeJSON(w, http.StatusOK, catalog)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError 根据错误码选择 HTTP 状态。
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := xerrors.CodeOf(err)
	if code == task.CodeTaskNotFound {
		status = http.StatusNotFound
	}
	if code == "" {
		code = "INTERNAL"
	}
	writeJSON(w, status, errorBody{Code: string(code), Message: err.Error()})
}

// writeJSON 先完整编码再写状态码，编码失败时返回 500。
func writeJSON(w http.ResponseWriter, status int, body any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		buf.Reset()
		_ = json.NewEncoder(&buf).Encode(errorBody{Code: "ENCODING_FAILED", Message: err.Error()})
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
