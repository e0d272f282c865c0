package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"FinCopilot/internal/aggregate"
	xerrors "FinCopilot/internal/errors"
	"FinCopilot/internal/observability/metrics"
	"FinCopilot/internal/task"
)

// Engine 定义了同步问答所需的编排能力, 由编排器实现。
type Engine interface {
	Run(ctx context.Context, requestText string) (*aggregate.Answer, error)
}

// Server 负责暴露 REST 接口，供外部提交问题与查询任务。
type Server struct {
	addr   string
	engine Engine
	tasks  *task.Service
	token  string
}

// Option 定义可选配置。
type Option func(*Server)

// WithAuthToken 启用共享口令鉴权, 为空则不鉴权。
func WithAuthToken(token string) Option {
	return func(s *Server) {
		s.token = strings.TrimSpace(token)
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, engine Engine, tasks *task.Service, opts ...Option) *Server {
	s := &Server{addr: addr, engine: engine, tasks: tasks}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回完整的路由, 便于测试与复用。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/ask", s.secured(s.instrument("ask", s.handleAsk)))
	mux.Handle("/api/v1/tasks", s.secured(s.instrument("tasks", s.handleTasks)))
	mux.Handle("/api/v1/tasks/", s.secured(s.instrument("task_detail", s.handleTaskDetail)))
	mux.Handle("/api/v1/stats", s.secured(s.instrument("stats", s.handleStats)))
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
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

type askRequest struct {
	Question string `json:"question"`
}

// handleAsk 同步执行一次问答请求。
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, xerrors.CodeInvalidArgument, "仅支持 POST")
		return
	}
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "问答引擎未初始化")
		return
	}

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, "请求体解析失败")
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		writeError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, "question 不能为空")
		return
	}

	answer, err := s.engine.Run(r.Context(), question)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateTask(w, r)
	case http.MethodGet:
		s.handleListTasks(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, xerrors.CodeInvalidArgument, "仅支持 GET/POST")
	}
}

// handleCreateTask 提交一个异步问答任务。
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "任务服务未初始化")
		return
	}

	var req task.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, "请求体解析失败")
		return
	}

	submitted, err := s.tasks.Submit(r.Context(), req)
	if err != nil {
		if xerrors.CodeOf(err) == task.CodeTaskValidation {
			writeError(w, http.StatusBadRequest, task.CodeTaskValidation, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, xerrors.CodeOf(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, submitted)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "任务服务未初始化")
		return
	}

	opts := make([]task.ListOption, 0, 4)
	query := r.URL.Query()
	if raw := query.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts = append(opts, task.WithLimit(parsed))
		}
	}
	if raw := query.Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts = append(opts, task.WithOffset(parsed))
		}
	}
	if raw := query.Get("status"); raw != "" {
		statuses := make([]task.Status, 0, 4)
		for _, piece := range strings.Split(raw, ",") {
			statuses = append(statuses, task.Status(strings.TrimSpace(piece)))
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if raw := query.Get("q"); raw != "" {
		opts = append(opts, task.WithQuery(raw))
	}

	results, err := s.tasks.List(r.Context(), opts...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, xerrors.CodeOf(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// handleTaskDetail 返回单个任务的状态。
func (s *Server) handleTaskDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, xerrors.CodeInvalidArgument, "仅支持 GET")
		return
	}
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "任务服务未初始化")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/tasks/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, "任务 ID 缺失")
		return
	}

	result, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		if task.IsTaskError(err, task.CodeTaskNotFound) {
			writeError(w, http.StatusNotFound, task.CodeTaskNotFound, "任务不存在")
			return
		}
		writeError(w, http.StatusInternalServerError, xerrors.CodeOf(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleStats 返回任务统计信息。
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, xerrors.CodeInvalidArgument, "仅支持 GET")
		return
	}
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "任务服务未初始化")
		return
	}
	stats, err := s.tasks.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, xerrors.CodeOf(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// secured 在配置了共享口令时校验 Bearer token。
func (s *Server) secured(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" {
			provided := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(provided), []byte(s.token)) != 1 {
				writeError(w, http.StatusUnauthorized, xerrors.CodeInvalidArgument, "鉴权失败")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// instrument 记录请求量与耗时指标。
func (s *Server) instrument(name string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code xerrors.Code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: string(code)})
}

// writeEngineError 将编排器错误映射到合适的 HTTP 状态码。
func writeEngineError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case xerrors.CodeDependencyUnsatisfiable:
		status = http.StatusUnprocessableEntity
	case xerrors.CodeInvalidArgument, xerrors.CodeParameterInvalid:
		status = http.StatusBadRequest
	case xerrors.CodeInitializationFailure:
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, code, err.Error())
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "服务已关闭")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
