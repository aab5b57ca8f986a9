package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	prom "github.com/prometheus/client_golang/prometheus"

	"CeleryPulse/internal/monitor"
	"CeleryPulse/internal/observability/metrics"
)

// StatusProvider 提供监控进程的运行状态。
type StatusProvider interface {
	Status() monitor.Status
}

// Server 暴露健康检查、Prometheus 指标与运行状态。
type Server struct {
	addr       string
	status     StatusProvider
	gatherer   prom.Gatherer
	collectors *metrics.Collectors
	logger     *slog.Logger
}

// Option 定制 Server。
type Option func(*Server)

// WithGatherer 指定 /metrics 输出的注册表。
func WithGatherer(g prom.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithCollectors 记录 HTTP 请求指标。
func WithCollectors(c *metrics.Collectors) Option {
	return func(s *Server) { s.collectors = c }
}

// WithLogger 设置日志实例。
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, status StatusProvider, opts ...Option) *Server {
	s := &Server{addr: addr, status: status, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler 构建路由。
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer, s.instrument)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(s.gatherer))
	r.Get("/api/v1/status", s.handleStatus)
	return r
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
	s.logger.Info("管理端口已启动", slog.String("address", s.addr))

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

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if s.status == nil {
		http.Error(w, "监控未初始化", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.status.Status()); err != nil {
		s.logger.Warn("状态编码失败", slog.Any("error", err))
	}
}

// instrument 按路由模板记录请求次数与耗时，避免路径参数撑爆标签。
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.collectors.ObserveHTTPRequest(route, r.Method, status, time.Since(start))
	})
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
