package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"tasks-api/internal/observability/metrics"
	"tasks-api/internal/task"
	"tasks-api/pkg/logger"
)

const (
	defaultShutdownTimeout = 5 * time.Second
	maxBodyBytes           = 2 << 20
)

// Server 负责暴露任务的 REST 接口。
type Server struct {
	addr            string
	tasks           *task.Service
	log             *slog.Logger
	metrics         *metrics.Collector
	strictNotFound  bool
	shutdownTimeout time.Duration
}

// Option 配置 Server。
type Option func(*Server)

// WithStrictNotFound 为 true 时，查询不存在的任务返回 404 而不是 500。
func WithStrictNotFound(strict bool) Option {
	return func(s *Server) {
		s.strictNotFound = strict
	}
}

// WithLogger 设置请求日志使用的记录器。
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics 启用 /metrics 并记录每个请求的指标。
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) {
		s.metrics = c
	}
}

// WithShutdownTimeout 设置优雅关闭时等待在途请求的时长。
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, tasks *task.Service, opts ...Option) *Server {
	s := &Server{addr: addr, tasks: tasks, shutdownTimeout: defaultShutdownTimeout}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Named("api")
	}
	return s
}

// Handler 返回注册了全部路由并带有中间件的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /tasks", s.handleListTasks)
	mux.HandleFunc("POST /tasks", s.handleCreateTask)
	mux.HandleFunc("GET /tasks/{id}", s.handleGetTask)
	mux.HandleFunc("PUT /tasks/{id}", s.handleUpdateTask)
	mux.HandleFunc("DELETE /tasks/{id}", s.handleDeleteTask)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return s.instrument(mux)
}

// Start 监听地址并提供服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve 在给定的 listener 上提供服务。上下文取消后停止接受新连接，
// 并在 shutdownTimeout 内等待在途请求完成。
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("HTTP 服务已启动", slog.String("addr", ln.Addr().String()))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("HTTP 服务关闭超时", slog.Any("error", err))
		}
		s.log.Info("HTTP 服务已停止")
		return nil
	case err := <-errCh:
		return err
	}
}
