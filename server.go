package livehub

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tokmz/livehub/middleware"
	"github.com/tokmz/livehub/pkg/bus"
	"github.com/tokmz/livehub/pkg/errors"
	"github.com/tokmz/livehub/pkg/logger"
	"github.com/tokmz/livehub/pkg/metrics"
	"github.com/tokmz/livehub/pkg/ws"
)

// Server 承载 WebSocket 升级、健康检查、指标与管理接口
type Server struct {
	config    *Config
	hub       *ws.Hub
	engine    *gin.Engine
	log       logger.Logger
	publisher bus.Publisher

	mu           sync.Mutex
	server       *http.Server
	shutdownOnce sync.Once
	shutdownErr  error
}

// New 创建服务，hub 的生命周期随服务关闭而结束
func New(hub *ws.Hub, opts ...Option) *Server {
	config := defaultConfig()
	for _, opt := range opts {
		opt(config)
	}
	if config.Logger == nil {
		config.Logger = logger.NewNop()
	}

	// gin.SetMode 是全局状态，进程内应只创建一个 Server
	gin.SetMode(config.Mode)
	silenceGin()

	s := &Server{
		config:    config,
		hub:       hub,
		engine:    gin.New(),
		log:       config.Logger.With(zap.String("component", "server")),
		publisher: config.Publisher,
	}
	if s.publisher == nil {
		s.publisher = bus.NewDeliverer(hub, config.Logger)
	}

	if config.TrustedProxies != nil {
		if err := s.engine.SetTrustedProxies(config.TrustedProxies); err != nil {
			s.log.Warn("set trusted proxies failed", zap.Error(err))
		}
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.Use(
		middleware.Recovery(s.config.Logger),
		middleware.Tracing(&middleware.TracingConfig{ExcludePaths: []string{"/healthz", "/metrics"}}),
		middleware.Logger(s.config.Logger, &middleware.LoggerConfig{ExcludePaths: []string{"/healthz", "/metrics"}}),
	)

	s.engine.GET("/healthz", s.healthz)
	if s.config.Gatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(metrics.Handler(s.config.Gatherer)))
	}

	s.engine.GET("/ws/:namespace",
		middleware.RateLimiter(middleware.RateLimiterConfig{
			RequestsPerSecond: s.config.HandshakeRate,
			Burst:             s.config.HandshakeBurst,
			Logger:            s.config.Logger,
			ErrorHandler:      func(c *gin.Context, err *errors.Error) { respondError(c, err) },
		}),
		s.upgrade,
	)

	if s.config.AdminToken != "" {
		admin := s.engine.Group("/admin", adminAuth(s.config.AdminToken))
		admin.GET("/metrics", s.snapshot)
		admin.POST("/broadcast", s.broadcast)
		admin.POST("/kick", s.kick)
	}
}

// Handler 返回 HTTP 处理器（测试或自定义监听使用）
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run 监听并阻塞，收到 SIGINT/SIGTERM 或 ctx 取消后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve 在给定 listener 上服务
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: s.config.Server.ReadHeaderTimeout,
		IdleTimeout:       s.config.Server.IdleTimeout,
		MaxHeaderBytes:    s.config.Server.MaxHeaderBytes,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	s.hub.Start()
	if s.config.Banner {
		s.printBanner(ln.Addr().String())
	}
	s.log.Info("server listening", zap.String("addr", ln.Addr().String()))

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errChan:
		return multierr.Append(err, s.gracefulShutdown())
	case <-sigCtx.Done():
		s.log.Info("shutting down server")
	}
	return s.gracefulShutdown()
}

func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Shutdown.Timeout)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown 先通知并关闭所有 WebSocket 连接，再关闭 HTTP 服务
// 升级后的连接已被劫持，http.Server.Shutdown 不会等待它们
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		if s.config.Shutdown.BeforeShutdown != nil {
			s.config.Shutdown.BeforeShutdown()
		}

		err := s.hub.Shutdown(ctx)

		s.mu.Lock()
		srv := s.server
		s.mu.Unlock()
		if srv != nil {
			err = multierr.Append(err, srv.Shutdown(ctx))
		}
		err = multierr.Append(err, s.publisher.Close())

		if s.config.Shutdown.AfterShutdown != nil {
			s.config.Shutdown.AfterShutdown()
		}
		if err != nil {
			s.log.Error("server shutdown incomplete", zap.Error(err))
		} else {
			s.log.Info("server stopped")
		}
		s.shutdownErr = err
	})
	return s.shutdownErr
}
