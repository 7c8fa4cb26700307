package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/turtacn/apigateway/internal/config"
	"github.com/turtacn/apigateway/internal/infrastructure/guard"
	"github.com/turtacn/apigateway/internal/interfaces/http/handlers"
	"github.com/turtacn/apigateway/internal/interfaces/http/middleware"
	"github.com/turtacn/apigateway/pkg/logger"
)

// GatewayRoutes wires the public proxy engine.
type GatewayRoutes struct {
	Gateway *middleware.Gateway
	Proxy   *handlers.ProxyHandler
	Health  *handlers.HealthHandler

	// Guard is optional. When nil no volume or error-ratio protection runs.
	Guard *guard.Guard

	Tracer  trace.Tracer
	Metrics middleware.HTTPMetrics
}

// SetMode 根据运行环境设置 Gin 模式
func SetMode(environment string) {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
}

// NewGatewayEngine 创建网关路由：健康检查走具名路由，其余所有路径进入鉴权管道后转发到上游。
func NewGatewayEngine(r GatewayRoutes, log logger.Logger) *gin.Engine {
	engine := gin.New()
	engine.Use(middleware.RequestID())
	engine.Use(middleware.RecoveryMiddleware(log))
	engine.Use(middleware.LoggingMiddleware(log))
	if r.Tracer != nil && r.Metrics != nil {
		engine.Use(middleware.ObservabilityMiddleware(r.Tracer, r.Metrics))
	}

	engine.GET("/health", r.Health.HealthCheck)
	engine.GET("/ready", r.Health.ReadinessCheck)
	engine.GET("/live", r.Health.LivenessCheck)

	chain := make([]gin.HandlerFunc, 0, 3)
	if r.Guard != nil {
		chain = append(chain, middleware.GuardMiddleware(r.Guard, log))
	}
	chain = append(chain, r.Gateway.Handler(), r.Proxy.Handle)
	engine.NoRoute(chain...)
	return engine
}

// AdminRoutes wires the operator engine.
type AdminRoutes struct {
	Cache    *handlers.CacheHandler
	Health   *handlers.HealthHandler
	Gatherer prometheus.Gatherer
}

// NewAdminEngine 创建管理端路由：缓存管理、Prometheus 指标与 pprof。
func NewAdminEngine(cfg config.ServerConfig, r AdminRoutes, log logger.Logger) *gin.Engine {
	engine := gin.New()
	engine.Use(middleware.RequestID())
	engine.Use(middleware.RecoveryMiddleware(log))
	engine.Use(middleware.LoggingMiddleware(log))

	engine.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "X-Request-ID"},
		ExposeHeaders: []string{"X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}))

	engine.GET("/health", r.Health.HealthCheck)
	engine.GET("/ready", r.Health.ReadinessCheck)
	engine.GET("/live", r.Health.LivenessCheck)

	gatherer := r.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	if cfg.Environment != "production" {
		pprof.Register(engine)
	}

	admin := engine.Group("/admin/cache")
	{
		admin.GET("/stats", r.Cache.Stats)
		admin.DELETE("", r.Cache.Clear)
		admin.DELETE("/:type/*key", r.Cache.Evict)
	}
	return engine
}

// NewOriginEngine 创建记录源服务的内部接口路由。
func NewOriginEngine(origin *handlers.OriginHandler, health *handlers.HealthHandler, log logger.Logger) *gin.Engine {
	engine := gin.New()
	engine.Use(middleware.RequestID())
	engine.Use(middleware.RecoveryMiddleware(log))
	engine.Use(middleware.LoggingMiddleware(log))

	engine.GET("/health", health.HealthCheck)
	engine.GET("/ready", health.ReadinessCheck)
	engine.GET("/live", health.LivenessCheck)
	origin.Register(engine)

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":             "not_found",
			"error_description": "The requested resource was not found",
		})
	})
	return engine
}

// Server HTTP 服务器，随 context 取消优雅关闭
type Server struct {
	name            string
	server          *http.Server
	shutdownTimeout time.Duration
	logger          logger.Logger
}

// NewServer creates a named server for handler on addr.
func NewServer(name, addr string, handler http.Handler, cfg config.ServerConfig, log logger.Logger) *Server {
	shutdown := cfg.ShutdownTimeout
	if shutdown <= 0 {
		shutdown = 30 * time.Second
	}
	return &Server{
		name: name,
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       120 * time.Second,
			MaxHeaderBytes:    1 << 20, // 1MB
		},
		shutdownTimeout: shutdown,
		logger:          log.WithComponent(name),
	}
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "Starting HTTP server", logger.String("address", s.server.Addr))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info(context.Background(), "Shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Error(context.Background(), "Server forced to shutdown", err)
		return err
	}
	s.logger.Info(context.Background(), "HTTP server stopped")
	return nil
}
