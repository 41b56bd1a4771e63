// Package router 提供 HTTP 路由配置
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"convergence-engine/internal/config"
	"convergence-engine/internal/interfaces/http/handler"
	"convergence-engine/internal/interfaces/http/middleware"
)

// Handlers 路由依赖的处理器
type Handlers struct {
	Health      *handler.HealthHandler
	Convergence *handler.ConvergenceHandler
	Embedding   *handler.EmbeddingHandler
	Vector      *handler.VectorHandler
}

// Router HTTP 路由器
type Router struct {
	engine   *gin.Engine
	cfg      *config.Config
	handlers Handlers
	limiter  middleware.RateLimiter
	keyFn    middleware.KeyFunc
}

// Option 路由器选项
type Option func(*Router)

// WithRateLimiter 启用基于 Redis 的限流
func WithRateLimiter(limiter middleware.RateLimiter, keyFn middleware.KeyFunc) Option {
	return func(r *Router) {
		r.limiter = limiter
		r.keyFn = keyFn
	}
}

// New 创建新的路由器
func New(cfg *config.Config, handlers Handlers, opts ...Option) *Router {
	// 设置 Gin 模式
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := &Router{
		engine:   gin.New(),
		cfg:      cfg,
		handlers: handlers,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.setupMiddleware()
	r.setupRoutes()

	return r
}

// Engine 返回 Gin Engine
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// setupMiddleware 配置中间件
func (r *Router) setupMiddleware() {
	r.engine.Use(middleware.Recovery())
	r.engine.Use(middleware.RequestID())

	r.engine.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: r.cfg.Security.CORS.AllowedOrigins,
		AllowedMethods: r.cfg.Security.CORS.AllowedMethods,
		AllowedHeaders: r.cfg.Security.CORS.AllowedHeaders,
	}))

	quiet := append([]string{r.cfg.Observability.Metrics.Path}, middleware.DefaultSkipPaths...)

	if r.cfg.Observability.Tracing.Enabled {
		r.engine.Use(middleware.Trace(r.cfg.App.Name, quiet...))
		r.engine.Use(middleware.TraceContext())
	}

	if r.cfg.Observability.Metrics.Enabled {
		r.engine.Use(middleware.Metrics(quiet...))
	}

	r.engine.Use(middleware.Logging(middleware.DefaultSkipPaths...))

	if r.limiter != nil {
		rl := r.cfg.Security.RateLimit
		r.engine.Use(middleware.RateLimit(middleware.RateLimitConfig{
			Enabled:           rl.Enabled,
			RequestsPerSecond: rl.RequestsPerSecond,
			Burst:             rl.Burst,
			SkipPaths:         middleware.DefaultSkipPaths,
		}, r.limiter, r.keyFn))
	}
}

// setupRoutes 配置路由
func (r *Router) setupRoutes() {
	if h := r.handlers.Health; h != nil {
		r.engine.GET("/health", h.Health)
		r.engine.GET("/health/ready", h.Ready)
		r.engine.GET("/health/live", h.Live)
	}

	if r.cfg.Observability.Metrics.Enabled {
		path := r.cfg.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.engine.GET(path, gin.WrapH(promhttp.Handler()))
	}

	RegisterV1Routes(r.engine.Group("/api/v1"), r.handlers)
}
