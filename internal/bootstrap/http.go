package bootstrap

import (
	"convergence-engine/internal/config"
	"convergence-engine/internal/infrastructure/messaging"
	"convergence-engine/internal/infrastructure/persistence/redis"
	"convergence-engine/internal/interfaces/http/handler"
	"convergence-engine/internal/interfaces/http/router"
)

// HealthDependencies 就绪检查项，向量库为必需依赖
func HealthDependencies(data *DataLayer) []handler.Dependency {
	var deps []handler.Dependency
	if data.Qdrant != nil {
		deps = append(deps, handler.Dependency{Name: "qdrant", Checker: data.Qdrant, Required: true})
	}
	if data.Milvus != nil {
		deps = append(deps, handler.Dependency{Name: "milvus", Checker: data.Milvus, Required: true})
	}
	if data.Redis != nil {
		deps = append(deps, handler.Dependency{Name: "redis", Checker: data.Redis})
	}
	if data.Postgres != nil {
		deps = append(deps, handler.Dependency{Name: "postgres", Checker: data.Postgres})
	}
	return deps
}

// NewProducer Redis 可用时创建预热任务生产者
func NewProducer(cfg *config.Config, data *DataLayer) *messaging.Producer {
	if data.Redis == nil {
		return nil
	}
	return messaging.NewProducer(data.Redis.Redis(), int64(cfg.Messaging.RedisStream.MaxLen))
}

// NewRouter 组装 HTTP 处理器与路由
func NewRouter(cfg *config.Config, data *DataLayer, svc *Services) *router.Router {
	var publisher handler.WarmupPublisher
	if p := NewProducer(cfg, data); p != nil {
		publisher = p
	}

	handlers := router.Handlers{
		Health:      handler.NewHealthHandler(cfg.App.Version, HealthDependencies(data)...),
		Convergence: handler.NewConvergenceHandler(svc.Engine),
		Embedding:   handler.NewEmbeddingHandler(svc.Embedding, publisher),
		Vector:      handler.NewVectorHandler(svc.Connector, svc.Embedding, svc.Analyzer),
	}

	var opts []router.Option
	if data.RateLimiter != nil {
		opts = append(opts, router.WithRateLimiter(data.RateLimiter, redis.BuildRateLimitKey))
	}
	return router.New(cfg, handlers, opts...)
}
