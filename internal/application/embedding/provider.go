package embedding

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	apperrors "convergence-engine/pkg/errors"
	"convergence-engine/pkg/logger"
	"convergence-engine/pkg/metrics"
)

// Provider 嵌入提供方
type Provider interface {
	Name() string
	Model() string
	// Dimensions 提供方声明的向量维度，未知时返回 0
	Dimensions() int
	Embed(ctx context.Context, input string) ([]float32, error)
}

// ChainConfig 提供方链配置
type ChainConfig struct {
	// AllowFallback 主提供方瞬时失败时是否允许切换到后备提供方
	AllowFallback bool
	Breaker       BreakerConfig
	// CallTimeout 单次提供方调用超时，0 表示只受调用方 context 约束
	CallTimeout time.Duration
	// RateLimit 每个提供方每秒请求数上限，0 表示不限
	RateLimit float64
	RateBurst int
}

type guardedProvider struct {
	provider Provider
	breaker  *Breaker
	limiter  *rate.Limiter
}

// ProviderChain 有序提供方链，每个提供方各自带熔断器
type ProviderChain struct {
	providers     []*guardedProvider
	allowFallback bool
	callTimeout   time.Duration
}

// NewProviderChain 创建提供方链，第一个为主提供方
func NewProviderChain(cfg ChainConfig, providers ...Provider) (*ProviderChain, error) {
	if len(providers) == 0 {
		return nil, errors.New("embedding: at least one provider is required")
	}

	chain := &ProviderChain{
		allowFallback: cfg.AllowFallback,
		callTimeout:   cfg.CallTimeout,
	}
	for _, p := range providers {
		gp := &guardedProvider{
			provider: p,
			breaker:  NewBreaker(p.Name(), cfg.Breaker),
		}
		if cfg.RateLimit > 0 {
			burst := cfg.RateBurst
			if burst <= 0 {
				burst = 1
			}
			gp.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
		}
		chain.providers = append(chain.providers, gp)
	}
	return chain, nil
}

// Primary 返回主提供方
func (c *ProviderChain) Primary() Provider {
	return c.providers[0].provider
}

// AllowFallback 是否允许后备
func (c *ProviderChain) AllowFallback() bool {
	return c.allowFallback
}

// States 返回各提供方熔断器状态
func (c *ProviderChain) States() map[string]BreakerState {
	out := make(map[string]BreakerState, len(c.providers))
	for _, gp := range c.providers {
		out[gp.provider.Name()] = gp.breaker.State()
	}
	return out
}

// Embed 依次尝试提供方。未授权后备时只调用主提供方，失败直接返回。
func (c *ProviderChain) Embed(ctx context.Context, input string) ([]float32, Provider, error) {
	var errs []error
	primary := c.providers[0].provider.Name()

	for i, gp := range c.providers {
		if i > 0 {
			if !c.allowFallback {
				break
			}
			metrics.EmbeddingFallbackTotal.WithLabelValues(primary, gp.provider.Name()).Inc()
			logger.Warn(ctx, "embedding falling back to secondary provider",
				"from", primary,
				"to", gp.provider.Name(),
				"cause", errs[len(errs)-1].Error(),
			)
		}

		vec, err := c.call(ctx, gp, input)
		if err == nil {
			return vec, gp.provider, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, apperrors.Wrap(ctxErr, apperrors.CodeTimeout, "embedding cancelled").
				WithField("provider", gp.provider.Name())
		}
		if !isTransient(err) {
			return nil, nil, err
		}
		errs = append(errs, err)
	}

	if len(errs) == 1 {
		appErr := apperrors.AsAppError(errs[0])
		if len(c.providers) > 1 && !c.allowFallback {
			appErr.WithField("fallback", "not authorized")
		}
		return nil, nil, appErr
	}

	names := make([]string, 0, len(c.providers))
	for _, gp := range c.providers {
		names = append(names, gp.provider.Name())
	}
	return nil, nil, apperrors.New(apperrors.CodeProviderUnavailable, "embedding provider chain exhausted").
		WithField("providers", names).
		WithError(errors.Join(errs...))
}

func (c *ProviderChain) call(ctx context.Context, gp *guardedProvider, input string) ([]float32, error) {
	name := gp.provider.Name()
	if gp.limiter != nil {
		if err := gp.limiter.Wait(ctx); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeProviderUnavailable, "embedding rate limit wait aborted").
				WithField("provider", name)
		}
	}

	return gp.breaker.Execute(ctx, func(ctx context.Context) ([]float32, error) {
		if c.callTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
			defer cancel()
		}

		start := time.Now()
		vec, err := gp.provider.Embed(ctx, input)
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.EmbeddingProviderDuration.WithLabelValues(name, status).Observe(time.Since(start).Seconds())

		if err != nil {
			if apperrors.IsAppError(err) {
				return nil, err
			}
			return nil, apperrors.Wrap(err, apperrors.CodeProviderUnavailable, "embedding provider unavailable").
				WithField("provider", name)
		}
		if len(vec) == 0 {
			return nil, apperrors.New(apperrors.CodeProviderUnavailable, "embedding provider returned empty vector").
				WithField("provider", name)
		}
		return vec, nil
	})
}

func isTransient(err error) bool {
	return apperrors.IsCode(err, apperrors.CodeProviderUnavailable) ||
		apperrors.IsCode(err, apperrors.CodeBreakerOpen)
}

