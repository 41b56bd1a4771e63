package embedding

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	apperrors "convergence-engine/pkg/errors"
	"convergence-engine/pkg/logger"
	"convergence-engine/pkg/metrics"
)

// BreakerState 熔断器状态
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerHalfOpen BreakerState = "half_open"
	BreakerOpen     BreakerState = "open"
)

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	// FailureThreshold 连续失败多少次后打开
	FailureThreshold uint32
	// Cooldown 打开状态持续时间，之后允许一次探测
	Cooldown time.Duration
}

// Breaker 包装 gobreaker：半开状态只放行一个探测请求，其余请求按打开处理。
type Breaker struct {
	name     string
	cooldown time.Duration
	cb       *gobreaker.CircuitBreaker

	mu       sync.Mutex
	openedAt time.Time
}

// NewBreaker 创建熔断器
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}

	b := &Breaker{name: name, cooldown: cfg.Cooldown}
	threshold := cfg.FailureThreshold
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: b.onStateChange,
		IsSuccessful:  countsAsSuccess,
	})
	metrics.BreakerState.WithLabelValues(name).Set(0)
	return b
}

// countsAsSuccess 参数错误与关闭状态下的调用方取消不计入失败；
// 半开探测被取消时没有证明提供方恢复，按失败处理。
func countsAsSuccess(err error) bool {
	var gone *callerCancelled
	if errors.As(err, &gone) {
		return !gone.halfOpen
	}
	return err == nil ||
		errors.Is(err, context.Canceled) ||
		apperrors.IsCode(err, apperrors.CodeInvalidInput)
}

// callerCancelled 标记调用方取消导致的失败，halfOpen 表示发生在半开探测中
type callerCancelled struct {
	err   error
	halfOpen bool
}

func (e *callerCancelled) Error() string { return e.err.Error() }
func (e *callerCancelled) Unwrap() error { return e.err }

func (b *Breaker) onStateChange(name string, from, to gobreaker.State) {
	if to == gobreaker.StateOpen {
		b.mu.Lock()
		b.openedAt = time.Now()
		b.mu.Unlock()
	}
	metrics.BreakerState.WithLabelValues(name).Set(stateGauge(to))
	logger.Warn(context.Background(), "embedding breaker state changed",
		"provider", name,
		"from", mapState(from),
		"to", mapState(to),
	)
}

// Name 返回熔断器名称（即提供方名称）
func (b *Breaker) Name() string {
	return b.name
}

// State 返回当前状态
func (b *Breaker) State() BreakerState {
	return mapState(b.cb.State())
}

// Remaining 返回打开状态剩余冷却时间
func (b *Breaker) Remaining() time.Duration {
	if b.cb.State() != gobreaker.StateOpen {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	left := b.cooldown - time.Since(b.openedAt)
	if left < 0 {
		return 0
	}
	return left
}

// Execute 经熔断器执行调用；打开或探测进行中时不发起调用，直接返回 BreakerOpen
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) ([]float32, error)) ([]float32, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		// 此时已通过 gobreaker 的准入检查，半开状态下本次调用即唯一探测
		halfOpen := b.cb.State() == gobreaker.StateHalfOpen
		vec, err := fn(ctx)
		if err != nil && errors.Is(err, context.Canceled) {
			return nil, &callerCancelled{err: err, halfOpen: halfOpen}
		}
		return vec, err
	})
	var gone *callerCancelled
	if errors.As(err, &gone) {
		return nil, gone.err
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, apperrors.New(apperrors.CodeBreakerOpen, "embedding provider circuit open").
			WithField("provider", b.name).
			WithField("breaker_state", string(b.State())).
			WithRetryAfter(b.Remaining())
	}
	if err != nil {
		return nil, err
	}
	vec, _ := res.([]float32)
	return vec, nil
}

func mapState(s gobreaker.State) BreakerState {
	switch s {
	case gobreaker.StateOpen:
		return BreakerOpen
	case gobreaker.StateHalfOpen:
		return BreakerHalfOpen
	default:
		return BreakerClosed
	}
}

func stateGauge(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
