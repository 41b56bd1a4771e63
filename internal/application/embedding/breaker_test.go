package embedding

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "convergence-engine/pkg/errors"
)

const testCooldown = 60 * time.Millisecond

func failingCall(calls *atomic.Int64) func(context.Context) ([]float32, error) {
	return func(context.Context) ([]float32, error) {
		calls.Add(1)
		return nil, errBoom
	}
}

func succeedingCall(calls *atomic.Int64) func(context.Context) ([]float32, error) {
	return func(context.Context) ([]float32, error) {
		calls.Add(1)
		return []float32{1}, nil
	}
}

func tripBreaker(t *testing.T, b *Breaker, calls *atomic.Int64) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := b.Execute(ctx, failingCall(calls))
		require.ErrorIs(t, err, errBoom)
	}
	require.Equal(t, BreakerOpen, b.State())
}

func TestBreaker_OpensAfterThresholdAndFailsFast(t *testing.T) {
	b := NewBreaker("local", BreakerConfig{FailureThreshold: 2, Cooldown: testCooldown})
	var calls atomic.Int64

	_, err := b.Execute(context.Background(), failingCall(&calls))
	require.Error(t, err)
	assert.Equal(t, BreakerClosed, b.State(), "one failure must not trip a threshold of two")

	_, err = b.Execute(context.Background(), failingCall(&calls))
	require.Error(t, err)
	assert.Equal(t, BreakerOpen, b.State())

	_, err = b.Execute(context.Background(), succeedingCall(&calls))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeBreakerOpen))
	assert.EqualValues(t, 2, calls.Load(), "open breaker must not invoke the provider")

	appErr := apperrors.AsAppError(err)
	assert.Greater(t, appErr.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, appErr.RetryAfter, testCooldown)
	assert.Equal(t, "local", appErr.Fields["provider"])
}

func TestBreaker_HalfOpenProbeSuccessCloses(t *testing.T) {
	b := NewBreaker("local", BreakerConfig{FailureThreshold: 2, Cooldown: testCooldown})
	var calls atomic.Int64
	tripBreaker(t, b, &calls)

	time.Sleep(testCooldown + 20*time.Millisecond)
	assert.Equal(t, BreakerHalfOpen, b.State())

	vec, err := b.Execute(context.Background(), succeedingCall(&calls))
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, vec)
	assert.Equal(t, BreakerClosed, b.State())
	assert.EqualValues(t, 3, calls.Load())
}

func TestBreaker_HalfOpenProbeFailureReopensWithFreshCooldown(t *testing.T) {
	b := NewBreaker("local", BreakerConfig{FailureThreshold: 2, Cooldown: testCooldown})
	var calls atomic.Int64
	tripBreaker(t, b, &calls)

	time.Sleep(testCooldown + 20*time.Millisecond)
	require.Equal(t, BreakerHalfOpen, b.State())

	_, err := b.Execute(context.Background(), failingCall(&calls))
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, BreakerOpen, b.State())
	assert.Greater(t, b.Remaining(), testCooldown/2, "cooldown restarts after a failed probe")

	_, err = b.Execute(context.Background(), succeedingCall(&calls))
	assert.True(t, apperrors.IsCode(err, apperrors.CodeBreakerOpen))
	assert.EqualValues(t, 3, calls.Load())
}

func TestBreaker_SingleProbeInHalfOpen(t *testing.T) {
	b := NewBreaker("local", BreakerConfig{FailureThreshold: 2, Cooldown: testCooldown})
	var calls atomic.Int64
	tripBreaker(t, b, &calls)
	time.Sleep(testCooldown + 20*time.Millisecond)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := b.Execute(context.Background(), func(context.Context) ([]float32, error) {
			calls.Add(1)
			close(started)
			<-release
			return []float32{1}, nil
		})
		done <- err
	}()

	<-started
	_, err := b.Execute(context.Background(), succeedingCall(&calls))
	assert.True(t, apperrors.IsCode(err, apperrors.CodeBreakerOpen), "second caller must fail fast while the probe is in flight")

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, BreakerClosed, b.State())
	assert.EqualValues(t, 3, calls.Load())
}

func TestBreaker_CancellationNotCountedAsFailure(t *testing.T) {
	b := NewBreaker("local", BreakerConfig{FailureThreshold: 2, Cooldown: testCooldown})

	for i := 0; i < 3; i++ {
		_, err := b.Execute(context.Background(), func(context.Context) ([]float32, error) {
			return nil, context.Canceled
		})
		require.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_CancelledHalfOpenCallReopens(t *testing.T) {
	b := NewBreaker("local", BreakerConfig{FailureThreshold: 1, Cooldown: testCooldown})
	var calls atomic.Int64

	_, err := b.Execute(context.Background(), failingCall(&calls))
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, BreakerOpen, b.State())

	time.Sleep(testCooldown + 20*time.Millisecond)
	require.Equal(t, BreakerHalfOpen, b.State())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.Execute(ctx, func(ctx context.Context) ([]float32, error) {
		calls.Add(1)
		return nil, ctx.Err()
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, apperrors.IsCode(err, apperrors.CodeBreakerOpen))
	assert.Equal(t, BreakerOpen, b.State(), "an abandoned half-open call proves nothing about the provider")

	_, err = b.Execute(context.Background(), succeedingCall(&calls))
	assert.True(t, apperrors.IsCode(err, apperrors.CodeBreakerOpen))
	assert.EqualValues(t, 2, calls.Load())
}
