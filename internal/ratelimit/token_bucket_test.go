package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalBucketBurstThenDeny(t *testing.T) {
	b := NewLocalBucket()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := b.Allow(ctx, "k", 0.001, 3)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "call %d", i)
	}
	res, err := b.Allow(ctx, "k", 0.001, 3)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Positive(t, res.RetryAfter)

	res, err = b.Allow(ctx, "other", 0.001, 3)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestBucketRejectsBadLimits(t *testing.T) {
	b := NewLocalBucket()
	_, err := b.Allow(context.Background(), "", 1, 1)
	assert.ErrorIs(t, err, ErrEmptyKey)
	_, err = b.Allow(context.Background(), "k", 0, 1)
	assert.ErrorIs(t, err, ErrInvalidLimit)
	_, err = b.Allow(context.Background(), "k", 1, 0)
	assert.ErrorIs(t, err, ErrInvalidLimit)
}

type failingBucket struct{}

func (failingBucket) Allow(context.Context, string, float64, int) (Result, error) {
	return Result{}, assert.AnError
}

func TestIngressLimiter(t *testing.T) {
	t.Run("disabled admits everything", func(t *testing.T) {
		l, err := NewIngressLimiter(IngressConfig{}, NewLocalBucket(), zap.NewNop())
		require.NoError(t, err)
		for i := 0; i < 10; i++ {
			assert.True(t, l.Allow(context.Background(), "gmail", "10.0.0.1").Allowed)
		}
	})

	t.Run("limits per source and address", func(t *testing.T) {
		l, err := NewIngressLimiter(IngressConfig{Enabled: true, PerSecond: 0.001, Burst: 1}, NewLocalBucket(), zap.NewNop())
		require.NoError(t, err)
		ctx := context.Background()
		assert.True(t, l.Allow(ctx, "gmail", "10.0.0.1").Allowed)
		assert.False(t, l.Allow(ctx, "GMAIL", "10.0.0.1").Allowed)
		assert.True(t, l.Allow(ctx, "gmail", "10.0.0.2").Allowed)
		assert.True(t, l.Allow(ctx, "sendgrid", "10.0.0.1").Allowed)
	})

	t.Run("fails open", func(t *testing.T) {
		l, err := NewIngressLimiter(IngressConfig{Enabled: true, PerSecond: 1, Burst: 1}, failingBucket{}, zap.NewNop())
		require.NoError(t, err)
		assert.True(t, l.Allow(context.Background(), "gmail", "10.0.0.1").Allowed)
	})

	t.Run("rejects invalid config", func(t *testing.T) {
		_, err := NewIngressLimiter(IngressConfig{Enabled: true}, NewLocalBucket(), zap.NewNop())
		assert.ErrorIs(t, err, ErrInvalidLimit)
	})
}
