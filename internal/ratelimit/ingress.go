package ratelimit

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const keyWebhookIngress = "procura:ratelimit:webhook:%s:%s"

type IngressConfig struct {
	Enabled   bool
	PerSecond float64
	Burst     int
}

// IngressLimiter throttles webhook deliveries per (source, client address).
type IngressLimiter struct {
	cfg    IngressConfig
	bucket Bucket
	log    *zap.Logger
}

func NewIngressLimiter(cfg IngressConfig, bucket Bucket, log *zap.Logger) (*IngressLimiter, error) {
	if !cfg.Enabled {
		return &IngressLimiter{cfg: cfg}, nil
	}
	if cfg.PerSecond <= 0 || cfg.Burst <= 0 {
		return nil, fmt.Errorf("%w: webhook ingress rate %v burst %d", ErrInvalidLimit, cfg.PerSecond, cfg.Burst)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &IngressLimiter{cfg: cfg, bucket: bucket, log: log}, nil
}

func (l *IngressLimiter) Enabled() bool {
	return l != nil && l.cfg.Enabled && l.bucket != nil
}

// Allow fails open when the backing store errors so deliveries are never
// dropped because the limiter is unavailable.
func (l *IngressLimiter) Allow(ctx context.Context, source, clientIP string) Result {
	if !l.Enabled() {
		return Result{Allowed: true}
	}
	key := fmt.Sprintf(keyWebhookIngress, strings.ToLower(strings.TrimSpace(source)), strings.TrimSpace(clientIP))
	res, err := l.bucket.Allow(ctx, key, l.cfg.PerSecond, l.cfg.Burst)
	if err != nil {
		l.log.Warn("webhook rate limit check failed", zap.String("source", source), zap.Error(err))
		return Result{Allowed: true}
	}
	return res
}
