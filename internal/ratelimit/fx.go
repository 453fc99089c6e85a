package ratelimit

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/procura/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("rate.limit",
	fx.Provide(NewBucket),
	fx.Provide(func(cfg config.Config, bucket Bucket, log *zap.Logger) (*IngressLimiter, error) {
		return NewIngressLimiter(IngressConfig{
			Enabled:   cfg.WebhookRateLimit.Enabled,
			PerSecond: cfg.WebhookRateLimit.PerSecond,
			Burst:     cfg.WebhookRateLimit.Burst,
		}, bucket, log.Named("ratelimit"))
	}),
)

type BucketParams struct {
	fx.In

	Redis *redis.Client `optional:"true"`
}

// NewBucket shares the redis client with the entity locks when one is
// configured, so limits hold across replicas.
func NewBucket(p BucketParams) Bucket {
	if p.Redis == nil {
		return NewLocalBucket()
	}
	return NewRedisBucket(p.Redis)
}
