package cloudmetrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/procura/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("cloud.metrics",
	fx.Invoke(Register),
)

// Register starts the push loop when METRICS_PUSH_ENABLED is set. A bad
// exporter config is logged and leaves the service running without it.
func Register(lc fx.Lifecycle, cfg config.Config, db *gorm.DB, log *zap.Logger) error {
	pushCfg := cfg.MetricsPush
	if !pushCfg.Enabled {
		return nil
	}
	log = log.Named("cloudmetrics")

	grouping := map[string]string{"environment": cfg.Environment}
	if pushCfg.InstanceID != "" {
		grouping["instance"] = pushCfg.InstanceID
	}
	pusher, err := NewPusher(pushCfg, cfg.AppName, grouping)
	if err != nil {
		log.Warn("metrics push disabled", zap.Error(err))
		return nil
	}

	registry := prometheus.NewRegistry()
	snapshot, err := NewSnapshot(db, registry, prometheus.Labels{"service": cfg.AppName})
	if err != nil {
		return err
	}
	loop := &pushLoop{snapshot: snapshot, pusher: pusher, registry: registry, log: log}

	interval := pushCfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				loop.run(ctx, interval)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
	return nil
}

type pushLoop struct {
	snapshot *Snapshot
	pusher   Pusher
	registry *prometheus.Registry
	log      *zap.Logger
}

func (l *pushLoop) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	l.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *pushLoop) tick(ctx context.Context) {
	if err := l.snapshot.Refresh(ctx); err != nil {
		l.log.Warn("refresh accounting metrics failed", zap.Error(err))
		return
	}
	pushCtx, cancel := context.WithTimeout(ctx, defaultPushTimeout)
	defer cancel()
	if err := l.pusher.Push(pushCtx, l.registry); err != nil {
		l.log.Warn("push accounting metrics failed", zap.Error(err))
	}
}
