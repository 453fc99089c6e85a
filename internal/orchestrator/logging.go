package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	obslogger "github.com/smallbiznis/procura/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/procura/internal/observability/metrics"
	"github.com/smallbiznis/procura/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

type jobRun struct {
	job       string
	runID     string
	startedAt time.Time

	mu             sync.Mutex
	processedCount int
	deferredCount  int
	errorCount     int
}

func (r *jobRun) AddProcessed(count int) {
	if r == nil || count <= 0 {
		return
	}
	r.mu.Lock()
	r.processedCount += count
	r.mu.Unlock()
}

func (r *jobRun) IncDeferred() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.deferredCount++
	r.mu.Unlock()
}

func (r *jobRun) IncError() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.errorCount++
	r.mu.Unlock()
}

func (r *jobRun) processed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.processedCount
}

func (r *jobRun) errors() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errorCount
}

// newJobRun tags ctx with a fresh correlation id that doubles as the run id.
func (o *Orchestrator) newJobRun(ctx context.Context, job string) (context.Context, *jobRun) {
	runID := ulid.Make().String()
	ctx = correlation.ContextWithCorrelationID(ctx, runID)
	return ctx, &jobRun{
		job:       job,
		runID:     runID,
		startedAt: o.clock.Now(),
	}
}

func (o *Orchestrator) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, o.log)
}

func (o *Orchestrator) logJobStart(ctx context.Context, run *jobRun) {
	o.logger(ctx).Debug("orchestrator.job.start",
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int("batch_size", o.cfg.BatchSize),
	)
}

func (o *Orchestrator) logJobFinish(ctx context.Context, run *jobRun) {
	run.mu.Lock()
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int64("duration_ms", o.clock.Now().Sub(run.startedAt).Milliseconds()),
		zap.Int("processed_count", run.processedCount),
		zap.Int("deferred_count", run.deferredCount),
		zap.Int("error_count", run.errorCount),
	}
	errorCount, processedCount := run.errorCount, run.processedCount
	run.mu.Unlock()

	log := o.logger(ctx)
	switch {
	case errorCount > 0:
		log.Warn("orchestrator.job.finish", fields...)
	case processedCount > 0:
		log.Info("orchestrator.job.finish", fields...)
	default:
		log.Debug("orchestrator.job.finish", fields...)
	}
}

func (o *Orchestrator) logError(ctx context.Context, run *jobRun, msg string, orgID snowflake.ID, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	run.IncError()
	base := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.String("reason", obsmetrics.ClassifyJobReason(err)),
		zap.Error(err),
	}
	if orgID != 0 {
		base = append(base, zap.String("org_id", orgID.String()))
	}
	o.logger(ctx).Error(msg, append(base, fields...)...)
}
