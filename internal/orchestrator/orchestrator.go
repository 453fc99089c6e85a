// Package orchestrator polls due work and drives the job, negotiation and
// webhook state machines from a bounded worker pool.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/procura/internal/clock"
	jobdomain "github.com/smallbiznis/procura/internal/job/domain"
	negotiationdomain "github.com/smallbiznis/procura/internal/negotiation/domain"
	obsmetrics "github.com/smallbiznis/procura/internal/observability/metrics"
	webhookdomain "github.com/smallbiznis/procura/internal/webhook/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	jobClaimJobs         = "claim_jobs"
	jobRunJobs           = "run_jobs"
	jobTickNegotiations  = "tick_negotiations"
	jobRetryWebhooks     = "retry_webhooks"
	tracerName           = "github.com/smallbiznis/procura/internal/orchestrator"
	deferredReasonBusy   = "busy"
	deferredReasonCancel = "canceled"
)

type Params struct {
	fx.In

	Log          *zap.Logger
	Clock        clock.Clock
	Jobs         jobdomain.Service
	Negotiations negotiationdomain.Service
	Webhooks     webhookdomain.Service
	Config       Config `optional:"true"`
}

type Orchestrator struct {
	log          *zap.Logger
	cfg          Config
	clock        clock.Clock
	jobs         jobdomain.Service
	negotiations negotiationdomain.Service
	webhooks     webhookdomain.Service

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(p Params) (*Orchestrator, error) {
	if p.Log == nil || p.Clock == nil || p.Jobs == nil || p.Negotiations == nil || p.Webhooks == nil {
		return nil, ErrInvalidConfig
	}
	return &Orchestrator{
		log:          p.Log.Named("orchestrator").With(zap.String("component", "orchestrator")),
		cfg:          p.Config.withDefaults(),
		clock:        p.Clock,
		jobs:         p.Jobs,
		negotiations: p.Negotiations,
		webhooks:     p.Webhooks,
	}, nil
}

func (o *Orchestrator) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context, run *jobRun) error,
) error {
	start := o.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "orchestrator."+name)
	defer span.End()

	ctx, run := o.newJobRun(ctx, name)
	o.logJobStart(ctx, run)
	wfMetrics := obsmetrics.Workflow()
	wfMetrics.IncJobRun(name)

	err := fn(ctx, run)
	wfMetrics.ObserveJobDuration(name, o.clock.Now().Sub(start))
	if err != nil && run.errors() == 0 {
		run.IncError()
	}
	span.SetAttributes(
		attribute.String("run_id", run.runID),
		attribute.Int("processed_count", run.processed()),
	)
	o.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	span.RecordError(err)
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		wfMetrics.IncJobTimeout(name)
	}
	wfMetrics.IncJobError(name, err)
	if isTimeout {
		o.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.String("run_id", run.runID),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs one pass over every enabled job. Job errors are joined; one
// failing job does not stop the others.
func (o *Orchestrator) RunOnce(parent context.Context) error {
	jobs := []struct {
		Name string
		Run  func(ctx context.Context, run *jobRun) error
	}{
		{jobClaimJobs, o.claimJobs},
		{jobRunJobs, o.runJobs},
		{jobTickNegotiations, o.tickNegotiations},
		{jobRetryWebhooks, o.retryWebhooks},
	}

	var err error
	for _, job := range jobs {
		if parent.Err() != nil {
			return errors.Join(err, parent.Err())
		}
		if !o.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, o.runJob(parent, job.Name, o.cfg.JobTimeout, job.Run))
	}
	return err
}

func (o *Orchestrator) RunForever(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := time.Now().Add(o.cfg.RunInterval)
	wfMetrics := obsmetrics.Workflow()

	for {
		if lag := time.Since(nextRun); lag > 0 {
			wfMetrics.ObserveRunLoopLag(lag)
		}
		if err := o.RunOnce(ctx); err != nil && ctx.Err() == nil {
			o.log.Warn("orchestrator run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(o.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Start launches the loop in the background.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	o.cancel = cancel
	o.done = done
	go func() {
		defer close(done)
		o.RunForever(loopCtx)
	}()
	o.log.Info("orchestrator started",
		zap.Duration("interval", o.cfg.RunInterval),
		zap.Int("workers", o.cfg.Workers),
	)
	return nil
}

// Stop cancels the loop and waits for the in-flight pass to return, or for
// ctx to expire.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	cancel, done := o.cancel, o.done
	o.cancel, o.done = nil, nil
	o.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		o.log.Info("orchestrator stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) claimJobs(ctx context.Context, run *jobRun) error {
	claimed, err := o.jobs.ClaimPending(ctx, o.cfg.BatchSize)
	if err != nil {
		o.logError(ctx, run, "orchestrator.claim.failed", 0, err)
		return err
	}
	run.AddProcessed(len(claimed))
	obsmetrics.Workflow().AddBatchProcessed(jobClaimJobs, "search_job", len(claimed))
	return nil
}

func (o *Orchestrator) runJobs(ctx context.Context, run *jobRun) error {
	jobs, err := o.jobs.ListRunnable(ctx, o.cfg.BatchSize)
	if err != nil {
		return err
	}
	return o.forEach(ctx, run, len(jobs), func(ctx context.Context, i int) (snowflake.ID, error) {
		job := jobs[i]
		if job.Status == jobdomain.StatusQueued {
			_, err := o.jobs.Start(ctx, job.ID)
			return job.OrgID, err
		}
		_, err := o.jobs.Advance(ctx, job.ID)
		return job.OrgID, err
	}, "search_job")
}

func (o *Orchestrator) tickNegotiations(ctx context.Context, run *jobRun) error {
	due, err := o.negotiations.ListDue(ctx, o.cfg.BatchSize)
	if err != nil {
		return err
	}
	return o.forEach(ctx, run, len(due), func(ctx context.Context, i int) (snowflake.ID, error) {
		_, err := o.negotiations.Tick(ctx, due[i].ID)
		return due[i].OrgID, err
	}, "negotiation")
}

func (o *Orchestrator) retryWebhooks(ctx context.Context, run *jobRun) error {
	due, err := o.webhooks.ListDue(ctx, o.cfg.BatchSize)
	if err != nil {
		return err
	}
	return o.forEach(ctx, run, len(due), func(ctx context.Context, i int) (snowflake.ID, error) {
		_, err := o.webhooks.Process(ctx, due[i].ID)
		return 0, err
	}, "webhook_event")
}

// busy reports whether another worker holds the entity; it is picked up
// again on a later pass.
func busy(err error) bool {
	return errors.Is(err, jobdomain.ErrJobBusy) ||
		errors.Is(err, negotiationdomain.ErrBusy) ||
		errors.Is(err, webhookdomain.ErrBusy)
}

func (o *Orchestrator) isJobEnabled(name string) bool {
	if len(o.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range o.cfg.EnabledJobs {
		if strings.EqualFold(enabled, name) {
			return true
		}
	}
	return false
}
