package orchestrator

import (
	"context"
	"errors"
	"sync"

	"github.com/bwmarrin/snowflake"
	obsmetrics "github.com/smallbiznis/procura/internal/observability/metrics"
	"golang.org/x/sync/errgroup"
)

type workFunc func(ctx context.Context, i int) (snowflake.ID, error)

// forEach runs fn for items [0, n) on at most cfg.Workers goroutines. Busy
// entities are deferred to the next pass. Other failures are logged and
// joined without cancelling sibling work.
func (o *Orchestrator) forEach(ctx context.Context, run *jobRun, n int, fn workFunc, resource string) error {
	if n == 0 {
		return nil
	}
	var (
		mu     sync.Mutex
		joined error
		g      errgroup.Group
	)
	g.SetLimit(o.cfg.Workers)
	wfMetrics := obsmetrics.Workflow()

	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			wfMetrics.IncBatchDeferred(run.job, deferredReasonCancel)
			break
		}
		g.Go(func() error {
			orgID, err := fn(ctx, i)
			switch {
			case err == nil:
				run.AddProcessed(1)
				wfMetrics.AddBatchProcessed(run.job, resource, 1)
			case busy(err):
				run.IncDeferred()
				wfMetrics.IncBatchDeferred(run.job, deferredReasonBusy)
			default:
				o.logError(ctx, run, "orchestrator.item.failed", orgID, err)
				mu.Lock()
				joined = errors.Join(joined, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if joined == nil {
		return ctx.Err()
	}
	return joined
}
