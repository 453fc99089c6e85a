package service

import (
	"context"
	"fmt"

	"github.com/smallbiznis/procura/internal/entityref"
	"github.com/smallbiznis/procura/internal/job/domain"
	notificationdomain "github.com/smallbiznis/procura/internal/notification/domain"
	obsmetrics "github.com/smallbiznis/procura/internal/observability/metrics"
	"go.uber.org/zap"
)

const jobMetricName = "search_job"

// finalize runs once per job, after the transaction that moved it to a
// terminal state has committed.
func (s *Service) finalize(ctx context.Context, job *domain.SearchJob) {
	msg := notificationdomain.Message{
		OrgID:       job.OrgID,
		UserID:      job.UserID,
		Link:        fmt.Sprintf("/search-jobs/%s", job.ID),
		ActionLabel: "View results",
		Related:     entityref.SearchJob(job.ID),
		Priority:    notificationdomain.PriorityNormal,
	}
	switch job.Status {
	case domain.StatusCompleted:
		msg.Type = notificationdomain.TypeJobCompleted
		msg.Title = "Search completed"
		msg.Message = fmt.Sprintf("Found %d products for %q across %d vendors.",
			job.ProductsFoundCount, job.QueryText, job.VendorsSearchedCount)
	case domain.StatusFailed:
		msg.Type = notificationdomain.TypeJobFailed
		msg.Title = "Search failed"
		msg.Message = fmt.Sprintf("Search for %q failed: %s", job.QueryText, deref(job.ErrorMessage))
		msg.Priority = notificationdomain.PriorityHigh
		msg.ActionLabel = "View details"
	case domain.StatusCancelled:
		msg.Type = notificationdomain.TypeJobCancelled
		msg.Title = "Search cancelled"
		msg.Message = fmt.Sprintf("Search for %q was cancelled.", job.QueryText)
		msg.Priority = notificationdomain.PriorityLow
		msg.ActionLabel = ""
	}
	s.notifier.Notify(ctx, msg)

	s.metrics.RecordJobFinished(ctx, string(job.Status))
	metrics := obsmetrics.Workflow()
	metrics.IncJobRun(jobMetricName + "_" + string(job.Status))
	if job.StartedAt != nil && job.CompletedAt != nil {
		metrics.ObserveJobDuration(jobMetricName, job.CompletedAt.Sub(*job.StartedAt))
	}

	s.log.Info("search job finished",
		zap.String("job_id", job.ID.String()),
		zap.String("status", string(job.Status)),
		zap.Int("products_found", job.ProductsFoundCount),
		zap.String("actual_cost_usd", job.ActualCostUSD.String()),
	)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
