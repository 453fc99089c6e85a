package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/procura/internal/authorization"
	"github.com/smallbiznis/procura/internal/guard"
	"gorm.io/gorm"
)

func TestClassifyJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: fmt.Errorf("advance: %w", context.DeadlineExceeded), want: JobReasonDeadlineExceeded},
		{name: "forbidden", err: authorization.ErrForbidden, want: JobReasonForbidden},
		{name: "invalid transition", err: &guard.InvalidTransitionError{Entity: "negotiation", Current: "draft", Requested: "accepted"}, want: JobReasonInvalidTransition},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: JobReasonDBLockTimeout},
		{name: "serialization_failure", err: &pgconn.PgError{Code: "40001"}, want: JobReasonSerializationFailure},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: JobReasonUniqueViolation},
		{name: "unknown", err: errors.New("boom"), want: JobReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestWorkflowMetricsCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newWorkflowMetrics(registry, Config{ServiceName: "procura", Environment: "test"})

	m.AddBatchProcessed("dispatch_search_jobs", "search_jobs", 3)
	m.IncTransition(EntitySearchJob, "running", "completed")
	m.IncTransition(EntitySearchJob, "running", "completed")
	m.ObserveCapability("scrape", CapabilityResultTimeout, 2*time.Second)

	if got := testutil.ToFloat64(m.batchProcessed.WithLabelValues("dispatch_search_jobs", "search_jobs")); got != 3 {
		t.Fatalf("expected processed count 3, got %v", got)
	}
	if got := testutil.ToFloat64(m.transitions.WithLabelValues(EntitySearchJob, "running", "completed")); got != 2 {
		t.Fatalf("expected 2 transitions, got %v", got)
	}
	if got := testutil.ToFloat64(m.capabilityCalls.WithLabelValues("scrape", CapabilityResultTimeout)); got != 1 {
		t.Fatalf("expected 1 capability call, got %v", got)
	}
}

func TestNilWorkflowMetricsIsSafe(t *testing.T) {
	var m *WorkflowMetrics
	m.IncJobRun("x")
	m.IncQuotaDenied("searches")
	m.ObserveRunLoopLag(-time.Second)
}
