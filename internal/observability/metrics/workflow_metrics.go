package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/procura/internal/authorization"
	"github.com/smallbiznis/procura/internal/guard"
	"github.com/smallbiznis/procura/pkg/db"
)

const (
	JobReasonDeadlineExceeded     = "deadline_exceeded"
	JobReasonDBLockTimeout        = "db_lock_timeout"
	JobReasonSerializationFailure = "serialization_failure"
	JobReasonUniqueViolation      = "unique_violation"
	JobReasonForbidden            = "forbidden"
	JobReasonInvalidTransition    = "invalid_transition"
	JobReasonUnknown              = "unknown"

	BatchDeferredReasonLocked = "entity_locked"
)

const (
	EntitySearchJob     = "search_job"
	EntityNegotiation   = "negotiation"
	EntityPurchaseOrder = "purchase_order"
	EntityWebhookEvent  = "webhook_event"
)

const (
	CapabilityResultOK        = "ok"
	CapabilityResultRetryable = "retryable"
	CapabilityResultFatal     = "fatal"
	CapabilityResultTimeout   = "timeout"
)

// WorkflowMetrics captures orchestrator and state machine health signals.
type WorkflowMetrics struct {
	jobRuns            *prometheus.CounterVec
	jobDuration        *prometheus.HistogramVec
	jobTimeouts        *prometheus.CounterVec
	jobErrors          *prometheus.CounterVec
	batchProcessed     *prometheus.CounterVec
	batchDeferred      *prometheus.CounterVec
	runLoopLag         prometheus.Histogram
	transitions        *prometheus.CounterVec
	quotaDenied        *prometheus.CounterVec
	capabilityCalls    *prometheus.CounterVec
	capabilityDuration *prometheus.HistogramVec
	webhookOutcomes    *prometheus.CounterVec
}

var (
	workflowMetricsOnce sync.Once
	workflowMetrics     *WorkflowMetrics
)

// Workflow returns the singleton workflow metrics registry.
func Workflow() *WorkflowMetrics {
	return WorkflowWithConfig(Config{})
}

// WorkflowWithConfig returns the singleton registry using config labels.
func WorkflowWithConfig(cfg Config) *WorkflowMetrics {
	workflowMetricsOnce.Do(func() {
		workflowMetrics = newWorkflowMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return workflowMetrics
}

func newWorkflowMetrics(registerer prometheus.Registerer, cfg Config) *WorkflowMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "procura"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{"service": serviceName, "env": environment}

	m := &WorkflowMetrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "procura_orchestrator_job_runs_total",
			Help:        "Orchestrator job runs by name.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "procura_orchestrator_job_duration_seconds",
			Help:        "Orchestrator job latency.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "procura_orchestrator_job_timeouts_total",
			Help:        "Orchestrator jobs that hit their deadline.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "procura_orchestrator_job_errors_total",
			Help:        "Orchestrator job errors by low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"job", "reason"}),
		batchProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "procura_orchestrator_batch_processed_total",
			Help:        "Entities processed per orchestrator job.",
			ConstLabels: constLabels,
		}, []string{"job", "resource"}),
		batchDeferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "procura_orchestrator_batch_deferred_total",
			Help:        "Entities skipped by the orchestrator, by reason.",
			ConstLabels: constLabels,
		}, []string{"job", "reason"}),
		runLoopLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "procura_orchestrator_runloop_lag_seconds",
			Help:        "Run loop lag beyond the configured interval.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			ConstLabels: constLabels,
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "procura_state_transitions_total",
			Help:        "Workflow entity state transitions.",
			ConstLabels: constLabels,
		}, []string{"entity", "from", "to"}),
		quotaDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "procura_quota_denied_total",
			Help:        "Quota and budget denials by reason.",
			ConstLabels: constLabels,
		}, []string{"reason"}),
		capabilityCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "procura_capability_calls_total",
			Help:        "Agent capability invocations by classified result.",
			ConstLabels: constLabels,
		}, []string{"capability", "result"}),
		capabilityDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "procura_capability_duration_seconds",
			Help:        "Agent capability latency.",
			Buckets:     []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
			ConstLabels: constLabels,
		}, []string{"capability"}),
		webhookOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "procura_webhook_events_total",
			Help:        "Webhook ingest and processing outcomes.",
			ConstLabels: constLabels,
		}, []string{"source", "outcome"}),
	}

	registerer.MustRegister(
		m.jobRuns,
		m.jobDuration,
		m.jobTimeouts,
		m.jobErrors,
		m.batchProcessed,
		m.batchDeferred,
		m.runLoopLag,
		m.transitions,
		m.quotaDenied,
		m.capabilityCalls,
		m.capabilityDuration,
		m.webhookOutcomes,
	)
	return m
}

func (m *WorkflowMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *WorkflowMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (m *WorkflowMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

func (m *WorkflowMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyJobReason(err)).Inc()
}

func (m *WorkflowMetrics) AddBatchProcessed(job, resource string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.batchProcessed.WithLabelValues(job, resource).Add(float64(count))
}

func (m *WorkflowMetrics) IncBatchDeferred(job, reason string) {
	if m == nil {
		return
	}
	m.batchDeferred.WithLabelValues(job, reason).Inc()
}

func (m *WorkflowMetrics) ObserveRunLoopLag(lag time.Duration) {
	if m == nil {
		return
	}
	if lag < 0 {
		lag = 0
	}
	m.runLoopLag.Observe(lag.Seconds())
}

func (m *WorkflowMetrics) IncTransition(entity, from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(entity, from, to).Inc()
}

func (m *WorkflowMetrics) IncQuotaDenied(reason string) {
	if m == nil {
		return
	}
	m.quotaDenied.WithLabelValues(reason).Inc()
}

func (m *WorkflowMetrics) ObserveCapability(capability, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.capabilityCalls.WithLabelValues(capability, result).Inc()
	m.capabilityDuration.WithLabelValues(capability).Observe(duration.Seconds())
}

func (m *WorkflowMetrics) IncWebhookOutcome(source, outcome string) {
	if m == nil {
		return
	}
	m.webhookOutcomes.WithLabelValues(source, outcome).Inc()
}

// ClassifyJobReason maps an orchestrator error to a bounded label value.
func ClassifyJobReason(err error) string {
	switch {
	case err == nil:
		return JobReasonUnknown
	case errors.Is(err, context.DeadlineExceeded):
		return JobReasonDeadlineExceeded
	case errors.Is(err, authorization.ErrForbidden):
		return JobReasonForbidden
	case errors.Is(err, guard.ErrInvalidTransition):
		return JobReasonInvalidTransition
	case db.IsLockTimeout(err):
		return JobReasonDBLockTimeout
	case db.IsSerializationFailure(err):
		return JobReasonSerializationFailure
	case db.IsDuplicateKeyErr(err):
		return JobReasonUniqueViolation
	default:
		return JobReasonUnknown
	}
}
