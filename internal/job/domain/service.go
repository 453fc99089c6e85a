package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type SubmitRequest struct {
	OrgID            snowflake.ID
	UserID           snowflake.ID
	Query            string
	Filters          map[string]any
	Priority         int
	MaxRetries       *int
	EstimatedCostUSD decimal.Decimal
}

// Progress is the polling view of a job.
type Progress struct {
	JobID              snowflake.ID    `json:"job_id"`
	Status             Status          `json:"status"`
	ProgressPercentage int             `json:"progress_percentage"`
	CurrentStep        *string         `json:"current_step,omitempty"`
	StepsCompleted     int             `json:"steps_completed"`
	TotalSteps         int             `json:"total_steps"`
	ProductsFound      int             `json:"products_found"`
	ActualCostUSD      decimal.Decimal `json:"actual_cost_usd"`
	ErrorMessage       *string         `json:"error_message,omitempty"`
	Logs               []AgentLog      `json:"logs"`
}

type Service interface {
	Submit(ctx context.Context, req SubmitRequest) (*SearchJob, error)
	// ClaimPending moves up to limit pending jobs to queued, highest
	// priority first.
	ClaimPending(ctx context.Context, limit int) ([]SearchJob, error)
	Start(ctx context.Context, id snowflake.ID) (*SearchJob, error)
	// Advance runs the job's next step. Jobs that are not running or not
	// yet due are returned unchanged.
	Advance(ctx context.Context, id snowflake.ID) (*SearchJob, error)
	Cancel(ctx context.Context, id snowflake.ID, actorID *snowflake.ID) (*SearchJob, error)
	Get(ctx context.Context, id snowflake.ID) (*SearchJob, error)
	List(ctx context.Context, filter ListFilter) ([]SearchJob, error)
	Progress(ctx context.Context, id snowflake.ID, afterStep int) (*Progress, error)
	ListRunnable(ctx context.Context, limit int) ([]SearchJob, error)
}

var (
	ErrNotFound         = errors.New("search_job_not_found")
	ErrInvalidOrg       = errors.New("invalid_organization")
	ErrInvalidQuery     = errors.New("invalid_query")
	ErrInvalidPriority  = errors.New("invalid_priority")
	ErrInvalidRetries   = errors.New("invalid_max_retries")
	ErrInvalidUser      = errors.New("invalid_user")
	ErrJobBusy          = errors.New("search_job_busy")
	ErrConcurrentUpdate = errors.New("search_job_concurrent_update")
	ErrNoEligibleVendor = errors.New("no_eligible_vendors")
)
