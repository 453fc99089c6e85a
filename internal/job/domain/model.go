package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type StepKind string

const (
	StepScrape  StepKind = "scrape"
	StepExtract StepKind = "extract"
	StepEmbed   StepKind = "embed"
)

// Step is one entry of a job's plan, fixed when the job starts.
type Step struct {
	Kind       StepKind     `json:"kind"`
	VendorID   snowflake.ID `json:"vendor_id,omitempty"`
	VendorName string       `json:"vendor_name,omitempty"`
}

// Label is the human readable name shown as the job's current step.
func (s Step) Label() string {
	switch s.Kind {
	case StepScrape:
		return "scraping_" + s.VendorName
	case StepExtract:
		return "extracting_products"
	case StepEmbed:
		return "indexing_products"
	default:
		return string(s.Kind)
	}
}

type SearchJob struct {
	ID     snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID  snowflake.ID `json:"organization_id" gorm:"column:org_id;not null;index"`
	UserID snowflake.ID `json:"user_id" gorm:"not null;index"`

	QueryText    string            `json:"query_text" gorm:"type:text;not null"`
	RefinedQuery *string           `json:"refined_query,omitempty" gorm:"type:text"`
	Filters      datatypes.JSONMap `json:"filters" gorm:"type:jsonb"`

	Status             Status  `json:"status" gorm:"type:text;not null;index"`
	Priority           int     `json:"priority" gorm:"not null;default:1"`
	ProgressPercentage int     `json:"progress_percentage" gorm:"not null;default:0"`
	CurrentStep        *string `json:"current_step,omitempty" gorm:"type:text"`

	Plan       datatypes.JSONSlice[Step] `json:"plan,omitempty" gorm:"type:jsonb"`
	StepIndex  int                       `json:"step_index" gorm:"not null;default:0"`
	TotalSteps int                       `json:"total_steps" gorm:"not null;default:0"`

	ProductsFoundCount   int `json:"products_found_count" gorm:"not null;default:0"`
	VendorsSearchedCount int `json:"vendors_searched_count" gorm:"not null;default:0"`

	RetryCount    int        `json:"retry_count" gorm:"not null;default:0"`
	MaxRetries    int        `json:"max_retries" gorm:"not null"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty" gorm:"index"`
	ErrorMessage  *string    `json:"error_message,omitempty" gorm:"type:text"`

	EstimatedCostUSD decimal.Decimal `json:"estimated_cost_usd" gorm:"type:numeric(20,6);not null;default:0"`
	ActualCostUSD    decimal.Decimal `json:"actual_cost_usd" gorm:"type:numeric(20,6);not null;default:0"`

	Version int `json:"-" gorm:"not null;default:0"`

	StartedAt   *time.Time `json:"started_at,omitempty" gorm:"index"`
	CompletedAt *time.Time `json:"completed_at,omitempty" gorm:"index"`
	CreatedAt   time.Time  `json:"created_at" gorm:"not null;index"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"not null"`
}

func (SearchJob) TableName() string { return "search_jobs" }

// CurrentPlanStep returns the step the job will run next.
func (j *SearchJob) CurrentPlanStep() (Step, bool) {
	if j.StepIndex < 0 || j.StepIndex >= len(j.Plan) {
		return Step{}, false
	}
	return j.Plan[j.StepIndex], true
}

// Due reports whether a running job may run its next step at now.
func (j *SearchJob) Due(now time.Time) bool {
	return j.Status == StatusRunning && (j.NextAttemptAt == nil || !j.NextAttemptAt.After(now))
}

const (
	LogLevelInfo    = "INFO"
	LogLevelWarning = "WARNING"
	LogLevelError   = "ERROR"
)

// AgentLog is an append-only record of what the agents did for a job.
type AgentLog struct {
	ID          snowflake.ID      `json:"id" gorm:"primaryKey"`
	SearchJobID snowflake.ID      `json:"search_job_id" gorm:"not null;uniqueIndex:ux_agent_logs_job_step,priority:1"`
	StepNumber  int               `json:"step_number" gorm:"not null;uniqueIndex:ux_agent_logs_job_step,priority:2"`
	AgentName   string            `json:"agent_name" gorm:"type:text;not null"`
	Action      string            `json:"action" gorm:"type:text;not null"`
	LogLevel    string            `json:"log_level" gorm:"type:text;not null;default:'INFO'"`
	DurationMS  *int64            `json:"duration_ms,omitempty"`
	Metadata    datatypes.JSONMap `json:"metadata" gorm:"type:jsonb"`
	CreatedAt   time.Time         `json:"timestamp" gorm:"not null;index"`
}

func (AgentLog) TableName() string { return "agent_logs" }
