package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	OrgID  snowflake.ID
	Status Status
	Limit  int
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	// Tx is the handle the repository writes through.
	Tx() *gorm.DB
	Create(ctx context.Context, job *SearchJob) error
	FindByID(ctx context.Context, id snowflake.ID) (*SearchJob, error)
	// LockByID reads the job under a row lock; call inside a transaction.
	LockByID(ctx context.Context, id snowflake.ID) (*SearchJob, error)
	// Save writes every column if the stored version still matches and
	// bumps the version.
	Save(ctx context.Context, job *SearchJob) error
	LockPending(ctx context.Context, limit int) ([]SearchJob, error)
	ListRunnable(ctx context.Context, now time.Time, limit int) ([]SearchJob, error)
	// CountActive counts the org's jobs in ActiveStatuses through tx, which
	// may differ from the repository's own handle.
	CountActive(ctx context.Context, tx *gorm.DB, orgID snowflake.ID) (int, error)
	List(ctx context.Context, filter ListFilter) ([]SearchJob, error)

	AppendLog(ctx context.Context, log *AgentLog) error
	ListLogs(ctx context.Context, jobID snowflake.ID, afterStep int, limit int) ([]AgentLog, error)
}
