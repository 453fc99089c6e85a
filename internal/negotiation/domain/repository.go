package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	OrgID     snowflake.ID
	ProductID snowflake.ID
	Status    Status
	Limit     int
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Tx() *gorm.DB
	Create(ctx context.Context, n *Negotiation) error
	FindByID(ctx context.Context, id snowflake.ID) (*Negotiation, error)
	LockByID(ctx context.Context, id snowflake.ID) (*Negotiation, error)
	FindByThreadID(ctx context.Context, threadID string) (*Negotiation, error)
	// Save writes every column if the stored version still matches.
	Save(ctx context.Context, n *Negotiation) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]Negotiation, error)
	List(ctx context.Context, filter ListFilter) ([]Negotiation, error)
}
