package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Tx() *gorm.DB
	Create(ctx context.Context, po *PurchaseOrder) error
	FindByID(ctx context.Context, id snowflake.ID) (*PurchaseOrder, error)
	LockByID(ctx context.Context, id snowflake.ID) (*PurchaseOrder, error)
	ListByNegotiation(ctx context.Context, negotiationID snowflake.ID) ([]PurchaseOrder, error)
	// FindActive returns the non-void order of a negotiation, or nil.
	FindActive(ctx context.Context, negotiationID snowflake.ID) (*PurchaseOrder, error)
	CountSent(ctx context.Context, negotiationID snowflake.ID) (int64, error)
	NextSequence(ctx context.Context, year int) (int64, error)
	Save(ctx context.Context, po *PurchaseOrder) error
}
