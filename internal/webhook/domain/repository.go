package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	// Insert creates the event unless (source, external_id) exists and
	// reports whether a row was written.
	Insert(ctx context.Context, ev *WebhookEvent) (bool, error)
	// Redelivered bumps processing_attempts on the existing row and
	// returns it.
	Redelivered(ctx context.Context, source, externalID string) (*WebhookEvent, error)
	FindByID(ctx context.Context, id snowflake.ID) (*WebhookEvent, error)
	LockByID(ctx context.Context, id snowflake.ID) (*WebhookEvent, error)
	Save(ctx context.Context, ev *WebhookEvent) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]WebhookEvent, error)
}
