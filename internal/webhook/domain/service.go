package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeDuplicate Outcome = "duplicate"
)

type IngestRequest struct {
	Source         string            `validate:"required,oneof=gmail sendgrid stripe custom"`
	ExternalID     string            `validate:"required,max=255"`
	EventType      string            `validate:"required,max=100"`
	Payload        map[string]any    `validate:"required"`
	Headers        map[string]string `validate:"omitempty"`
	IPAddress      string            `validate:"omitempty,ip"`
	UserAgent      string            `validate:"omitempty,max=500"`
	EventCreatedAt *time.Time
}

type Service interface {
	// Ingest stores a delivery once. A repeated (source, external_id)
	// returns OutcomeDuplicate with the existing event.
	Ingest(ctx context.Context, req IngestRequest) (*WebhookEvent, Outcome, error)
	// Process routes an unsettled event to its handler. Settled events are
	// returned unchanged, so calling it again is safe.
	Process(ctx context.Context, id snowflake.ID) (*WebhookEvent, error)
	Get(ctx context.Context, id snowflake.ID) (*WebhookEvent, error)
	ListDue(ctx context.Context, limit int) ([]WebhookEvent, error)
}

var (
	ErrNotFound         = errors.New("webhook_event_not_found")
	ErrInvalidEvent     = errors.New("invalid_webhook_event")
	ErrUnsupportedEvent = errors.New("unsupported_webhook_event")
	ErrNoMatch          = errors.New("webhook_no_matching_negotiation")
	ErrBusy             = errors.New("webhook_event_busy")
	ErrConcurrentUpdate = errors.New("webhook_event_concurrent_update")
)
