package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type GenerateRequest struct {
	NegotiationID snowflake.ID
	// Actor is an authorization subject, a user actor or the system.
	Actor                string
	DeliveryAddress      map[string]any
	ExpectedDeliveryDate *time.Time
	Notes                *string
}

type Service interface {
	Generate(ctx context.Context, req GenerateRequest) (*PurchaseOrder, error)
	Get(ctx context.Context, id snowflake.ID) (*PurchaseOrder, error)
	ListByNegotiation(ctx context.Context, negotiationID snowflake.ID) ([]PurchaseOrder, error)
	Approve(ctx context.Context, id snowflake.ID, approverID snowflake.ID) (*PurchaseOrder, error)
	MarkSent(ctx context.Context, id snowflake.ID, actorID snowflake.ID) (*PurchaseOrder, error)
	Void(ctx context.Context, id snowflake.ID, actorID snowflake.ID, reason string) (*PurchaseOrder, error)
	// Render returns the order as a PDF document.
	Render(ctx context.Context, id snowflake.ID) ([]byte, error)
}

var (
	ErrNotFound               = errors.New("purchase_order_not_found")
	ErrNegotiationNotAccepted = errors.New("negotiation_not_accepted")
	ErrAlreadyGenerated       = errors.New("purchase_order_already_generated")
	ErrAlreadySent            = errors.New("purchase_order_already_sent")
	ErrNotApproved            = errors.New("purchase_order_not_approved")
	ErrVoided                 = errors.New("purchase_order_voided")
	ErrSentImmutable          = errors.New("purchase_order_sent_immutable")
	ErrConcurrentUpdate       = errors.New("purchase_order_concurrent_update")
)
