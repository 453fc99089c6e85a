package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type CreateRequest struct {
	OrgID                snowflake.ID
	UserID               snowflake.ID
	ProductID            snowflake.ID
	TargetPrice          decimal.Decimal
	Quantity             int
	RequiresApproval     *bool
	AutoFollowUp         *bool
	MaxFollowUps         *int
	PaymentTerms         *string
	DeliveryTimelineDays *int
	Notes                *string
	ExpiresAt            *time.Time
}

// Reply is an inbound vendor email matched to a negotiation.
type Reply struct {
	OfferPrice *decimal.Decimal
	Subject    string
	Content    string
	From       string
	MessageID  string
	ReceivedAt time.Time
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Negotiation, error)
	Get(ctx context.Context, id snowflake.ID) (*Negotiation, error)
	List(ctx context.Context, filter ListFilter) ([]Negotiation, error)
	FindByThread(ctx context.Context, threadID string) (*Negotiation, error)

	RequestApproval(ctx context.Context, id snowflake.ID, actorID snowflake.ID) (*Negotiation, error)
	// Approve records the approval and dispatches the first email. A
	// transient send failure leaves the negotiation approved and awaiting
	// dispatch; the orchestrator retries it.
	Approve(ctx context.Context, id snowflake.ID, approverID snowflake.ID) (*Negotiation, error)
	// Send dispatches the first email of a negotiation that needs no
	// approval.
	Send(ctx context.Context, id snowflake.ID, actorID snowflake.ID) (*Negotiation, error)
	RecordVendorReply(ctx context.Context, id snowflake.ID, reply Reply) (*Negotiation, error)
	Accept(ctx context.Context, id snowflake.ID, finalPrice decimal.Decimal, actorID snowflake.ID) (*Negotiation, error)
	Reject(ctx context.Context, id snowflake.ID, actorID snowflake.ID, reason string) (*Negotiation, error)

	// Tick retries a pending dispatch, sends a due follow-up, or expires
	// the negotiation.
	Tick(ctx context.Context, id snowflake.ID) (*Negotiation, error)
	ListDue(ctx context.Context, limit int) ([]Negotiation, error)
}

// AcceptanceHandler is told about accepted negotiations once the
// acceptance has committed.
type AcceptanceHandler interface {
	NegotiationAccepted(ctx context.Context, n *Negotiation) error
}

var (
	ErrNotFound         = errors.New("negotiation_not_found")
	ErrInvalidOrg       = errors.New("invalid_organization")
	ErrInvalidUser      = errors.New("invalid_user")
	ErrInvalidPrice     = errors.New("invalid_price")
	ErrInvalidQuantity  = errors.New("invalid_quantity")
	ErrInvalidFollowUps = errors.New("invalid_max_follow_ups")
	ErrNoVendorContact  = errors.New("vendor_contact_missing")
	ErrApprovalRequired = errors.New("approval_required")
	ErrBusy             = errors.New("negotiation_busy")
	ErrConcurrentUpdate = errors.New("negotiation_concurrent_update")
)
