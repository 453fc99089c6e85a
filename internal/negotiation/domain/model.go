package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	EmailKindInitialContact = "initial_contact"
	EmailKindFollowUp       = "follow_up"
)

// Negotiation tracks one price negotiation with a vendor over email.
type Negotiation struct {
	ID        snowflake.ID  `json:"id" gorm:"primaryKey"`
	OrgID     snowflake.ID  `json:"organization_id" gorm:"column:org_id;not null;index"`
	ProductID snowflake.ID  `json:"product_id" gorm:"not null;index"`
	VendorID  *snowflake.ID `json:"vendor_id,omitempty" gorm:"index"`
	UserID    snowflake.ID  `json:"user_id" gorm:"not null;index"`
	CreatedBy snowflake.ID  `json:"created_by" gorm:"not null"`

	Status Status `json:"status" gorm:"type:text;not null;index"`

	OriginalPrice      decimal.Decimal  `json:"original_price" gorm:"type:numeric(20,6);not null"`
	TargetPrice        decimal.Decimal  `json:"target_price" gorm:"type:numeric(20,6);not null"`
	CurrentOfferPrice  *decimal.Decimal `json:"current_offer_price,omitempty" gorm:"type:numeric(20,6)"`
	FinalPrice         *decimal.Decimal `json:"final_price,omitempty" gorm:"type:numeric(20,6)"`
	DiscountPercentage *float64         `json:"discount_percentage,omitempty"`
	Currency           string           `json:"currency" gorm:"type:text;not null;default:'USD'"`

	Quantity             int     `json:"quantity" gorm:"not null;default:1"`
	PaymentTerms         *string `json:"payment_terms,omitempty" gorm:"type:text"`
	DeliveryTimelineDays *int    `json:"delivery_timeline_days,omitempty"`

	EmailThreadID    *string           `json:"email_thread_id,omitempty" gorm:"type:text;index"`
	EmailSubject     *string           `json:"email_subject,omitempty" gorm:"type:text"`
	EmailSentCount   int               `json:"email_sent_count" gorm:"not null;default:0"`
	LastEmailContent datatypes.JSONMap `json:"last_email_content,omitempty" gorm:"type:jsonb"`

	VendorContactEmail   string     `json:"vendor_contact_email" gorm:"type:text;not null"`
	VendorContactName    *string    `json:"vendor_contact_name,omitempty" gorm:"type:text"`
	LastVendorResponseAt *time.Time `json:"last_vendor_response_at,omitempty"`

	AutoFollowUpEnabled bool       `json:"auto_follow_up_enabled" gorm:"not null"`
	NextFollowUpAt      *time.Time `json:"next_follow_up_at,omitempty" gorm:"index"`
	MaxFollowUps        int        `json:"max_follow_ups" gorm:"not null"`

	RequiresApproval bool          `json:"requires_approval" gorm:"not null"`
	ApprovedAt       *time.Time    `json:"approved_at,omitempty"`
	ApprovedBy       *snowflake.ID `json:"approved_by,omitempty"`

	DispatchAttempts int        `json:"dispatch_attempts" gorm:"not null;default:0"`
	NextDispatchAt   *time.Time `json:"next_dispatch_at,omitempty" gorm:"index"`
	ErrorMessage     *string    `json:"error_message,omitempty" gorm:"type:text"`

	Notes    *string           `json:"notes,omitempty" gorm:"type:text"`
	Strategy datatypes.JSONMap `json:"strategy,omitempty" gorm:"type:jsonb"`

	Version int `json:"-" gorm:"not null;default:0"`

	ExpiresAt *time.Time `json:"expires_at,omitempty" gorm:"index"`
	CreatedAt time.Time  `json:"created_at" gorm:"not null;index"`
	UpdatedAt time.Time  `json:"updated_at" gorm:"not null"`
}

func (Negotiation) TableName() string { return "negotiations" }

// AwaitingDispatch reports an approved negotiation whose first email has not
// gone out yet.
func (n *Negotiation) AwaitingDispatch() bool {
	if n.NextDispatchAt == nil {
		return false
	}
	if n.Status == StatusPendingApproval {
		return n.ApprovedAt != nil
	}
	return n.Status == StatusDraft && !n.RequiresApproval
}

// Expired reports whether the negotiation deadline has passed.
func (n *Negotiation) Expired(now time.Time) bool {
	return n.ExpiresAt != nil && now.After(*n.ExpiresAt)
}

// FollowUpDue reports whether a follow-up (or, once they are used up,
// expiry) is due.
func (n *Negotiation) FollowUpDue(now time.Time) bool {
	return n.Status == StatusSent && n.NextFollowUpAt != nil && !now.Before(*n.NextFollowUpAt)
}

// FollowUpsExhausted reports whether every allowed follow-up has been sent.
// The first email is not a follow-up.
func (n *Negotiation) FollowUpsExhausted() bool {
	return n.EmailSentCount > n.MaxFollowUps
}
