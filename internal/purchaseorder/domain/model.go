package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusDraft    Status = "draft"
	StatusApproved Status = "approved"
	StatusSent     Status = "sent"
	StatusVoid     Status = "void"
)

// PurchaseOrder is the document generated from an accepted negotiation.
// Once sent it only changes through its approval fields.
type PurchaseOrder struct {
	ID            snowflake.ID  `json:"id" gorm:"primaryKey"`
	OrgID         snowflake.ID  `json:"organization_id" gorm:"column:org_id;not null;index"`
	NegotiationID snowflake.ID  `json:"negotiation_id" gorm:"not null;index"`
	VendorID      *snowflake.ID `json:"vendor_id,omitempty"`

	PONumber     string `json:"po_number" gorm:"column:po_number;type:text;not null;uniqueIndex:ux_purchase_orders_po_number"`
	SequenceYear int    `json:"-" gorm:"not null;index:ix_purchase_orders_sequence,priority:1"`
	Sequence     int64  `json:"-" gorm:"not null;index:ix_purchase_orders_sequence,priority:2"`

	Quantity     int             `json:"quantity" gorm:"not null"`
	UnitPrice    decimal.Decimal `json:"unit_price" gorm:"type:numeric(20,6);not null"`
	Subtotal     decimal.Decimal `json:"subtotal" gorm:"type:numeric(20,6);not null"`
	TaxAmount    decimal.Decimal `json:"tax_amount" gorm:"type:numeric(20,6);not null"`
	ShippingCost decimal.Decimal `json:"shipping_cost" gorm:"type:numeric(20,6);not null"`
	TotalAmount  decimal.Decimal `json:"total_amount" gorm:"type:numeric(20,6);not null"`
	Currency     string          `json:"currency" gorm:"type:text;not null"`

	PaymentTerms         *string           `json:"payment_terms,omitempty" gorm:"type:text"`
	DeliveryAddress      datatypes.JSONMap `json:"delivery_address,omitempty" gorm:"type:jsonb"`
	ExpectedDeliveryDate *time.Time        `json:"expected_delivery_date,omitempty"`

	ApprovedByUser bool          `json:"approved_by_user" gorm:"not null"`
	ApprovedAt     *time.Time    `json:"approved_at,omitempty"`
	ApprovedBy     *snowflake.ID `json:"approved_by,omitempty"`

	IsSentToVendor bool       `json:"is_sent_to_vendor" gorm:"not null;index"`
	SentAt         *time.Time `json:"sent_at,omitempty"`

	VoidedAt   *time.Time `json:"voided_at,omitempty" gorm:"index"`
	VoidReason *string    `json:"void_reason,omitempty" gorm:"type:text"`

	Notes    *string           `json:"notes,omitempty" gorm:"type:text"`
	Metadata datatypes.JSONMap `json:"metadata" gorm:"type:jsonb"`

	Version   int       `json:"-" gorm:"not null"`
	CreatedAt time.Time `json:"created_at" gorm:"not null;index"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (PurchaseOrder) TableName() string { return "purchase_orders" }

func (po *PurchaseOrder) Status() Status {
	switch {
	case po.VoidedAt != nil:
		return StatusVoid
	case po.IsSentToVendor:
		return StatusSent
	case po.ApprovedByUser:
		return StatusApproved
	default:
		return StatusDraft
	}
}
