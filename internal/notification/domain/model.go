package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/procura/internal/entityref"
)

type Notification struct {
	ID          snowflake.ID  `json:"id" gorm:"primaryKey"`
	OrgID       snowflake.ID  `json:"organization_id" gorm:"column:org_id;not null;index"`
	UserID      snowflake.ID  `json:"user_id" gorm:"not null;index"`
	Type        string        `json:"type" gorm:"type:text;not null;index"`
	Title       string        `json:"title" gorm:"type:text;not null"`
	Message     string        `json:"message" gorm:"type:text;not null"`
	Link        *string       `json:"link,omitempty" gorm:"type:text"`
	ActionLabel *string       `json:"action_label,omitempty" gorm:"type:text"`
	Related     entityref.Ref `json:"related" gorm:"type:text;index"`
	Priority    string        `json:"priority" gorm:"type:text;not null;default:'normal'"`
	Read        bool          `json:"read" gorm:"not null;default:false;index"`
	ReadAt      *time.Time    `json:"read_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at" gorm:"not null;index"`
}

func (Notification) TableName() string { return "notifications" }

const (
	TypeJobCompleted        = "job_completed"
	TypeJobFailed           = "job_failed"
	TypeJobCancelled        = "job_cancelled"
	TypeNegotiationReply    = "negotiation_reply"
	TypeNegotiationAccepted = "negotiation_accepted"
	TypeNegotiationExpired  = "negotiation_expired"
	TypePurchaseOrderReady  = "purchase_order_ready"
	TypePriceDropAlert      = "price_drop_alert"
	TypeSystemAlert         = "system_alert"
)

const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)
