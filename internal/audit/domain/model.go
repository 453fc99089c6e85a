package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/procura/internal/entityref"
	"gorm.io/datatypes"
)

type AuditLog struct {
	ID           snowflake.ID      `json:"id" gorm:"primaryKey"`
	OrgID        snowflake.ID      `json:"organization_id" gorm:"column:org_id;not null;index"`
	ActorType    string            `json:"actor_type" gorm:"type:text;not null"`
	ActorID      *snowflake.ID     `json:"actor_id,omitempty" gorm:"index"`
	Action       string            `json:"action" gorm:"type:text;not null;index"`
	Target       entityref.Ref     `json:"target" gorm:"type:text;index"`
	Changes      datatypes.JSONMap `json:"changes,omitempty" gorm:"type:jsonb"`
	Metadata     datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`
	RequestID    *string           `json:"request_id,omitempty" gorm:"type:text"`
	Success      bool              `json:"success" gorm:"not null"`
	ErrorMessage *string           `json:"error_message,omitempty" gorm:"type:text"`
	CreatedAt    time.Time         `json:"created_at" gorm:"not null;index"`
}

func (AuditLog) TableName() string { return "audit_logs" }

const (
	ActorTypeUser   = "user"
	ActorTypeSystem = "system"
)

const (
	ActionJobSubmitted         = "search_job.submitted"
	ActionJobCancelled         = "search_job.cancelled"
	ActionNegotiationApproved  = "negotiation.approved"
	ActionNegotiationAccepted  = "negotiation.accepted"
	ActionNegotiationRejected  = "negotiation.rejected"
	ActionPurchaseOrderCreated = "purchase_order.generated"
	ActionPurchaseOrderVoided  = "purchase_order.voided"
	ActionPurchaseOrderApprove = "purchase_order.approved"
	ActionPurchaseOrderSent    = "purchase_order.sent"
	ActionWebhookFailed        = "webhook_event.failed_permanently"
	ActionSettingsUpdated      = "organization_settings.updated"
)
