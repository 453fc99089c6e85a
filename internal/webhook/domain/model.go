package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	SourceGmail    = "gmail"
	SourceSendgrid = "sendgrid"
	SourceStripe   = "stripe"
	SourceCustom   = "custom"
)

const (
	EventEmailReceived    = "email.received"
	EventPaymentSucceeded = "payment.succeeded"
)

// WebhookEvent is one external delivery, unique per (source, external_id).
type WebhookEvent struct {
	ID         snowflake.ID `json:"id" gorm:"primaryKey"`
	Source     string       `json:"source" gorm:"type:text;not null;uniqueIndex:ux_webhook_events_source_external,priority:1"`
	ExternalID string       `json:"external_id" gorm:"type:text;not null;uniqueIndex:ux_webhook_events_source_external,priority:2"`
	EventType  string       `json:"event_type" gorm:"type:text;not null;index"`

	Payload datatypes.JSONMap `json:"payload" gorm:"type:jsonb;not null"`
	Headers datatypes.JSONMap `json:"headers" gorm:"type:jsonb"`

	Processed          bool       `json:"processed" gorm:"not null;index"`
	ProcessedAt        *time.Time `json:"processed_at,omitempty"`
	ProcessingAttempts int        `json:"processing_attempts" gorm:"not null"`
	ProcessingError    *string    `json:"processing_error,omitempty" gorm:"type:text"`
	FailedPermanently  bool       `json:"failed_permanently" gorm:"not null;index"`
	NextAttemptAt      *time.Time `json:"next_attempt_at,omitempty" gorm:"index"`

	NegotiationID     *snowflake.ID `json:"negotiation_id,omitempty" gorm:"index"`
	MatchedEntityType *string       `json:"matched_entity_type,omitempty" gorm:"type:text"`
	MatchedEntityID   *snowflake.ID `json:"matched_entity_id,omitempty"`

	IPAddress *string `json:"ip_address,omitempty" gorm:"type:text"`
	UserAgent *string `json:"user_agent,omitempty" gorm:"type:text"`

	Version        int        `json:"-" gorm:"not null"`
	ReceivedAt     time.Time  `json:"received_at" gorm:"not null;index"`
	EventCreatedAt *time.Time `json:"event_created_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at" gorm:"not null"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }

// Settled reports events that will not be processed again.
func (e *WebhookEvent) Settled() bool {
	return e.Processed || e.FailedPermanently
}
