package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/procura/internal/entityref"
)

// Message is one user-facing notification.
type Message struct {
	OrgID       snowflake.ID
	UserID      snowflake.ID
	Type        string
	Title       string
	Message     string
	Link        string
	ActionLabel string
	Related     entityref.Ref
	Priority    string
}

// Sink receives notifications. Notify never fails the caller: delivery
// problems are logged and dropped so they cannot undo a state transition.
type Sink interface {
	Notify(ctx context.Context, msg Message)
}

type Service interface {
	Sink
	ListForUser(ctx context.Context, orgID, userID snowflake.ID, unreadOnly bool, limit int) ([]Notification, error)
	MarkRead(ctx context.Context, userID, id snowflake.ID) error
}

var ErrNotFound = errors.New("notification_not_found")
