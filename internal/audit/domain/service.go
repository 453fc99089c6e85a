package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/procura/internal/entityref"
	"gorm.io/gorm"
)

// Entry describes one audited action. ActorID nil means the system acted.
type Entry struct {
	OrgID    snowflake.ID
	ActorID  *snowflake.ID
	Action   string
	Target   entityref.Ref
	Changes  map[string]any
	Metadata map[string]any
	Err      error
}

type ListRequest struct {
	Action string
	Target entityref.Ref
	Before snowflake.ID
	Limit  int
}

type Service interface {
	Record(ctx context.Context, entry Entry) error
	// RecordTx writes the entry in the caller's transaction so it commits
	// or rolls back with the audited change.
	RecordTx(ctx context.Context, tx *gorm.DB, entry Entry) error
	List(ctx context.Context, orgID snowflake.ID, req ListRequest) ([]AuditLog, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidAction       = errors.New("invalid_action")
)
