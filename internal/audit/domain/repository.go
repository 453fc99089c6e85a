package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/procura/internal/entityref"
	"gorm.io/gorm"
)

type ListFilter struct {
	OrgID  snowflake.ID
	Action string
	Target entityref.Ref
	Before snowflake.ID
	Limit  int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]AuditLog, error)
}
