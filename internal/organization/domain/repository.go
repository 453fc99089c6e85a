package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOrganization(ctx context.Context, org *Organization) error
	CreateSettings(ctx context.Context, settings *OrganizationSettings) error
	AddMember(ctx context.Context, member *OrganizationMember) error
	FindByID(ctx context.Context, id snowflake.ID) (*Organization, error)
	FindSettings(ctx context.Context, orgID snowflake.ID) (*OrganizationSettings, error)
	// LockSettings reads the settings row under a row lock; call inside a transaction.
	LockSettings(ctx context.Context, orgID snowflake.ID) (*OrganizationSettings, error)
	SaveUsage(ctx context.Context, settings *OrganizationSettings) error
	UpdateLimits(ctx context.Context, settings *OrganizationSettings) error
	FindMemberRole(ctx context.Context, orgID, userID snowflake.ID) (string, error)
}
