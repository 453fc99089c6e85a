package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Service interface {
	Create(ctx context.Context, req CreateOrganizationRequest) (*Organization, error)
	GetByID(ctx context.Context, id snowflake.ID) (*Organization, error)
	GetSettings(ctx context.Context, orgID snowflake.ID) (*OrganizationSettings, error)
	UpdateLimits(ctx context.Context, orgID snowflake.ID, req UpdateLimitsRequest) (*OrganizationSettings, error)
	AddMember(ctx context.Context, orgID, userID snowflake.ID, role string) error
}

type CreateOrganizationRequest struct {
	Name        string
	OwnerUserID snowflake.ID
}

// UpdateLimitsRequest changes only the fields that are set.
type UpdateLimitsRequest struct {
	MaxSearchesPerMonth   *int
	MaxProductsPerSearch  *int
	MaxConcurrentJobs     *int
	MonthlyBudgetUSD      *decimal.Decimal
	MaxRetries            *int
	EnableAutoNegotiation *bool
	AllowedVendors        []snowflake.ID
	BlockedVendors        []snowflake.ID
}

var (
	ErrNotFound     = errors.New("organization_not_found")
	ErrInvalidName  = errors.New("invalid_name")
	ErrInvalidUser  = errors.New("invalid_user")
	ErrInvalidRole  = errors.New("invalid_role")
	ErrInvalidLimit = errors.New("invalid_limit")
	ErrNotMember    = errors.New("not_a_member")
)

func ValidRole(role string) bool {
	switch role {
	case RoleOwner, RoleAdmin, RoleManager, RoleMember:
		return true
	default:
		return false
	}
}
