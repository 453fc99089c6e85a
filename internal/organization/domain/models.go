// Package domain contains persistence models for organizations and their quotas.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Organization represents a tenant.
type Organization struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	Slug      string       `gorm:"type:text;not null;uniqueIndex:ux_organizations_slug" json:"slug"`
	IsActive  bool         `gorm:"not null" json:"is_active"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null" json:"updated_at"`
}

func (Organization) TableName() string { return "organizations" }

// OrganizationSettings holds quota limits and the running usage counters.
// There is exactly one row per organization.
type OrganizationSettings struct {
	OrgID snowflake.ID `gorm:"primaryKey" json:"org_id"`

	MaxSearchesPerMonth  int             `gorm:"not null;default:100" json:"max_searches_per_month"`
	MaxProductsPerSearch int             `gorm:"not null;default:50" json:"max_products_per_search"`
	MaxConcurrentJobs    int             `gorm:"not null;default:3" json:"max_concurrent_jobs"`
	MonthlyBudgetUSD     decimal.Decimal `gorm:"type:numeric(20,6);not null;default:100" json:"monthly_budget_usd"`

	CurrentSearchesThisMonth int             `gorm:"not null;default:0" json:"current_searches_this_month"`
	CurrentSpendThisMonth    decimal.Decimal `gorm:"type:numeric(20,6);not null;default:0" json:"current_spend_this_month"`
	UsageResetDate           time.Time       `gorm:"not null" json:"usage_reset_date"`

	DefaultScrapingTimeoutSeconds int  `gorm:"not null;default:30" json:"default_scraping_timeout"`
	MaxRetries                    int  `gorm:"not null;default:3" json:"max_retries"`
	EnableAutoNegotiation         bool `gorm:"not null;default:false" json:"enable_auto_negotiation"`

	AllowedVendors datatypes.JSONSlice[snowflake.ID] `gorm:"type:jsonb" json:"allowed_vendors"`
	BlockedVendors datatypes.JSONSlice[snowflake.ID] `gorm:"type:jsonb" json:"blocked_vendors"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (OrganizationSettings) TableName() string { return "organization_settings" }

// OrganizationMember represents membership of a user in an organization.
type OrganizationMember struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID `gorm:"not null;index;uniqueIndex:ux_org_user,priority:1" json:"org_id"`
	UserID    snowflake.ID `gorm:"not null;index;uniqueIndex:ux_org_user,priority:2" json:"user_id"`
	Role      string       `gorm:"type:text;not null" json:"role"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
}

func (OrganizationMember) TableName() string { return "organization_members" }

const (
	RoleOwner   = "owner"
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleMember  = "member"
)

// DefaultSettings returns the limits a new organization starts with. The
// first usage period ends at the start of the next calendar month.
func DefaultSettings(orgID snowflake.ID, now time.Time) OrganizationSettings {
	now = now.UTC()
	return OrganizationSettings{
		OrgID:                         orgID,
		MaxSearchesPerMonth:           100,
		MaxProductsPerSearch:          50,
		MaxConcurrentJobs:             3,
		MonthlyBudgetUSD:              decimal.NewFromInt(100),
		CurrentSpendThisMonth:         decimal.Zero,
		UsageResetDate:                time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0),
		DefaultScrapingTimeoutSeconds: 30,
		MaxRetries:                    3,
		AllowedVendors:                datatypes.JSONSlice[snowflake.ID]{},
		BlockedVendors:                datatypes.JSONSlice[snowflake.ID]{},
		CreatedAt:                     now,
		UpdatedAt:                     now,
	}
}

// RollOver zeroes the monthly counters once now reaches UsageResetDate and
// moves the reset date forward past now. It reports whether a reset happened.
// The reset date only ever moves forward.
func (s *OrganizationSettings) RollOver(now time.Time) bool {
	if now.Before(s.UsageResetDate) {
		return false
	}
	s.CurrentSearchesThisMonth = 0
	s.CurrentSpendThisMonth = decimal.Zero
	for !now.Before(s.UsageResetDate) {
		s.UsageResetDate = s.UsageResetDate.AddDate(0, 1, 0)
	}
	s.UpdatedAt = now
	return true
}

// VendorAllowed applies the allow and block lists. An empty allow list
// admits every vendor that is not blocked.
func (s *OrganizationSettings) VendorAllowed(vendorID snowflake.ID) bool {
	for _, blocked := range s.BlockedVendors {
		if blocked == vendorID {
			return false
		}
	}
	if len(s.AllowedVendors) == 0 {
		return true
	}
	for _, allowed := range s.AllowedVendors {
		if allowed == vendorID {
			return true
		}
	}
	return false
}
