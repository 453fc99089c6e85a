package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/procura/internal/organization/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) CreateOrganization(ctx context.Context, org *domain.Organization) error {
	return r.db.WithContext(ctx).Create(org).Error
}

func (r *repository) CreateSettings(ctx context.Context, settings *domain.OrganizationSettings) error {
	return r.db.WithContext(ctx).Create(settings).Error
}

func (r *repository) AddMember(ctx context.Context, member *domain.OrganizationMember) error {
	return r.db.WithContext(ctx).Create(member).Error
}

func (r *repository) FindByID(ctx context.Context, id snowflake.ID) (*domain.Organization, error) {
	var org domain.Organization
	err := r.db.WithContext(ctx).First(&org, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

func (r *repository) FindSettings(ctx context.Context, orgID snowflake.ID) (*domain.OrganizationSettings, error) {
	return r.findSettings(r.db.WithContext(ctx), orgID)
}

func (r *repository) LockSettings(ctx context.Context, orgID snowflake.ID) (*domain.OrganizationSettings, error) {
	return r.findSettings(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), orgID)
}

func (r *repository) findSettings(db *gorm.DB, orgID snowflake.ID) (*domain.OrganizationSettings, error) {
	var settings domain.OrganizationSettings
	err := db.First(&settings, "org_id = ?", orgID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

func (r *repository) SaveUsage(ctx context.Context, settings *domain.OrganizationSettings) error {
	return r.db.WithContext(ctx).
		Model(&domain.OrganizationSettings{}).
		Where("org_id = ?", settings.OrgID).
		Updates(map[string]any{
			"current_searches_this_month": settings.CurrentSearchesThisMonth,
			"current_spend_this_month":    settings.CurrentSpendThisMonth,
			"usage_reset_date":            settings.UsageResetDate,
			"updated_at":                  settings.UpdatedAt,
		}).Error
}

func (r *repository) UpdateLimits(ctx context.Context, settings *domain.OrganizationSettings) error {
	return r.db.WithContext(ctx).
		Model(&domain.OrganizationSettings{}).
		Where("org_id = ?", settings.OrgID).
		Updates(map[string]any{
			"max_searches_per_month":  settings.MaxSearchesPerMonth,
			"max_products_per_search": settings.MaxProductsPerSearch,
			"max_concurrent_jobs":     settings.MaxConcurrentJobs,
			"monthly_budget_usd":      settings.MonthlyBudgetUSD,
			"max_retries":             settings.MaxRetries,
			"enable_auto_negotiation": settings.EnableAutoNegotiation,
			"allowed_vendors":         settings.AllowedVendors,
			"blocked_vendors":         settings.BlockedVendors,
			"updated_at":              settings.UpdatedAt,
		}).Error
}

func (r *repository) FindMemberRole(ctx context.Context, orgID, userID snowflake.ID) (string, error) {
	var member domain.OrganizationMember
	err := r.db.WithContext(ctx).
		Select("role").
		Where("org_id = ? AND user_id = ?", orgID, userID).
		First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", domain.ErrNotMember
	}
	if err != nil {
		return "", err
	}
	return member.Role, nil
}
