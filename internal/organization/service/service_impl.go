package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/procura/internal/clock"
	"github.com/smallbiznis/procura/internal/organization/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Repo  domain.Repository
	GenID *snowflake.Node
	Clock clock.Clock
	Log   *zap.Logger
}

type service struct {
	db    *gorm.DB
	repo  domain.Repository
	genID *snowflake.Node
	clock clock.Clock
	log   *zap.Logger
}

func NewService(p Params) domain.Service {
	return &service{
		db:    p.DB,
		repo:  p.Repo,
		genID: p.GenID,
		clock: p.Clock,
		log:   p.Log.Named("organization.service"),
	}
}

func (s *service) Create(ctx context.Context, req domain.CreateOrganizationRequest) (*domain.Organization, error) {
	if req.OwnerUserID == 0 {
		return nil, domain.ErrInvalidUser
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	now := s.clock.Now()
	org := &domain.Organization{
		ID:        s.genID.Generate(),
		Name:      name,
		Slug:      slug.Make(name) + "-" + s.genID.Generate().Base36(),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateOrganization(ctx, org); err != nil {
			return err
		}
		settings := domain.DefaultSettings(org.ID, now)
		if err := repo.CreateSettings(ctx, &settings); err != nil {
			return err
		}
		return repo.AddMember(ctx, &domain.OrganizationMember{
			ID:        s.genID.Generate(),
			OrgID:     org.ID,
			UserID:    req.OwnerUserID,
			Role:      domain.RoleOwner,
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("organization created", zap.String("org_id", org.ID.String()), zap.String("slug", org.Slug))
	return org, nil
}

func (s *service) GetByID(ctx context.Context, id snowflake.ID) (*domain.Organization, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *service) GetSettings(ctx context.Context, orgID snowflake.ID) (*domain.OrganizationSettings, error) {
	return s.repo.FindSettings(ctx, orgID)
}

func (s *service) UpdateLimits(ctx context.Context, orgID snowflake.ID, req domain.UpdateLimitsRequest) (*domain.OrganizationSettings, error) {
	if err := validateLimits(req); err != nil {
		return nil, err
	}

	var updated *domain.OrganizationSettings
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		settings, err := repo.LockSettings(ctx, orgID)
		if err != nil {
			return err
		}
		applyLimits(settings, req)
		settings.UpdatedAt = s.clock.Now()
		if err := repo.UpdateLimits(ctx, settings); err != nil {
			return err
		}
		updated = settings
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *service) AddMember(ctx context.Context, orgID, userID snowflake.ID, role string) error {
	if userID == 0 {
		return domain.ErrInvalidUser
	}
	role = strings.ToLower(strings.TrimSpace(role))
	if !domain.ValidRole(role) {
		return domain.ErrInvalidRole
	}
	if _, err := s.repo.FindByID(ctx, orgID); err != nil {
		return err
	}
	return s.repo.AddMember(ctx, &domain.OrganizationMember{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		UserID:    userID,
		Role:      role,
		CreatedAt: s.clock.Now(),
	})
}

func validateLimits(req domain.UpdateLimitsRequest) error {
	for _, v := range []*int{req.MaxSearchesPerMonth, req.MaxProductsPerSearch, req.MaxConcurrentJobs, req.MaxRetries} {
		if v != nil && *v < 0 {
			return domain.ErrInvalidLimit
		}
	}
	if req.MonthlyBudgetUSD != nil && req.MonthlyBudgetUSD.IsNegative() {
		return domain.ErrInvalidLimit
	}
	return nil
}

func applyLimits(settings *domain.OrganizationSettings, req domain.UpdateLimitsRequest) {
	if req.MaxSearchesPerMonth != nil {
		settings.MaxSearchesPerMonth = *req.MaxSearchesPerMonth
	}
	if req.MaxProductsPerSearch != nil {
		settings.MaxProductsPerSearch = *req.MaxProductsPerSearch
	}
	if req.MaxConcurrentJobs != nil {
		settings.MaxConcurrentJobs = *req.MaxConcurrentJobs
	}
	if req.MonthlyBudgetUSD != nil {
		settings.MonthlyBudgetUSD = *req.MonthlyBudgetUSD
	}
	if req.MaxRetries != nil {
		settings.MaxRetries = *req.MaxRetries
	}
	if req.EnableAutoNegotiation != nil {
		settings.EnableAutoNegotiation = *req.EnableAutoNegotiation
	}
	if req.AllowedVendors != nil {
		settings.AllowedVendors = datatypes.JSONSlice[snowflake.ID](req.AllowedVendors)
	}
	if req.BlockedVendors != nil {
		settings.BlockedVendors = datatypes.JSONSlice[snowflake.ID](req.BlockedVendors)
	}
}
