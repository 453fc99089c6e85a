package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/procura/internal/clock"
	orgdomain "github.com/smallbiznis/procura/internal/organization/domain"
	"github.com/smallbiznis/procura/internal/supplier/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    domain.Repository
	OrgRepo orgdomain.Repository
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	orgRepo orgdomain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("supplier.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		orgRepo: p.OrgRepo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Vendor, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	host := strings.ToLower(strings.TrimSpace(req.Domain))
	if host == "" || strings.ContainsAny(host, " /") {
		return nil, domain.ErrInvalidDomain
	}

	scraping := true
	if req.ScrapingEnabled != nil {
		scraping = *req.ScrapingEnabled
	}
	cfg := datatypes.JSONMap{}
	for k, v := range req.ScraperConfig {
		cfg[k] = v
	}

	now := s.clock.Now()
	vendor := &domain.Vendor{
		ID:               s.genID.Generate(),
		Name:             name,
		Slug:             slug.Make(name),
		Domain:           host,
		ContactEmail:     req.ContactEmail,
		ProcurementEmail: req.ProcurementEmail,
		IsActive:         true,
		ScrapingEnabled:  scraping,
		ScraperConfig:    cfg,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.Create(ctx, s.db, vendor); err != nil {
		return nil, err
	}
	return vendor, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Vendor, error) {
	return s.repo.FindByID(ctx, s.db, id)
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) ([]domain.Vendor, error) {
	return s.repo.List(ctx, s.db, req)
}

func (s *Service) SetActive(ctx context.Context, id snowflake.ID, active bool) error {
	return s.repo.SetActive(ctx, s.db, id, active)
}

func (s *Service) Eligible(ctx context.Context, orgID snowflake.ID) ([]domain.Vendor, error) {
	settings, err := s.orgRepo.FindSettings(ctx, orgID)
	if err != nil {
		return nil, err
	}

	active := true
	vendors, err := s.repo.List(ctx, s.db, domain.ListRequest{Active: &active, ScrapingEnabled: &active})
	if err != nil {
		return nil, err
	}

	eligible := vendors[:0]
	for _, v := range vendors {
		if settings.VendorAllowed(v.ID) {
			eligible = append(eligible, v)
		}
	}
	return eligible, nil
}
