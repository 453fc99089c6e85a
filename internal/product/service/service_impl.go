package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/procura/internal/product/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Repo domain.Repository
}

type Service struct {
	db   *gorm.DB
	repo domain.Repository
}

func New(p Params) domain.Service {
	return &Service{db: p.DB, repo: p.Repo}
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Product, error) {
	return s.repo.FindByID(ctx, s.db, id)
}

func (s *Service) ListByJob(ctx context.Context, jobID snowflake.ID) ([]domain.Product, error) {
	return s.repo.ListByJob(ctx, s.db, jobID)
}
