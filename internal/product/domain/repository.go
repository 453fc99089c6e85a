package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Create(ctx context.Context, db *gorm.DB, product *Product) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Product, error)
	FindByJobURL(ctx context.Context, db *gorm.DB, jobID snowflake.ID, url string) (*Product, error)
	ListByJob(ctx context.Context, db *gorm.DB, jobID snowflake.ID) ([]Product, error)
	CountByJob(ctx context.Context, db *gorm.DB, jobID snowflake.ID) (int64, error)
	Update(ctx context.Context, db *gorm.DB, product *Product) error
	SetVector(ctx context.Context, db *gorm.DB, id snowflake.ID, vectorID, model string) error
}
