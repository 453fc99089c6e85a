package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Create(ctx context.Context, db *gorm.DB, vendor *Vendor) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Vendor, error)
	List(ctx context.Context, db *gorm.DB, filter ListRequest) ([]Vendor, error)
	SetActive(ctx context.Context, db *gorm.DB, id snowflake.ID, active bool) error
}
