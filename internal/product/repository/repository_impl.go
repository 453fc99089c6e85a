package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/procura/internal/product/domain"
	"github.com/smallbiznis/procura/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Create(ctx context.Context, conn *gorm.DB, product *domain.Product) error {
	err := conn.WithContext(ctx).Create(product).Error
	if err != nil && product.VectorID != nil && db.IsDuplicateKeyErr(err) {
		return domain.ErrDuplicateVector
	}
	return err
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Product, error) {
	var p domain.Product
	err := conn.WithContext(ctx).First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// FindByJobURL returns nil without error when the job has not seen the URL.
func (r *repo) FindByJobURL(ctx context.Context, conn *gorm.DB, jobID snowflake.ID, url string) (*domain.Product, error) {
	var items []domain.Product
	err := conn.WithContext(ctx).
		Where("search_job_id = ? AND url = ?", jobID, url).
		Limit(1).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

func (r *repo) ListByJob(ctx context.Context, conn *gorm.DB, jobID snowflake.ID) ([]domain.Product, error) {
	var items []domain.Product
	err := conn.WithContext(ctx).
		Where("search_job_id = ?", jobID).
		Order("created_at ASC").Order("id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) CountByJob(ctx context.Context, conn *gorm.DB, jobID snowflake.ID) (int64, error) {
	var count int64
	err := conn.WithContext(ctx).Model(&domain.Product{}).Where("search_job_id = ?", jobID).Count(&count).Error
	return count, err
}

func (r *repo) Update(ctx context.Context, conn *gorm.DB, product *domain.Product) error {
	if product == nil {
		return gorm.ErrInvalidData
	}
	return conn.WithContext(ctx).Save(product).Error
}

func (r *repo) SetVector(ctx context.Context, conn *gorm.DB, id snowflake.ID, vectorID, model string) error {
	err := conn.WithContext(ctx).
		Model(&domain.Product{}).
		Where("id = ?", id).
		Updates(map[string]any{"vector_id": vectorID, "embedding_model": model}).Error
	if err != nil && db.IsDuplicateKeyErr(err) {
		return domain.ErrDuplicateVector
	}
	return err
}
