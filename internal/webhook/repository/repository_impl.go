package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/procura/internal/webhook/domain"
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

func (r *repository) Insert(ctx context.Context, ev *domain.WebhookEvent) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source"}, {Name: "external_id"}},
			DoNothing: true,
		}).
		Create(ev)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Redelivered(ctx context.Context, source, externalID string) (*domain.WebhookEvent, error) {
	err := r.db.WithContext(ctx).
		Model(&domain.WebhookEvent{}).
		Where("source = ? AND external_id = ?", source, externalID).
		Updates(map[string]any{
			"processing_attempts": gorm.Expr("processing_attempts + 1"),
			"version":             gorm.Expr("version + 1"),
		}).Error
	if err != nil {
		return nil, err
	}
	return r.first(r.db.WithContext(ctx), "source = ? AND external_id = ?", source, externalID)
}

func (r *repository) FindByID(ctx context.Context, id snowflake.ID) (*domain.WebhookEvent, error) {
	return r.first(r.db.WithContext(ctx), "id = ?", id)
}

func (r *repository) LockByID(ctx context.Context, id snowflake.ID) (*domain.WebhookEvent, error) {
	return r.first(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), "id = ?", id)
}

func (r *repository) first(db *gorm.DB, query string, args ...any) (*domain.WebhookEvent, error) {
	var ev domain.WebhookEvent
	err := db.Where(query, args...).First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (r *repository) Save(ctx context.Context, ev *domain.WebhookEvent) error {
	expected := ev.Version
	ev.Version = expected + 1
	res := r.db.WithContext(ctx).
		Model(&domain.WebhookEvent{}).
		Where("id = ? AND version = ?", ev.ID, expected).
		Select("*").
		Omit("id", "received_at").
		Updates(ev)
	if res.Error != nil {
		ev.Version = expected
		return res.Error
	}
	if res.RowsAffected == 0 {
		ev.Version = expected
		return domain.ErrConcurrentUpdate
	}
	return nil
}

func (r *repository) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.WebhookEvent, error) {
	var out []domain.WebhookEvent
	query := r.db.WithContext(ctx).
		Where("processed = ? AND failed_permanently = ?", false, false).
		Where("(next_attempt_at IS NULL OR next_attempt_at <= ?)", now).
		Order("received_at ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&out).Error
	return out, err
}
