package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/procura/internal/negotiation/domain"
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

func (r *repository) Tx() *gorm.DB {
	return r.db
}

func (r *repository) Create(ctx context.Context, n *domain.Negotiation) error {
	return r.db.WithContext(ctx).Create(n).Error
}

func (r *repository) FindByID(ctx context.Context, id snowflake.ID) (*domain.Negotiation, error) {
	return r.first(r.db.WithContext(ctx), "id = ?", id)
}

func (r *repository) LockByID(ctx context.Context, id snowflake.ID) (*domain.Negotiation, error) {
	return r.first(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), "id = ?", id)
}

func (r *repository) FindByThreadID(ctx context.Context, threadID string) (*domain.Negotiation, error) {
	return r.first(r.db.WithContext(ctx).Order("created_at DESC"), "email_thread_id = ?", threadID)
}

func (r *repository) first(db *gorm.DB, query string, args ...any) (*domain.Negotiation, error) {
	var n domain.Negotiation
	err := db.Where(query, args...).First(&n).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *repository) Save(ctx context.Context, n *domain.Negotiation) error {
	expected := n.Version
	n.Version = expected + 1
	res := r.db.WithContext(ctx).
		Model(&domain.Negotiation{}).
		Where("id = ? AND version = ?", n.ID, expected).
		Select("*").
		Omit("id", "created_at").
		Updates(n)
	if res.Error != nil {
		n.Version = expected
		return res.Error
	}
	if res.RowsAffected == 0 {
		n.Version = expected
		return domain.ErrConcurrentUpdate
	}
	return nil
}

func (r *repository) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Negotiation, error) {
	var out []domain.Negotiation
	query := r.db.WithContext(ctx).
		Where("status IN ?", domain.OpenStatuses).
		Where(r.db.
			Where("status = ? AND approved_at IS NOT NULL AND next_dispatch_at <= ?", domain.StatusPendingApproval, now).
			Or("status = ? AND requires_approval = ? AND next_dispatch_at <= ?", domain.StatusDraft, false, now).
			Or("status = ? AND next_follow_up_at <= ?", domain.StatusSent, now).
			Or("expires_at < ?", now)).
		Order("COALESCE(next_dispatch_at, next_follow_up_at, expires_at) ASC").
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&out).Error
	return out, err
}

func (r *repository) List(ctx context.Context, filter domain.ListFilter) ([]domain.Negotiation, error) {
	query := r.db.WithContext(ctx).Where("org_id = ?", filter.OrgID)
	if filter.ProductID != 0 {
		query = query.Where("product_id = ?", filter.ProductID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var out []domain.Negotiation
	err := query.Order("created_at DESC").Order("id DESC").Find(&out).Error
	return out, err
}
