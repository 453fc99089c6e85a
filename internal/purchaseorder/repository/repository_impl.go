package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/procura/internal/purchaseorder/domain"
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

func (r *repository) Create(ctx context.Context, po *domain.PurchaseOrder) error {
	return r.db.WithContext(ctx).Create(po).Error
}

func (r *repository) FindByID(ctx context.Context, id snowflake.ID) (*domain.PurchaseOrder, error) {
	return r.first(r.db.WithContext(ctx), "id = ?", id)
}

func (r *repository) LockByID(ctx context.Context, id snowflake.ID) (*domain.PurchaseOrder, error) {
	return r.first(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), "id = ?", id)
}

func (r *repository) FindActive(ctx context.Context, negotiationID snowflake.ID) (*domain.PurchaseOrder, error) {
	po, err := r.first(r.db.WithContext(ctx), "negotiation_id = ? AND voided_at IS NULL", negotiationID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return po, err
}

func (r *repository) first(db *gorm.DB, query string, args ...any) (*domain.PurchaseOrder, error) {
	var po domain.PurchaseOrder
	err := db.Where(query, args...).First(&po).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &po, nil
}

func (r *repository) ListByNegotiation(ctx context.Context, negotiationID snowflake.ID) ([]domain.PurchaseOrder, error) {
	var out []domain.PurchaseOrder
	err := r.db.WithContext(ctx).
		Where("negotiation_id = ?", negotiationID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

func (r *repository) CountSent(ctx context.Context, negotiationID snowflake.ID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&domain.PurchaseOrder{}).
		Where("negotiation_id = ? AND is_sent_to_vendor = ?", negotiationID, true).
		Count(&n).Error
	return n, err
}

func (r *repository) NextSequence(ctx context.Context, year int) (int64, error) {
	var next int64
	err := r.db.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(sequence), 0) + 1
		 FROM purchase_orders
		 WHERE sequence_year = ?`,
		year,
	).Scan(&next).Error
	return next, err
}

func (r *repository) Save(ctx context.Context, po *domain.PurchaseOrder) error {
	expected := po.Version
	po.Version = expected + 1
	res := r.db.WithContext(ctx).
		Model(&domain.PurchaseOrder{}).
		Where("id = ? AND version = ?", po.ID, expected).
		Select("*").
		Omit("id", "created_at").
		Updates(po)
	if res.Error != nil {
		po.Version = expected
		return res.Error
	}
	if res.RowsAffected == 0 {
		po.Version = expected
		return domain.ErrConcurrentUpdate
	}
	return nil
}
