package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/procura/internal/notification/domain"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, n *domain.Notification) error
	ListForUser(ctx context.Context, db *gorm.DB, orgID, userID snowflake.ID, unreadOnly bool, limit int) ([]domain.Notification, error)
	MarkRead(ctx context.Context, db *gorm.DB, userID, id snowflake.ID, at time.Time) (bool, error)
}

type repo struct{}

func Provide() Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, n *domain.Notification) error {
	return db.WithContext(ctx).Create(n).Error
}

func (r *repo) ListForUser(ctx context.Context, db *gorm.DB, orgID, userID snowflake.ID, unreadOnly bool, limit int) ([]domain.Notification, error) {
	var items []domain.Notification
	stmt := db.WithContext(ctx).
		Where("org_id = ? AND user_id = ?", orgID, userID)
	if unreadOnly {
		stmt = stmt.Where("read = ?", false)
	}
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Order("id desc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) MarkRead(ctx context.Context, db *gorm.DB, userID, id snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]any{"read": true, "read_at": at})
	return res.RowsAffected > 0, res.Error
}
