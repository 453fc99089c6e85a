package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/procura/internal/clock"
	"github.com/smallbiznis/procura/internal/notification/domain"
	"github.com/smallbiznis/procura/internal/notification/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  repository.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  repository.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("notification.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Notify(ctx context.Context, msg domain.Message) {
	if msg.UserID == 0 || msg.OrgID == 0 || strings.TrimSpace(msg.Type) == "" {
		s.log.Warn("dropping notification without recipient or type",
			zap.String("type", msg.Type),
			zap.String("related", msg.Related.String()))
		return
	}

	priority := msg.Priority
	if priority == "" {
		priority = domain.PriorityNormal
	}
	n := domain.Notification{
		ID:          s.genID.Generate(),
		OrgID:       msg.OrgID,
		UserID:      msg.UserID,
		Type:        msg.Type,
		Title:       msg.Title,
		Message:     msg.Message,
		Link:        optional(msg.Link),
		ActionLabel: optional(msg.ActionLabel),
		Related:     msg.Related,
		Priority:    priority,
		CreatedAt:   s.clock.Now(),
	}

	// Detached from the caller's cancellation: the triggering transition has
	// already committed by the time we get here.
	if err := s.repo.Insert(context.WithoutCancel(ctx), s.db, &n); err != nil {
		s.log.Warn("failed to store notification",
			zap.String("type", msg.Type),
			zap.String("user_id", msg.UserID.String()),
			zap.Error(err))
	}
}

func (s *Service) ListForUser(ctx context.Context, orgID, userID snowflake.ID, unreadOnly bool, limit int) ([]domain.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListForUser(ctx, s.db, orgID, userID, unreadOnly, limit)
}

func (s *Service) MarkRead(ctx context.Context, userID, id snowflake.ID) error {
	ok, err := s.repo.MarkRead(ctx, s.db, userID, id, s.clock.Now())
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotFound
	}
	return nil
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
