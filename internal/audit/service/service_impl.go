package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/procura/internal/audit/domain"
	"github.com/smallbiznis/procura/internal/audit/masking"
	"github.com/smallbiznis/procura/internal/clock"
	"github.com/smallbiznis/procura/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Record(ctx context.Context, entry auditdomain.Entry) error {
	return s.RecordTx(ctx, s.db, entry)
}

func (s *Service) RecordTx(ctx context.Context, tx *gorm.DB, entry auditdomain.Entry) error {
	action := strings.TrimSpace(entry.Action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}
	if entry.OrgID == 0 {
		return auditdomain.ErrInvalidOrganization
	}

	actorType := auditdomain.ActorTypeSystem
	if entry.ActorID != nil && *entry.ActorID != 0 {
		actorType = auditdomain.ActorTypeUser
	}

	log := auditdomain.AuditLog{
		ID:        s.genID.Generate(),
		OrgID:     entry.OrgID,
		ActorType: actorType,
		ActorID:   entry.ActorID,
		Action:    action,
		Target:    entry.Target,
		Changes:   datatypes.JSONMap(masking.MaskSensitive(entry.Changes)),
		Metadata:  datatypes.JSONMap(masking.MaskSensitive(entry.Metadata)),
		Success:   entry.Err == nil,
		CreatedAt: s.clock.Now(),
	}
	if requestID := correlation.ExtractCorrelationID(ctx); requestID != "" {
		log.RequestID = &requestID
	}
	if entry.Err != nil {
		msg := entry.Err.Error()
		log.ErrorMessage = &msg
	}

	if err := s.repo.Insert(ctx, tx, &log); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, orgID snowflake.ID, req auditdomain.ListRequest) ([]auditdomain.AuditLog, error) {
	if orgID == 0 {
		return nil, auditdomain.ErrInvalidOrganization
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 250 {
		limit = 250
	}
	return s.repo.List(ctx, s.db, auditdomain.ListFilter{
		OrgID:  orgID,
		Action: req.Action,
		Target: req.Target,
		Before: req.Before,
		Limit:  limit,
	})
}
