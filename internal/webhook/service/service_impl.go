package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	auditdomain "github.com/smallbiznis/procura/internal/audit/domain"
	"github.com/smallbiznis/procura/internal/audit/masking"
	"github.com/smallbiznis/procura/internal/clock"
	"github.com/smallbiznis/procura/internal/config"
	"github.com/smallbiznis/procura/internal/entitylock"
	"github.com/smallbiznis/procura/internal/entityref"
	negotiationdomain "github.com/smallbiznis/procura/internal/negotiation/domain"
	notificationdomain "github.com/smallbiznis/procura/internal/notification/domain"
	obsmetrics "github.com/smallbiznis/procura/internal/observability/metrics"
	"github.com/smallbiznis/procura/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	outcomeProcessed = "processed"
	outcomeRetry     = "retry"
	outcomeFailed    = "failed_permanently"
)

var validate = validator.New()

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         domain.Repository
	Negotiations negotiationdomain.Service
	Locker       entitylock.Locker
	Workflow     *config.WorkflowConfigHolder
	Notifier     notificationdomain.Sink
	Audit        auditdomain.Service
	Metrics      *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	repo         domain.Repository
	negotiations negotiationdomain.Service
	locker       entitylock.Locker
	workflow     *config.WorkflowConfigHolder
	notifier     notificationdomain.Sink
	audit        auditdomain.Service
	metrics      *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("webhook.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		negotiations: p.Negotiations,
		locker:       p.Locker,
		workflow:     p.Workflow,
		notifier:     p.Notifier,
		audit:        p.Audit,
		metrics:      p.Metrics,
	}
}

func (s *Service) Ingest(ctx context.Context, req domain.IngestRequest) (*domain.WebhookEvent, domain.Outcome, error) {
	req.Source = strings.ToLower(strings.TrimSpace(req.Source))
	req.ExternalID = strings.TrimSpace(req.ExternalID)
	req.EventType = strings.TrimSpace(req.EventType)
	if err := validate.Struct(req); err != nil {
		return nil, "", fmt.Errorf("%w: %v", domain.ErrInvalidEvent, err)
	}

	now := s.clock.Now()
	ev := &domain.WebhookEvent{
		ID:         s.genID.Generate(),
		Source:     req.Source,
		ExternalID: req.ExternalID,
		EventType:  req.EventType,
		Payload:    datatypes.JSONMap(req.Payload),
		Headers:    maskHeaders(req.Headers),
		ReceivedAt: now,
		UpdatedAt:  now,
	}
	if req.IPAddress != "" {
		ev.IPAddress = &req.IPAddress
	}
	if req.UserAgent != "" {
		ev.UserAgent = &req.UserAgent
	}
	if req.EventCreatedAt != nil {
		at := req.EventCreatedAt.UTC()
		ev.EventCreatedAt = &at
	}

	inserted, err := s.repo.Insert(ctx, ev)
	if err != nil {
		return nil, "", err
	}
	outcome := domain.OutcomeAccepted
	if !inserted {
		outcome = domain.OutcomeDuplicate
		ev, err = s.repo.Redelivered(ctx, req.Source, req.ExternalID)
		if err != nil {
			return nil, "", err
		}
	}

	s.count(ctx, ev.Source, string(outcome))
	s.log.Info("webhook ingested",
		zap.String("source", ev.Source),
		zap.String("external_id", ev.ExternalID),
		zap.String("event_type", ev.EventType),
		zap.String("outcome", string(outcome)),
	)
	return ev, outcome, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.WebhookEvent, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *Service) ListDue(ctx context.Context, limit int) ([]domain.WebhookEvent, error) {
	return s.repo.ListDue(ctx, s.clock.Now(), limit)
}

func (s *Service) Process(ctx context.Context, id snowflake.ID) (*domain.WebhookEvent, error) {
	unlock, err := s.locker.TryLock(ctx, entitylock.Key(string(entityref.KindWebhookEvent), id))
	if errors.Is(err, entitylock.ErrNotAcquired) {
		return nil, fmt.Errorf("%w: %s", domain.ErrBusy, id)
	}
	if err != nil {
		return nil, err
	}
	defer unlock()

	ev, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ev.Settled() {
		return ev, nil
	}
	if now := s.clock.Now(); ev.NextAttemptAt != nil && now.Before(*ev.NextAttemptAt) {
		return ev, nil
	}

	matched, handleErr := s.handle(ctx, ev)
	if handleErr != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return s.settle(ctx, id, matched, handleErr)
}

// settle records the result of one processing attempt.
func (s *Service) settle(ctx context.Context, id snowflake.ID, matched *negotiationdomain.Negotiation, handleErr error) (*domain.WebhookEvent, error) {
	cfg := s.workflow.Get()
	var (
		out     *domain.WebhookEvent
		outcome string
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ev, err := repo.LockByID(ctx, id)
		if err != nil {
			return err
		}
		out = ev
		if ev.Settled() {
			return nil
		}

		now := s.clock.Now()
		ev.ProcessingAttempts++
		ev.UpdatedAt = now
		if matched != nil {
			kind := string(entityref.KindNegotiation)
			ev.NegotiationID = &matched.ID
			ev.MatchedEntityType = &kind
			ev.MatchedEntityID = &matched.ID
		}

		switch {
		case handleErr == nil:
			ev.Processed = true
			ev.ProcessedAt = &now
			ev.ProcessingError = nil
			ev.NextAttemptAt = nil
			outcome = outcomeProcessed
		case permanent(handleErr) || ev.ProcessingAttempts >= cfg.WebhookMaxAttempts:
			msg := handleErr.Error()
			ev.ProcessingError = &msg
			ev.FailedPermanently = true
			ev.NextAttemptAt = nil
			outcome = outcomeFailed
		default:
			msg := handleErr.Error()
			next := now.Add(cfg.WebhookRetryDelay(ev.ProcessingAttempts - 1))
			ev.ProcessingError = &msg
			ev.NextAttemptAt = &next
			outcome = outcomeRetry
		}
		if err := repo.Save(ctx, ev); err != nil {
			return err
		}
		if outcome != outcomeFailed || matched == nil {
			return nil
		}
		return s.audit.RecordTx(ctx, tx, auditdomain.Entry{
			OrgID:  matched.OrgID,
			Action: auditdomain.ActionWebhookFailed,
			Target: entityref.WebhookEvent(ev.ID),
			Metadata: map[string]any{
				"source":         ev.Source,
				"external_id":    ev.ExternalID,
				"attempts":       ev.ProcessingAttempts,
				"negotiation_id": matched.ID.String(),
			},
			Err: handleErr,
		})
	})
	if err != nil {
		return nil, err
	}
	if outcome == "" {
		return out, nil
	}

	s.count(ctx, out.Source, outcome)
	fields := []zap.Field{
		zap.String("webhook_event_id", out.ID.String()),
		zap.String("source", out.Source),
		zap.Int("attempts", out.ProcessingAttempts),
		zap.String("outcome", outcome),
	}
	switch outcome {
	case outcomeProcessed:
		s.log.Info("webhook processed", fields...)
	case outcomeRetry:
		s.log.Warn("webhook processing failed, will retry", append(fields, zap.Error(handleErr))...)
	case outcomeFailed:
		s.log.Error("webhook failed permanently", append(fields, zap.Error(handleErr))...)
		if matched != nil {
			s.notifier.Notify(ctx, notificationdomain.Message{
				OrgID:    matched.OrgID,
				UserID:   matched.UserID,
				Type:     notificationdomain.TypeSystemAlert,
				Title:    "Vendor email could not be processed",
				Message:  handleErr.Error(),
				Related:  entityref.WebhookEvent(out.ID),
				Priority: notificationdomain.PriorityHigh,
			})
		}
	}
	return out, nil
}

func (s *Service) count(ctx context.Context, source, outcome string) {
	obsmetrics.Workflow().IncWebhookOutcome(source, outcome)
	s.metrics.RecordWebhookEvent(ctx, source, outcome)
}

// permanentError marks handler failures that no retry can fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanentf(format string, args ...any) error {
	return &permanentError{err: fmt.Errorf(format, args...)}
}

func permanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

func maskHeaders(headers map[string]string) datatypes.JSONMap {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]any, len(headers))
	for k, v := range headers {
		out[strings.ToLower(k)] = v
	}
	return datatypes.JSONMap(masking.MaskSensitive(out))
}
