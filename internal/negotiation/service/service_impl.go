package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/procura/internal/agent"
	auditdomain "github.com/smallbiznis/procura/internal/audit/domain"
	"github.com/smallbiznis/procura/internal/authorization"
	"github.com/smallbiznis/procura/internal/clock"
	"github.com/smallbiznis/procura/internal/config"
	"github.com/smallbiznis/procura/internal/entitylock"
	"github.com/smallbiznis/procura/internal/entityref"
	"github.com/smallbiznis/procura/internal/guard"
	"github.com/smallbiznis/procura/internal/negotiation/domain"
	notificationdomain "github.com/smallbiznis/procura/internal/notification/domain"
	obsmetrics "github.com/smallbiznis/procura/internal/observability/metrics"
	productdomain "github.com/smallbiznis/procura/internal/product/domain"
	supplierdomain "github.com/smallbiznis/procura/internal/supplier/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	Products   productdomain.Repository
	Vendors    supplierdomain.Service
	Locker     entitylock.Locker
	Workflow   *config.WorkflowConfigHolder
	Email      agent.EmailSender
	Authz      authorization.Service
	Notifier   notificationdomain.Sink
	Audit      auditdomain.Service
	OnAccepted domain.AcceptanceHandler `optional:"true"`
	Metrics    *obsmetrics.Metrics      `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	products   productdomain.Repository
	vendors    supplierdomain.Service
	locker     entitylock.Locker
	workflow   *config.WorkflowConfigHolder
	email      agent.EmailSender
	authz      authorization.Service
	notifier   notificationdomain.Sink
	audit      auditdomain.Service
	onAccepted domain.AcceptanceHandler
	metrics    *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("negotiation.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		products:   p.Products,
		vendors:    p.Vendors,
		locker:     p.Locker,
		workflow:   p.Workflow,
		email:      p.Email,
		authz:      p.Authz,
		notifier:   p.Notifier,
		audit:      p.Audit,
		onAccepted: p.OnAccepted,
		metrics:    p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Negotiation, error) {
	switch {
	case req.OrgID == 0:
		return nil, domain.ErrInvalidOrg
	case req.UserID == 0:
		return nil, domain.ErrInvalidUser
	case !req.TargetPrice.IsPositive():
		return nil, domain.ErrInvalidPrice
	case req.MaxFollowUps != nil && *req.MaxFollowUps < 0:
		return nil, domain.ErrInvalidFollowUps
	}
	quantity := req.Quantity
	if quantity == 0 {
		quantity = 1
	}
	if quantity < 0 {
		return nil, domain.ErrInvalidQuantity
	}

	product, err := s.products.FindByID(ctx, s.db, req.ProductID)
	if err != nil {
		return nil, err
	}
	if product.OrgID != req.OrgID {
		return nil, productdomain.ErrNotFound
	}
	if product.VendorID == nil {
		return nil, domain.ErrNoVendorContact
	}
	vendor, err := s.vendors.Get(ctx, *product.VendorID)
	if err != nil {
		return nil, err
	}
	contact := vendor.NegotiationEmail()
	if contact == "" {
		return nil, domain.ErrNoVendorContact
	}
	if err := s.authz.Authorize(ctx, authorization.UserActor(req.UserID), req.OrgID,
		authorization.ObjectNegotiation, authorization.ActionNegotiationCreate); err != nil {
		return nil, err
	}

	cfg := s.workflow.Get()
	now := s.clock.Now()
	n := &domain.Negotiation{
		ID:                   s.genID.Generate(),
		OrgID:                req.OrgID,
		ProductID:            product.ID,
		VendorID:             product.VendorID,
		UserID:               req.UserID,
		CreatedBy:            req.UserID,
		Status:               domain.StatusDraft,
		OriginalPrice:        product.Price,
		TargetPrice:          req.TargetPrice,
		Currency:             product.Currency,
		Quantity:             quantity,
		PaymentTerms:         req.PaymentTerms,
		DeliveryTimelineDays: req.DeliveryTimelineDays,
		VendorContactEmail:   contact,
		VendorContactName:    &vendor.Name,
		AutoFollowUpEnabled:  boolOr(req.AutoFollowUp, true),
		MaxFollowUps:         cfg.DefaultMaxFollowUps,
		RequiresApproval:     boolOr(req.RequiresApproval, true),
		Notes:                req.Notes,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if req.MaxFollowUps != nil {
		n.MaxFollowUps = *req.MaxFollowUps
	}
	expires := now.Add(cfg.NegotiationTTL)
	if req.ExpiresAt != nil {
		expires = req.ExpiresAt.UTC()
	}
	n.ExpiresAt = &expires
	if product.Price.IsPositive() && req.TargetPrice.LessThan(product.Price) {
		pct := product.Price.Sub(req.TargetPrice).Div(product.Price).Mul(decimal.NewFromInt(100)).Round(2).InexactFloat64()
		n.DiscountPercentage = &pct
		n.Strategy = datatypes.JSONMap{"target_discount_pct": pct}
	}

	if err := s.repo.Create(ctx, n); err != nil {
		return nil, err
	}
	obsmetrics.Workflow().IncTransition(string(entityref.KindNegotiation), "", string(domain.StatusDraft))
	s.log.Info("negotiation created",
		zap.String("negotiation_id", n.ID.String()),
		zap.String("product_id", n.ProductID.String()),
		zap.String("target_price", n.TargetPrice.String()),
	)
	return n, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Negotiation, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *Service) List(ctx context.Context, filter domain.ListFilter) ([]domain.Negotiation, error) {
	if filter.OrgID == 0 {
		return nil, domain.ErrInvalidOrg
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	return s.repo.List(ctx, filter)
}

func (s *Service) FindByThread(ctx context.Context, threadID string) (*domain.Negotiation, error) {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return nil, domain.ErrNotFound
	}
	return s.repo.FindByThreadID(ctx, threadID)
}

func (s *Service) RequestApproval(ctx context.Context, id snowflake.ID, actorID snowflake.ID) (*domain.Negotiation, error) {
	unlock, err := s.lock(ctx, id, false)
	if err != nil {
		return nil, err
	}
	defer unlock()

	n, _, err := s.mutate(ctx, id, func(repo domain.Repository, n *domain.Negotiation, now time.Time) (bool, error) {
		if err := s.transition(n, domain.StatusPendingApproval, now); err != nil {
			return false, err
		}
		return false, repo.Save(ctx, n)
	})
	return n, err
}

func (s *Service) Approve(ctx context.Context, id snowflake.ID, approverID snowflake.ID) (*domain.Negotiation, error) {
	unlock, err := s.lock(ctx, id, false)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(ctx, authorization.UserActor(approverID), current.OrgID,
		authorization.ObjectNegotiation, authorization.ActionNegotiationApprove); err != nil {
		return nil, err
	}

	n, _, err := s.mutate(ctx, id, func(repo domain.Repository, n *domain.Negotiation, now time.Time) (bool, error) {
		if n.Status != domain.StatusPendingApproval {
			return false, invalidTransition(n.Status, domain.StatusSent)
		}
		if n.ApprovedAt != nil {
			return false, nil
		}
		n.ApprovedAt = &now
		n.ApprovedBy = &approverID
		n.NextDispatchAt = &now
		n.DispatchAttempts = 0
		n.UpdatedAt = now
		if err := repo.Save(ctx, n); err != nil {
			return false, err
		}
		return false, s.audit.RecordTx(ctx, repo.Tx(), auditdomain.Entry{
			OrgID:   n.OrgID,
			ActorID: &approverID,
			Action:  auditdomain.ActionNegotiationApproved,
			Target:  entityref.Negotiation(n.ID),
			Metadata: map[string]any{
				"target_price": n.TargetPrice.String(),
				"quantity":     n.Quantity,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return s.dispatch(ctx, n)
}

func (s *Service) Send(ctx context.Context, id snowflake.ID, actorID snowflake.ID) (*domain.Negotiation, error) {
	unlock, err := s.lock(ctx, id, false)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(ctx, authorization.UserActor(actorID), current.OrgID,
		authorization.ObjectNegotiation, authorization.ActionNegotiationCreate); err != nil {
		return nil, err
	}

	n, _, err := s.mutate(ctx, id, func(repo domain.Repository, n *domain.Negotiation, now time.Time) (bool, error) {
		if n.Status != domain.StatusDraft {
			return false, invalidTransition(n.Status, domain.StatusSent)
		}
		if n.RequiresApproval {
			return false, domain.ErrApprovalRequired
		}
		if n.NextDispatchAt != nil {
			return false, nil
		}
		n.NextDispatchAt = &now
		n.DispatchAttempts = 0
		n.UpdatedAt = now
		return false, repo.Save(ctx, n)
	})
	if err != nil {
		return nil, err
	}
	return s.dispatch(ctx, n)
}

func (s *Service) RecordVendorReply(ctx context.Context, id snowflake.ID, reply domain.Reply) (*domain.Negotiation, error) {
	if reply.OfferPrice != nil && !reply.OfferPrice.IsPositive() {
		return nil, domain.ErrInvalidPrice
	}
	unlock, err := s.lock(ctx, id, false)
	if err != nil {
		return nil, err
	}
	defer unlock()

	n, _, err := s.mutate(ctx, id, func(repo domain.Repository, n *domain.Negotiation, now time.Time) (bool, error) {
		if err := s.transition(n, domain.StatusVendorReplied, now); err != nil {
			return false, err
		}
		if reply.OfferPrice != nil {
			offer := *reply.OfferPrice
			n.CurrentOfferPrice = &offer
		}
		at := reply.ReceivedAt
		if at.IsZero() {
			at = now
		}
		at = at.UTC()
		n.LastVendorResponseAt = &at
		n.NextFollowUpAt = nil
		n.LastEmailContent = datatypes.JSONMap{
			"direction":   "inbound",
			"from":        reply.From,
			"subject":     reply.Subject,
			"body":        reply.Content,
			"message_id":  reply.MessageID,
			"received_at": at.Format(time.RFC3339),
		}
		return false, repo.Save(ctx, n)
	})
	if err != nil {
		return nil, err
	}

	message := fmt.Sprintf("%s replied to your negotiation.", n.VendorContactEmail)
	if n.CurrentOfferPrice != nil {
		message = fmt.Sprintf("%s offered %s %s per unit (target %s).",
			n.VendorContactEmail, n.CurrentOfferPrice.StringFixed(2), n.Currency, n.TargetPrice.StringFixed(2))
	}
	s.notifier.Notify(ctx, notificationdomain.Message{
		OrgID:       n.OrgID,
		UserID:      n.UserID,
		Type:        notificationdomain.TypeNegotiationReply,
		Title:       "Vendor replied",
		Message:     message,
		Link:        fmt.Sprintf("/negotiations/%s", n.ID),
		ActionLabel: "Review offer",
		Related:     entityref.Negotiation(n.ID),
		Priority:    notificationdomain.PriorityHigh,
	})
	return n, nil
}

func (s *Service) Accept(ctx context.Context, id snowflake.ID, finalPrice decimal.Decimal, actorID snowflake.ID) (*domain.Negotiation, error) {
	if !finalPrice.IsPositive() {
		return nil, domain.ErrInvalidPrice
	}
	unlock, err := s.lock(ctx, id, false)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(ctx, authorization.UserActor(actorID), current.OrgID,
		authorization.ObjectNegotiation, authorization.ActionNegotiationAccept); err != nil {
		return nil, err
	}

	n, _, err := s.mutate(ctx, id, func(repo domain.Repository, n *domain.Negotiation, now time.Time) (bool, error) {
		if err := s.transition(n, domain.StatusAccepted, now); err != nil {
			return false, err
		}
		n.FinalPrice = &finalPrice
		n.ApprovedAt = &now
		n.ApprovedBy = &actorID
		if err := repo.Save(ctx, n); err != nil {
			return false, err
		}
		return true, s.audit.RecordTx(ctx, repo.Tx(), auditdomain.Entry{
			OrgID:   n.OrgID,
			ActorID: &actorID,
			Action:  auditdomain.ActionNegotiationAccepted,
			Target:  entityref.Negotiation(n.ID),
			Metadata: map[string]any{
				"final_price": finalPrice.String(),
				"quantity":    n.Quantity,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, notificationdomain.Message{
		OrgID:    n.OrgID,
		UserID:   n.UserID,
		Type:     notificationdomain.TypeNegotiationAccepted,
		Title:    "Negotiation accepted",
		Message:  fmt.Sprintf("Agreed on %s %s per unit for %d units.", finalPrice.StringFixed(2), n.Currency, n.Quantity),
		Link:     fmt.Sprintf("/negotiations/%s", n.ID),
		Related:  entityref.Negotiation(n.ID),
		Priority: notificationdomain.PriorityNormal,
	})

	if s.onAccepted != nil {
		if err := s.onAccepted.NegotiationAccepted(ctx, n); err != nil {
			s.log.Error("failed to handle accepted negotiation",
				zap.String("negotiation_id", n.ID.String()),
				zap.Error(err),
			)
			s.notifier.Notify(ctx, notificationdomain.Message{
				OrgID:    n.OrgID,
				UserID:   n.UserID,
				Type:     notificationdomain.TypeSystemAlert,
				Title:    "Purchase order not generated",
				Message:  err.Error(),
				Related:  entityref.Negotiation(n.ID),
				Priority: notificationdomain.PriorityHigh,
			})
		}
	}
	return n, nil
}

func (s *Service) Reject(ctx context.Context, id snowflake.ID, actorID snowflake.ID, reason string) (*domain.Negotiation, error) {
	unlock, err := s.lock(ctx, id, false)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(ctx, authorization.UserActor(actorID), current.OrgID,
		authorization.ObjectNegotiation, authorization.ActionNegotiationReject); err != nil {
		return nil, err
	}

	n, _, err := s.mutate(ctx, id, func(repo domain.Repository, n *domain.Negotiation, now time.Time) (bool, error) {
		from := n.Status
		if err := s.transition(n, domain.StatusRejected, now); err != nil {
			return false, err
		}
		n.NextFollowUpAt = nil
		if err := repo.Save(ctx, n); err != nil {
			return false, err
		}
		return true, s.audit.RecordTx(ctx, repo.Tx(), auditdomain.Entry{
			OrgID:   n.OrgID,
			ActorID: &actorID,
			Action:  auditdomain.ActionNegotiationRejected,
			Target:  entityref.Negotiation(n.ID),
			Changes: map[string]any{"status": map[string]any{"from": string(from), "to": string(n.Status)}},
			Metadata: map[string]any{
				"reason": strings.TrimSpace(reason),
			},
		})
	})
	return n, err
}

func (s *Service) Tick(ctx context.Context, id snowflake.ID) (*domain.Negotiation, error) {
	unlock, err := s.lock(ctx, id, true)
	if err != nil {
		return nil, err
	}
	defer unlock()

	n, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.Status.Terminal() {
		return n, nil
	}

	now := s.clock.Now()
	switch {
	case n.Expired(now):
		return s.expire(ctx, id, "negotiation deadline passed")
	case dispatchDue(n, now):
		return s.dispatch(ctx, n)
	case n.FollowUpDue(now) && n.FollowUpsExhausted():
		return s.expire(ctx, id, fmt.Sprintf("no vendor response after %d emails", n.EmailSentCount))
	case n.FollowUpDue(now):
		return s.followUp(ctx, n)
	default:
		return n, nil
	}
}

func (s *Service) ListDue(ctx context.Context, limit int) ([]domain.Negotiation, error) {
	return s.repo.ListDue(ctx, s.clock.Now(), limit)
}

type mutateFunc func(repo domain.Repository, n *domain.Negotiation, now time.Time) (bool, error)

// mutate runs fn against the row-locked negotiation in one transaction and
// reports whether fn moved it to a terminal state.
func (s *Service) mutate(ctx context.Context, id snowflake.ID, fn mutateFunc) (*domain.Negotiation, bool, error) {
	var (
		out        *domain.Negotiation
		terminated bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		n, err := repo.LockByID(ctx, id)
		if err != nil {
			return err
		}
		done, err := fn(repo, n, s.clock.Now())
		if err != nil {
			return err
		}
		out, terminated = n, done && n.Status.Terminal()
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, terminated, nil
}

func (s *Service) transition(n *domain.Negotiation, to domain.Status, now time.Time) error {
	if err := domain.Transitions.Ensure(n.Status, to); err != nil {
		return err
	}
	obsmetrics.Workflow().IncTransition(string(entityref.KindNegotiation), string(n.Status), string(to))
	n.Status = to
	n.UpdatedAt = now
	if to.Terminal() {
		n.NextFollowUpAt = nil
		n.NextDispatchAt = nil
	}
	return nil
}

func invalidTransition(from, to domain.Status) error {
	return &guard.InvalidTransitionError{Entity: "negotiation", Current: string(from), Requested: string(to)}
}

func (s *Service) lock(ctx context.Context, id snowflake.ID, try bool) (entitylock.Unlock, error) {
	key := entitylock.Key(string(entityref.KindNegotiation), id)
	if !try {
		return s.locker.Lock(ctx, key)
	}
	unlock, err := s.locker.TryLock(ctx, key)
	if errors.Is(err, entitylock.ErrNotAcquired) {
		return nil, fmt.Errorf("%w: %s", domain.ErrBusy, id)
	}
	return unlock, err
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
