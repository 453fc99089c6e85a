package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/procura/internal/audit/domain"
	"github.com/smallbiznis/procura/internal/authorization"
	"github.com/smallbiznis/procura/internal/clock"
	"github.com/smallbiznis/procura/internal/config"
	"github.com/smallbiznis/procura/internal/entityref"
	negotiationdomain "github.com/smallbiznis/procura/internal/negotiation/domain"
	notificationdomain "github.com/smallbiznis/procura/internal/notification/domain"
	obsmetrics "github.com/smallbiznis/procura/internal/observability/metrics"
	orgdomain "github.com/smallbiznis/procura/internal/organization/domain"
	productdomain "github.com/smallbiznis/procura/internal/product/domain"
	"github.com/smallbiznis/procura/internal/purchaseorder/domain"
	"github.com/smallbiznis/procura/internal/purchaseorder/format"
	supplierdomain "github.com/smallbiznis/procura/internal/supplier/domain"
	pkgdb "github.com/smallbiznis/procura/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Concurrent generation for different negotiations can race on the yearly
// sequence; the unique po_number index rejects the loser, which retries.
const maxNumberAttempts = 3

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         domain.Repository
	Negotiations negotiationdomain.Repository
	Products     productdomain.Repository
	Vendors      supplierdomain.Service
	OrgRepo      orgdomain.Repository
	Workflow     *config.WorkflowConfigHolder
	Authz        authorization.Service
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
	negotiations negotiationdomain.Repository
	products     productdomain.Repository
	vendors      supplierdomain.Service
	orgRepo      orgdomain.Repository
	workflow     *config.WorkflowConfigHolder
	authz        authorization.Service
	notifier     notificationdomain.Sink
	audit        auditdomain.Service
	metrics      *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("purchaseorder.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		negotiations: p.Negotiations,
		products:     p.Products,
		vendors:      p.Vendors,
		orgRepo:      p.OrgRepo,
		workflow:     p.Workflow,
		authz:        p.Authz,
		notifier:     p.Notifier,
		audit:        p.Audit,
		metrics:      p.Metrics,
	}
}

// NegotiationAccepted generates the order for a freshly accepted
// negotiation. An order that already exists is left alone.
func (s *Service) NegotiationAccepted(ctx context.Context, n *negotiationdomain.Negotiation) error {
	_, err := s.Generate(ctx, domain.GenerateRequest{
		NegotiationID: n.ID,
		Actor:         authorization.ActorSystem,
	})
	if errors.Is(err, domain.ErrAlreadyGenerated) {
		return nil
	}
	return err
}

func (s *Service) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.PurchaseOrder, error) {
	n, err := s.negotiations.FindByID(ctx, req.NegotiationID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(ctx, req.Actor, n.OrgID,
		authorization.ObjectPurchaseOrder, authorization.ActionPurchaseOrderGenerate); err != nil {
		return nil, err
	}

	var po *domain.PurchaseOrder
	for attempt := 1; ; attempt++ {
		po, err = s.generate(ctx, req)
		if err == nil || !pkgdb.IsDuplicateKeyErr(err) || attempt == maxNumberAttempts {
			break
		}
		s.log.Warn("po number taken, retrying", zap.Int("attempt", attempt))
	}
	if err != nil {
		return nil, err
	}

	s.metrics.RecordPurchaseOrder(ctx, "generated")
	obsmetrics.Workflow().IncTransition(string(entityref.KindPurchaseOrder), "", string(domain.StatusDraft))
	s.log.Info("purchase order generated",
		zap.String("po_number", po.PONumber),
		zap.String("negotiation_id", po.NegotiationID.String()),
		zap.String("total", po.TotalAmount.StringFixed(2)),
	)
	s.notifier.Notify(ctx, notificationdomain.Message{
		OrgID:       po.OrgID,
		UserID:      n.UserID,
		Type:        notificationdomain.TypePurchaseOrderReady,
		Title:       "Purchase order ready",
		Message:     fmt.Sprintf("%s for %s %s is ready for review.", po.PONumber, po.TotalAmount.StringFixed(2), po.Currency),
		Link:        fmt.Sprintf("/purchase-orders/%s", po.ID),
		ActionLabel: "Review",
		Related:     entityref.PurchaseOrder(po.ID),
		Priority:    notificationdomain.PriorityHigh,
	})
	return po, nil
}

func (s *Service) generate(ctx context.Context, req domain.GenerateRequest) (*domain.PurchaseOrder, error) {
	cfg := s.workflow.Get()
	var out *domain.PurchaseOrder
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The negotiation row lock serializes generation per negotiation.
		n, err := s.negotiations.WithTx(tx).LockByID(ctx, req.NegotiationID)
		if err != nil {
			return err
		}
		if n.Status != negotiationdomain.StatusAccepted || n.FinalPrice == nil {
			return domain.ErrNegotiationNotAccepted
		}
		repo := s.repo.WithTx(tx)
		existing, err := repo.FindActive(ctx, n.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: %s", domain.ErrAlreadyGenerated, existing.PONumber)
		}

		now := s.clock.Now()
		seq, err := repo.NextSequence(ctx, now.Year())
		if err != nil {
			return err
		}
		number, err := format.FormatPONumber(cfg.PONumberTemplate, now, seq)
		if err != nil {
			return err
		}

		unit := *n.FinalPrice
		subtotal := unit.Mul(decimal.NewFromInt(int64(n.Quantity))).Round(2)
		tax := subtotal.Mul(cfg.TaxRate()).Round(2)
		shipping := cfg.ShippingCost().Round(2)

		po := &domain.PurchaseOrder{
			ID:              s.genID.Generate(),
			OrgID:           n.OrgID,
			NegotiationID:   n.ID,
			VendorID:        n.VendorID,
			PONumber:        number,
			SequenceYear:    now.Year(),
			Sequence:        seq,
			Quantity:        n.Quantity,
			UnitPrice:       unit,
			Subtotal:        subtotal,
			TaxAmount:       tax,
			ShippingCost:    shipping,
			TotalAmount:     subtotal.Add(tax).Add(shipping),
			Currency:        n.Currency,
			PaymentTerms:    n.PaymentTerms,
			DeliveryAddress: datatypes.JSONMap(req.DeliveryAddress),
			Notes:           req.Notes,
			Metadata: datatypes.JSONMap{
				"product_id":     n.ProductID.String(),
				"target_price":   n.TargetPrice.String(),
				"original_price": n.OriginalPrice.String(),
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
		switch {
		case req.ExpectedDeliveryDate != nil:
			d := req.ExpectedDeliveryDate.UTC()
			po.ExpectedDeliveryDate = &d
		case n.DeliveryTimelineDays != nil:
			d := now.AddDate(0, 0, *n.DeliveryTimelineDays)
			po.ExpectedDeliveryDate = &d
		}
		if err := repo.Create(ctx, po); err != nil {
			return err
		}
		out = po
		return s.audit.RecordTx(ctx, tx, auditdomain.Entry{
			OrgID:   po.OrgID,
			ActorID: actorID(req.Actor),
			Action:  auditdomain.ActionPurchaseOrderCreated,
			Target:  entityref.PurchaseOrder(po.ID),
			Metadata: map[string]any{
				"po_number":      po.PONumber,
				"negotiation_id": n.ID.String(),
				"total_amount":   po.TotalAmount.String(),
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.PurchaseOrder, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *Service) ListByNegotiation(ctx context.Context, negotiationID snowflake.ID) ([]domain.PurchaseOrder, error) {
	return s.repo.ListByNegotiation(ctx, negotiationID)
}

func (s *Service) Approve(ctx context.Context, id snowflake.ID, approverID snowflake.ID) (*domain.PurchaseOrder, error) {
	return s.update(ctx, id, approverID, authorization.ActionPurchaseOrderApprove, auditdomain.ActionPurchaseOrderApprove,
		func(repo domain.Repository, po *domain.PurchaseOrder, now time.Time) (bool, error) {
			if po.VoidedAt != nil {
				return false, domain.ErrVoided
			}
			if po.ApprovedByUser {
				return false, nil
			}
			po.ApprovedByUser = true
			po.ApprovedAt = &now
			po.ApprovedBy = &approverID
			return true, nil
		})
}

func (s *Service) MarkSent(ctx context.Context, id snowflake.ID, actorID snowflake.ID) (*domain.PurchaseOrder, error) {
	return s.update(ctx, id, actorID, authorization.ActionPurchaseOrderSend, auditdomain.ActionPurchaseOrderSent,
		func(repo domain.Repository, po *domain.PurchaseOrder, now time.Time) (bool, error) {
			switch {
			case po.VoidedAt != nil:
				return false, domain.ErrVoided
			case po.IsSentToVendor:
				return false, nil
			case !po.ApprovedByUser:
				return false, domain.ErrNotApproved
			}
			sent, err := repo.CountSent(ctx, po.NegotiationID)
			if err != nil {
				return false, err
			}
			if sent > 0 {
				return false, domain.ErrAlreadySent
			}
			po.IsSentToVendor = true
			po.SentAt = &now
			return true, nil
		})
}

func (s *Service) Void(ctx context.Context, id snowflake.ID, actorID snowflake.ID, reason string) (*domain.PurchaseOrder, error) {
	return s.update(ctx, id, actorID, authorization.ActionPurchaseOrderVoid, auditdomain.ActionPurchaseOrderVoided,
		func(repo domain.Repository, po *domain.PurchaseOrder, now time.Time) (bool, error) {
			if po.IsSentToVendor {
				return false, domain.ErrSentImmutable
			}
			if po.VoidedAt != nil {
				return false, nil
			}
			po.VoidedAt = &now
			if r := strings.TrimSpace(reason); r != "" {
				po.VoidReason = &r
			}
			return true, nil
		})
}

type updateFunc func(repo domain.Repository, po *domain.PurchaseOrder, now time.Time) (bool, error)

// update authorizes the actor, then applies fn to the row-locked order and
// audits the change when fn reports one.
func (s *Service) update(ctx context.Context, id, actorID snowflake.ID, action, auditAction string, fn updateFunc) (*domain.PurchaseOrder, error) {
	current, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(ctx, authorization.UserActor(actorID), current.OrgID,
		authorization.ObjectPurchaseOrder, action); err != nil {
		return nil, err
	}

	var (
		out     *domain.PurchaseOrder
		changed bool
		from    domain.Status
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		po, err := repo.LockByID(ctx, id)
		if err != nil {
			return err
		}
		from = po.Status()
		now := s.clock.Now()
		changed, err = fn(repo, po, now)
		if err != nil {
			return err
		}
		out = po
		if !changed {
			return nil
		}
		po.UpdatedAt = now
		if err := repo.Save(ctx, po); err != nil {
			return err
		}
		return s.audit.RecordTx(ctx, tx, auditdomain.Entry{
			OrgID:   po.OrgID,
			ActorID: &actorID,
			Action:  auditAction,
			Target:  entityref.PurchaseOrder(po.ID),
			Changes: map[string]any{"status": map[string]any{"from": string(from), "to": string(po.Status())}},
			Metadata: map[string]any{
				"po_number": po.PONumber,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	if changed {
		to := out.Status()
		s.metrics.RecordPurchaseOrder(ctx, string(to))
		obsmetrics.Workflow().IncTransition(string(entityref.KindPurchaseOrder), string(from), string(to))
		s.log.Info("purchase order updated",
			zap.String("po_number", out.PONumber),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
		)
	}
	return out, nil
}

func actorID(actor string) *snowflake.ID {
	raw, ok := strings.CutPrefix(actor, "user:")
	if !ok {
		return nil
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return nil
	}
	return &id
}
