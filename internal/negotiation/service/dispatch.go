package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/procura/internal/agent"
	"github.com/smallbiznis/procura/internal/entityref"
	"github.com/smallbiznis/procura/internal/negotiation/domain"
	notificationdomain "github.com/smallbiznis/procura/internal/notification/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// dispatch sends the first email of an approved negotiation once its
// dispatch time has come. The caller holds the entity lock, so the email
// goes out at most once per attempt.
func (s *Service) dispatch(ctx context.Context, n *domain.Negotiation) (*domain.Negotiation, error) {
	if !dispatchDue(n, s.clock.Now()) {
		return n, nil
	}
	email, err := s.compose(ctx, n, domain.EmailKindInitialContact)
	if err != nil {
		return s.expire(ctx, n.ID, "compose initial email: "+err.Error())
	}
	res, sendErr := s.send(ctx, email)
	if sendErr != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	cfg := s.workflow.Get()
	out, terminated, err := s.mutate(ctx, n.ID, func(repo domain.Repository, cur *domain.Negotiation, now time.Time) (bool, error) {
		if !dispatchDue(cur, now) {
			return false, nil
		}
		if sendErr != nil {
			return s.sendFailed(ctx, repo, cur, sendErr, func(next time.Time) { cur.NextDispatchAt = &next }, now)
		}
		if err := s.transition(cur, domain.StatusSent, now); err != nil {
			return false, err
		}
		s.recordOutbound(cur, email, res, now)
		cur.NextDispatchAt = nil
		if cur.AutoFollowUpEnabled {
			next := now.Add(cfg.FollowUpInterval)
			cur.NextFollowUpAt = &next
		}
		return false, repo.Save(ctx, cur)
	})
	if err != nil {
		return nil, err
	}
	if sendErr == nil {
		s.metrics.RecordEmailSent(ctx, email.Kind)
	}
	if terminated {
		s.notifyExpired(ctx, out)
	}
	return out, nil
}

// A pending retry stays on its backoff even when Approve or Send is
// called again.
func dispatchDue(n *domain.Negotiation, now time.Time) bool {
	return n.AwaitingDispatch() && !now.Before(*n.NextDispatchAt)
}

func (s *Service) followUp(ctx context.Context, n *domain.Negotiation) (*domain.Negotiation, error) {
	email, err := s.compose(ctx, n, domain.EmailKindFollowUp)
	if err != nil {
		return s.expire(ctx, n.ID, "compose follow-up: "+err.Error())
	}
	res, sendErr := s.send(ctx, email)
	if sendErr != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	sentCount := n.EmailSentCount
	cfg := s.workflow.Get()
	out, terminated, err := s.mutate(ctx, n.ID, func(repo domain.Repository, cur *domain.Negotiation, now time.Time) (bool, error) {
		if cur.Status != domain.StatusSent || cur.EmailSentCount != sentCount {
			return false, nil
		}
		if sendErr != nil {
			return s.sendFailed(ctx, repo, cur, sendErr, func(next time.Time) { cur.NextFollowUpAt = &next }, now)
		}
		s.recordOutbound(cur, email, res, now)
		next := now.Add(cfg.FollowUpInterval)
		cur.NextFollowUpAt = &next
		cur.UpdatedAt = now
		return false, repo.Save(ctx, cur)
	})
	if err != nil {
		return nil, err
	}
	if sendErr == nil {
		s.metrics.RecordEmailSent(ctx, email.Kind)
	}
	if terminated {
		s.notifyExpired(ctx, out)
	}
	return out, nil
}

func (s *Service) send(ctx context.Context, email agent.Email) (*agent.SendResult, error) {
	timeout := s.workflow.Get().CapabilityTimeout
	return agent.Invoke(ctx, agent.CapabilityEmail, timeout, func(ctx context.Context) (*agent.SendResult, error) {
		return s.email.SendEmail(ctx, email)
	})
}

// sendFailed schedules another attempt after a transient failure and
// expires the negotiation after a fatal one or once attempts run out.
func (s *Service) sendFailed(ctx context.Context, repo domain.Repository, n *domain.Negotiation, sendErr error, reschedule func(time.Time), now time.Time) (bool, error) {
	cfg := s.workflow.Get()
	msg := sendErr.Error()
	n.DispatchAttempts++
	n.ErrorMessage = &msg
	n.UpdatedAt = now

	terminated := false
	if agent.IsFatal(sendErr) || n.DispatchAttempts >= cfg.MaxDispatchAttempts {
		if err := s.transition(n, domain.StatusExpired, now); err != nil {
			return false, err
		}
		failed := fmt.Sprintf("email delivery failed after %d attempts: %s", n.DispatchAttempts, msg)
		n.ErrorMessage = &failed
		terminated = true
	} else {
		reschedule(now.Add(cfg.RetryDelay(n.DispatchAttempts - 1)))
	}

	s.log.Warn("negotiation email failed",
		zap.String("negotiation_id", n.ID.String()),
		zap.Int("attempts", n.DispatchAttempts),
		zap.Bool("expired", terminated),
		zap.Error(sendErr),
	)
	return terminated, repo.Save(ctx, n)
}

func (s *Service) expire(ctx context.Context, id snowflake.ID, reason string) (*domain.Negotiation, error) {
	n, terminated, err := s.mutate(ctx, id, func(repo domain.Repository, n *domain.Negotiation, now time.Time) (bool, error) {
		if n.Status.Terminal() {
			return false, nil
		}
		if err := s.transition(n, domain.StatusExpired, now); err != nil {
			return false, err
		}
		n.ErrorMessage = &reason
		return true, repo.Save(ctx, n)
	})
	if err != nil {
		return nil, err
	}
	if terminated {
		s.notifyExpired(ctx, n)
	}
	return n, nil
}

func (s *Service) notifyExpired(ctx context.Context, n *domain.Negotiation) {
	s.log.Info("negotiation expired",
		zap.String("negotiation_id", n.ID.String()),
		zap.Int("email_sent_count", n.EmailSentCount),
		zap.String("reason", deref(n.ErrorMessage)),
	)
	s.notifier.Notify(ctx, notificationdomain.Message{
		OrgID:    n.OrgID,
		UserID:   n.UserID,
		Type:     notificationdomain.TypeNegotiationExpired,
		Title:    "Negotiation expired",
		Message:  deref(n.ErrorMessage),
		Link:     fmt.Sprintf("/negotiations/%s", n.ID),
		Related:  entityref.Negotiation(n.ID),
		Priority: notificationdomain.PriorityNormal,
	})
}

func (s *Service) compose(ctx context.Context, n *domain.Negotiation, kind string) (agent.Email, error) {
	product, err := s.products.FindByID(ctx, s.db, n.ProductID)
	if err != nil {
		return agent.Email{}, err
	}
	data := emailData{
		VendorName:   deref(n.VendorContactName),
		ProductTitle: product.Title,
		Quantity:     n.Quantity,
		Currency:     n.Currency,
		ListPrice:    n.OriginalPrice.StringFixed(2),
		TargetPrice:  n.TargetPrice.StringFixed(2),
		PaymentTerms: deref(n.PaymentTerms),
		FollowUp:     n.EmailSentCount,
		Subject:      deref(n.EmailSubject),
	}
	if n.DeliveryTimelineDays != nil {
		data.DeliveryDays = *n.DeliveryTimelineDays
	}
	subject, body, err := render(kind, data)
	if err != nil {
		return agent.Email{}, err
	}
	return agent.Email{
		To:       n.VendorContactEmail,
		Subject:  subject,
		Body:     body,
		ThreadID: deref(n.EmailThreadID),
		Kind:     kind,
	}, nil
}

func (s *Service) recordOutbound(n *domain.Negotiation, email agent.Email, res *agent.SendResult, now time.Time) {
	n.EmailSentCount++
	n.DispatchAttempts = 0
	n.ErrorMessage = nil
	n.UpdatedAt = now
	if n.EmailSubject == nil {
		subject := email.Subject
		n.EmailSubject = &subject
	}
	content := datatypes.JSONMap{
		"direction": "outbound",
		"kind":      email.Kind,
		"subject":   email.Subject,
		"body":      email.Body,
		"sent_at":   now.Format(time.RFC3339),
	}
	if res != nil {
		if n.EmailThreadID == nil && res.ThreadID != "" {
			thread := res.ThreadID
			n.EmailThreadID = &thread
		}
		content["message_id"] = res.MessageID
	}
	n.LastEmailContent = content
}
