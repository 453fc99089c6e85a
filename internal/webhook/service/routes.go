package service

import (
	"context"
	"errors"

	"github.com/smallbiznis/procura/internal/guard"
	negotiationdomain "github.com/smallbiznis/procura/internal/negotiation/domain"
	"github.com/smallbiznis/procura/internal/webhook/domain"
	"github.com/smallbiznis/procura/internal/webhook/inbound"
	"go.uber.org/zap"
)

// handle routes the event by type. The returned negotiation is the one the
// event was matched to, also on failure when known.
func (s *Service) handle(ctx context.Context, ev *domain.WebhookEvent) (*negotiationdomain.Negotiation, error) {
	switch ev.EventType {
	case domain.EventEmailReceived:
		return s.handleInboundEmail(ctx, ev)
	default:
		return nil, permanentf("%w: %s/%s", domain.ErrUnsupportedEvent, ev.Source, ev.EventType)
	}
}

func (s *Service) handleInboundEmail(ctx context.Context, ev *domain.WebhookEvent) (*negotiationdomain.Negotiation, error) {
	email, err := inbound.Parse(ev.Payload)
	if err != nil {
		return nil, permanentf("%w", err)
	}

	n, err := s.findNegotiation(ctx, email.ThreadIDs)
	if err != nil {
		return nil, err
	}
	if email.MessageID != "" && n.LastEmailContent != nil && n.LastEmailContent["message_id"] == email.MessageID {
		return n, nil
	}
	if n.Status.Terminal() {
		// The thread has moved on; a late reply changes nothing.
		s.log.Info("reply for closed negotiation ignored",
			zap.String("negotiation_id", n.ID.String()),
			zap.String("status", string(n.Status)),
		)
		return n, nil
	}

	receivedAt := email.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = ev.ReceivedAt
	}
	updated, err := s.negotiations.RecordVendorReply(ctx, n.ID, negotiationdomain.Reply{
		OfferPrice: email.OfferPrice,
		Subject:    email.Subject,
		Content:    email.Text,
		From:       email.From,
		MessageID:  email.MessageID,
		ReceivedAt: receivedAt,
	})
	switch {
	case err == nil:
		return updated, nil
	case errors.Is(err, guard.ErrInvalidTransition), errors.Is(err, negotiationdomain.ErrInvalidPrice):
		return n, permanentf("%w", err)
	default:
		return n, err
	}
}

func (s *Service) findNegotiation(ctx context.Context, threadIDs []string) (*negotiationdomain.Negotiation, error) {
	for _, id := range threadIDs {
		n, err := s.negotiations.FindByThread(ctx, id)
		if errors.Is(err, negotiationdomain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return n, nil
	}
	// The reply may race the commit of the outbound email; retry later.
	return nil, domain.ErrNoMatch
}
