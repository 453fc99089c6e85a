package agent

import (
	"context"

	"golang.org/x/time/rate"
)

// PacedSender limits the outbound email rate across all negotiations.
type PacedSender struct {
	next    EmailSender
	limiter *rate.Limiter
}

func NewPacedSender(next EmailSender, perSecond float64, burst int) *PacedSender {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &PacedSender{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (p *PacedSender) SendEmail(ctx context.Context, email Email) (*SendResult, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, Retryable(CapabilityEmail, err)
	}
	return p.next.SendEmail(ctx, email)
}
