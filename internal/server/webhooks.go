package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	webhookdomain "github.com/smallbiznis/procura/internal/webhook/domain"
	"go.uber.org/zap"
)

const headerWebhookID = "X-Webhook-Id"

type webhookEnvelope struct {
	ExternalID string         `json:"id"`
	EventType  string         `json:"type" binding:"required"`
	Payload    map[string]any `json:"data" binding:"required"`
	CreatedAt  *time.Time     `json:"created_at"`
}

// IngestWebhook stores the delivery, then makes one inline processing
// attempt. Failed attempts are left to the retry sweep.
func (s *Server) IngestWebhook(c *gin.Context) {
	var req webhookEnvelope
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}
	externalID := strings.TrimSpace(req.ExternalID)
	if externalID == "" {
		externalID = strings.TrimSpace(c.GetHeader(headerWebhookID))
	}

	ctx := c.Request.Context()
	ev, outcome, err := s.webhookSvc.Ingest(ctx, webhookdomain.IngestRequest{
		Source:         c.Param("source"),
		ExternalID:     externalID,
		EventType:      req.EventType,
		Payload:        req.Payload,
		Headers:        flattenHeaders(c.Request.Header),
		IPAddress:      c.ClientIP(),
		UserAgent:      c.Request.UserAgent(),
		EventCreatedAt: req.CreatedAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if outcome == webhookdomain.OutcomeDuplicate {
		c.JSON(http.StatusOK, gin.H{"data": gin.H{"id": ev.ID, "outcome": outcome, "processed": ev.Processed}})
		return
	}

	if processed, err := s.webhookSvc.Process(ctx, ev.ID); err != nil {
		if !errors.Is(err, webhookdomain.ErrBusy) {
			s.log.Warn("inline webhook processing failed",
				zap.String("webhook_event_id", ev.ID.String()),
				zap.Error(err),
			)
		}
	} else {
		ev = processed
	}

	c.JSON(http.StatusAccepted, gin.H{"data": gin.H{"id": ev.ID, "outcome": outcome, "processed": ev.Processed}})
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for key, values := range h {
		if len(values) > 0 {
			out[key] = values[0]
		}
	}
	return out
}
