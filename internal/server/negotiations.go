package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	negotiationdomain "github.com/smallbiznis/procura/internal/negotiation/domain"
)

type createNegotiationRequest struct {
	ProductID            string          `json:"product_id" binding:"required"`
	TargetPrice          decimal.Decimal `json:"target_price"`
	Quantity             int             `json:"quantity" binding:"required,min=1"`
	RequiresApproval     *bool           `json:"requires_approval"`
	AutoFollowUp         *bool           `json:"auto_follow_up"`
	MaxFollowUps         *int            `json:"max_follow_ups" binding:"omitempty,min=0,max=10"`
	PaymentTerms         *string         `json:"payment_terms" binding:"omitempty,max=255"`
	DeliveryTimelineDays *int            `json:"delivery_timeline_days" binding:"omitempty,min=1"`
	Notes                *string         `json:"notes"`
	ExpiresAt            *time.Time      `json:"expires_at"`
}

type recordReplyRequest struct {
	OfferPrice *decimal.Decimal `json:"offer_price"`
	Subject    string           `json:"subject" binding:"max=998"`
	Content    string           `json:"content" binding:"required"`
	From       string           `json:"from" binding:"omitempty,email"`
	MessageID  string           `json:"message_id" binding:"max=255"`
}

type acceptNegotiationRequest struct {
	FinalPrice decimal.Decimal `json:"final_price"`
}

type rejectNegotiationRequest struct {
	Reason string `json:"reason" binding:"max=2000"`
}

type listNegotiationsQuery struct {
	ProductID string `form:"product_id"`
	Status    string `form:"status"`
	Limit     int    `form:"limit" binding:"omitempty,min=1,max=200"`
}

func (s *Server) CreateNegotiation(c *gin.Context) {
	var req createNegotiationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}
	productID, err := parseOptionalSnowflakeID(req.ProductID)
	if err != nil || productID == nil {
		AbortWithError(c, newValidationError("product_id", "invalid_product_id", "invalid product_id"))
		return
	}
	product, err := s.productSvc.Get(c.Request.Context(), *productID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := sameOrg(c, product.OrgID); err != nil {
		AbortWithError(c, err)
		return
	}

	orgID, userID := actorFromContext(c)
	n, err := s.negotiationSvc.Create(c.Request.Context(), negotiationdomain.CreateRequest{
		OrgID:                orgID,
		UserID:               userID,
		ProductID:            product.ID,
		TargetPrice:          req.TargetPrice,
		Quantity:             req.Quantity,
		RequiresApproval:     req.RequiresApproval,
		AutoFollowUp:         req.AutoFollowUp,
		MaxFollowUps:         req.MaxFollowUps,
		PaymentTerms:         req.PaymentTerms,
		DeliveryTimelineDays: req.DeliveryTimelineDays,
		Notes:                req.Notes,
		ExpiresAt:            req.ExpiresAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": n})
}

func (s *Server) ListNegotiations(c *gin.Context) {
	var query listNegotiationsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}
	productID, err := parseOptionalSnowflakeID(query.ProductID)
	if err != nil {
		AbortWithError(c, newValidationError("product_id", "invalid_product_id", "invalid product_id"))
		return
	}

	orgID, _ := actorFromContext(c)
	filter := negotiationdomain.ListFilter{
		OrgID:  orgID,
		Status: negotiationdomain.Status(strings.TrimSpace(query.Status)),
		Limit:  query.Limit,
	}
	if productID != nil {
		filter.ProductID = *productID
	}
	items, err := s.negotiationSvc.List(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) loadNegotiation(c *gin.Context) (*negotiationdomain.Negotiation, bool) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return nil, false
	}
	n, err := s.negotiationSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return nil, false
	}
	if err := sameOrg(c, n.OrgID); err != nil {
		AbortWithError(c, err)
		return nil, false
	}
	return n, true
}

func (s *Server) GetNegotiation(c *gin.Context) {
	n, ok := s.loadNegotiation(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": n})
}

func (s *Server) RequestNegotiationApproval(c *gin.Context) {
	s.negotiationAction(c, func(c *gin.Context, n *negotiationdomain.Negotiation) (*negotiationdomain.Negotiation, error) {
		_, userID := actorFromContext(c)
		return s.negotiationSvc.RequestApproval(c.Request.Context(), n.ID, userID)
	})
}

func (s *Server) ApproveNegotiation(c *gin.Context) {
	s.negotiationAction(c, func(c *gin.Context, n *negotiationdomain.Negotiation) (*negotiationdomain.Negotiation, error) {
		_, userID := actorFromContext(c)
		return s.negotiationSvc.Approve(c.Request.Context(), n.ID, userID)
	})
}

func (s *Server) SendNegotiation(c *gin.Context) {
	s.negotiationAction(c, func(c *gin.Context, n *negotiationdomain.Negotiation) (*negotiationdomain.Negotiation, error) {
		_, userID := actorFromContext(c)
		return s.negotiationSvc.Send(c.Request.Context(), n.ID, userID)
	})
}

func (s *Server) RecordNegotiationReply(c *gin.Context) {
	var req recordReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}
	s.negotiationAction(c, func(c *gin.Context, n *negotiationdomain.Negotiation) (*negotiationdomain.Negotiation, error) {
		return s.negotiationSvc.RecordVendorReply(c.Request.Context(), n.ID, negotiationdomain.Reply{
			OfferPrice: req.OfferPrice,
			Subject:    strings.TrimSpace(req.Subject),
			Content:    req.Content,
			From:       strings.TrimSpace(req.From),
			MessageID:  strings.TrimSpace(req.MessageID),
			ReceivedAt: s.clock.Now(),
		})
	})
}

func (s *Server) AcceptNegotiation(c *gin.Context) {
	var req acceptNegotiationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}
	s.negotiationAction(c, func(c *gin.Context, n *negotiationdomain.Negotiation) (*negotiationdomain.Negotiation, error) {
		_, userID := actorFromContext(c)
		return s.negotiationSvc.Accept(c.Request.Context(), n.ID, req.FinalPrice, userID)
	})
}

func (s *Server) RejectNegotiation(c *gin.Context) {
	var req rejectNegotiationRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, bindingError(err))
			return
		}
	}
	s.negotiationAction(c, func(c *gin.Context, n *negotiationdomain.Negotiation) (*negotiationdomain.Negotiation, error) {
		_, userID := actorFromContext(c)
		return s.negotiationSvc.Reject(c.Request.Context(), n.ID, userID, strings.TrimSpace(req.Reason))
	})
}

func (s *Server) negotiationAction(c *gin.Context, fn func(*gin.Context, *negotiationdomain.Negotiation) (*negotiationdomain.Negotiation, error)) {
	n, ok := s.loadNegotiation(c)
	if !ok {
		return
	}
	updated, err := fn(c, n)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": updated})
}
