package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/procura/internal/authorization"
	purchaseorderdomain "github.com/smallbiznis/procura/internal/purchaseorder/domain"
)

type generatePurchaseOrderRequest struct {
	DeliveryAddress      map[string]any `json:"delivery_address"`
	ExpectedDeliveryDate *time.Time     `json:"expected_delivery_date"`
	Notes                *string        `json:"notes" binding:"omitempty,max=4000"`
}

type voidPurchaseOrderRequest struct {
	Reason string `json:"reason" binding:"required,max=2000"`
}

func (s *Server) ListPurchaseOrders(c *gin.Context) {
	n, ok := s.loadNegotiation(c)
	if !ok {
		return
	}
	orders, err := s.poSvc.ListByNegotiation(c.Request.Context(), n.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": orders})
}

func (s *Server) GeneratePurchaseOrder(c *gin.Context) {
	var req generatePurchaseOrderRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, bindingError(err))
			return
		}
	}
	n, ok := s.loadNegotiation(c)
	if !ok {
		return
	}

	_, userID := actorFromContext(c)
	po, err := s.poSvc.Generate(c.Request.Context(), purchaseorderdomain.GenerateRequest{
		NegotiationID:        n.ID,
		Actor:                authorization.UserActor(userID),
		DeliveryAddress:      req.DeliveryAddress,
		ExpectedDeliveryDate: req.ExpectedDeliveryDate,
		Notes:                req.Notes,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": po})
}

func (s *Server) loadPurchaseOrder(c *gin.Context) (*purchaseorderdomain.PurchaseOrder, bool) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return nil, false
	}
	po, err := s.poSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return nil, false
	}
	if err := sameOrg(c, po.OrgID); err != nil {
		AbortWithError(c, err)
		return nil, false
	}
	return po, true
}

func (s *Server) GetPurchaseOrder(c *gin.Context) {
	po, ok := s.loadPurchaseOrder(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": po})
}

func (s *Server) RenderPurchaseOrder(c *gin.Context) {
	po, ok := s.loadPurchaseOrder(c)
	if !ok {
		return
	}
	doc, err := s.poSvc.Render(c.Request.Context(), po.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`inline; filename="%s.pdf"`, po.PONumber))
	c.Data(http.StatusOK, "application/pdf", doc)
}

func (s *Server) ApprovePurchaseOrder(c *gin.Context) {
	s.purchaseOrderAction(c, func(c *gin.Context, po *purchaseorderdomain.PurchaseOrder) (*purchaseorderdomain.PurchaseOrder, error) {
		_, userID := actorFromContext(c)
		return s.poSvc.Approve(c.Request.Context(), po.ID, userID)
	})
}

func (s *Server) SendPurchaseOrder(c *gin.Context) {
	s.purchaseOrderAction(c, func(c *gin.Context, po *purchaseorderdomain.PurchaseOrder) (*purchaseorderdomain.PurchaseOrder, error) {
		_, userID := actorFromContext(c)
		return s.poSvc.MarkSent(c.Request.Context(), po.ID, userID)
	})
}

func (s *Server) VoidPurchaseOrder(c *gin.Context) {
	var req voidPurchaseOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}
	s.purchaseOrderAction(c, func(c *gin.Context, po *purchaseorderdomain.PurchaseOrder) (*purchaseorderdomain.PurchaseOrder, error) {
		_, userID := actorFromContext(c)
		return s.poSvc.Void(c.Request.Context(), po.ID, userID, strings.TrimSpace(req.Reason))
	})
}

func (s *Server) purchaseOrderAction(c *gin.Context, fn func(*gin.Context, *purchaseorderdomain.PurchaseOrder) (*purchaseorderdomain.PurchaseOrder, error)) {
	po, ok := s.loadPurchaseOrder(c)
	if !ok {
		return
	}
	updated, err := fn(c, po)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": updated})
}
