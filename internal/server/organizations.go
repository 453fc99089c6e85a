package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/procura/internal/orgcontext"
	orgdomain "github.com/smallbiznis/procura/internal/organization/domain"
)

type createOrganizationRequest struct {
	Name string `json:"name" binding:"required,max=255"`
}

type updateLimitsRequest struct {
	MaxSearchesPerMonth   *int             `json:"max_searches_per_month" binding:"omitempty,min=0"`
	MaxProductsPerSearch  *int             `json:"max_products_per_search" binding:"omitempty,min=1"`
	MaxConcurrentJobs     *int             `json:"max_concurrent_jobs" binding:"omitempty,min=1"`
	MonthlyBudgetUSD      *decimal.Decimal `json:"monthly_budget_usd"`
	MaxRetries            *int             `json:"max_retries" binding:"omitempty,min=0,max=10"`
	EnableAutoNegotiation *bool            `json:"enable_auto_negotiation"`
	AllowedVendors        []string         `json:"allowed_vendors"`
	BlockedVendors        []string         `json:"blocked_vendors"`
}

type addMemberRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Role   string `json:"role" binding:"required,oneof=owner admin manager member"`
}

func (s *Server) CreateOrganization(c *gin.Context) {
	var req createOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}
	userID, _ := orgcontext.UserIDFromContext(c.Request.Context())
	org, err := s.orgSvc.Create(c.Request.Context(), orgdomain.CreateOrganizationRequest{
		Name:        strings.TrimSpace(req.Name),
		OwnerUserID: userID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": org})
}

// GetOrganization returns the caller's organization with its settings and
// current quota usage.
func (s *Server) GetOrganization(c *gin.Context) {
	ctx := c.Request.Context()
	orgID, _ := actorFromContext(c)
	org, err := s.orgSvc.GetByID(ctx, orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	settings, err := s.orgSvc.GetSettings(ctx, orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	usage, err := s.quota.Usage(ctx, orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"organization": org,
		"settings":     settings,
		"usage":        usage,
		"role":         c.GetString(contextRoleKey),
	}})
}

func (s *Server) UpdateOrganizationLimits(c *gin.Context) {
	var req updateLimitsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}
	allowed, err := parseIDList(req.AllowedVendors)
	if err != nil {
		AbortWithError(c, newValidationError("allowed_vendors", "invalid_allowed_vendors", "invalid vendor id"))
		return
	}
	blocked, err := parseIDList(req.BlockedVendors)
	if err != nil {
		AbortWithError(c, newValidationError("blocked_vendors", "invalid_blocked_vendors", "invalid vendor id"))
		return
	}

	orgID, _ := actorFromContext(c)
	settings, err := s.orgSvc.UpdateLimits(c.Request.Context(), orgID, orgdomain.UpdateLimitsRequest{
		MaxSearchesPerMonth:   req.MaxSearchesPerMonth,
		MaxProductsPerSearch:  req.MaxProductsPerSearch,
		MaxConcurrentJobs:     req.MaxConcurrentJobs,
		MonthlyBudgetUSD:      req.MonthlyBudgetUSD,
		MaxRetries:            req.MaxRetries,
		EnableAutoNegotiation: req.EnableAutoNegotiation,
		AllowedVendors:        allowed,
		BlockedVendors:        blocked,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": settings})
}

func (s *Server) AddOrganizationMember(c *gin.Context) {
	var req addMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}
	memberID, err := parseOptionalSnowflakeID(req.UserID)
	if err != nil || memberID == nil {
		AbortWithError(c, newValidationError("user_id", "invalid_user_id", "invalid user_id"))
		return
	}

	orgID, _ := actorFromContext(c)
	if err := s.orgSvc.AddMember(c.Request.Context(), orgID, *memberID, req.Role); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func parseIDList(values []string) ([]snowflake.ID, error) {
	if values == nil {
		return nil, nil
	}
	out := make([]snowflake.ID, 0, len(values))
	for _, v := range values {
		id, err := parseOptionalSnowflakeID(v)
		if err != nil || id == nil {
			return nil, ErrInvalidRequest
		}
		out = append(out, *id)
	}
	return out, nil
}
