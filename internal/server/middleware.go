package server

import (
	"math"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/procura/internal/orgcontext"
)

// Identity arrives from the fronting gateway, which authenticates the
// caller and forwards these headers.
const (
	HeaderOrg  = "X-Org-ID"
	HeaderUser = "X-User-ID"

	contextRoleKey = "member_role"
)

// RequireUser resolves the acting user from the gateway header.
func (s *Server) RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := snowflake.ParseString(strings.TrimSpace(c.GetHeader(HeaderUser)))
		if err != nil || userID == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Request = c.Request.WithContext(orgcontext.WithUserID(c.Request.Context(), userID))
		c.Next()
	}
}

// RequireMember resolves the organization and rejects callers that are not
// members of it.
func (s *Server) RequireMember() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		userID, ok := orgcontext.UserIDFromContext(ctx)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		orgID, err := snowflake.ParseString(strings.TrimSpace(c.GetHeader(HeaderOrg)))
		if err != nil || orgID == 0 {
			AbortWithError(c, newValidationError("org_id", "invalid_org_id", "missing or invalid "+HeaderOrg))
			return
		}

		role, err := s.orgRepo.FindMemberRole(ctx, orgID, userID)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(contextRoleKey, role)
		c.Request = c.Request.WithContext(orgcontext.WithOrgID(ctx, orgID))
		c.Next()
	}
}

func actorFromContext(c *gin.Context) (orgID, userID snowflake.ID) {
	ctx := c.Request.Context()
	orgID, _ = orgcontext.OrgIDFromContext(ctx)
	userID, _ = orgcontext.UserIDFromContext(ctx)
	return orgID, userID
}

// LimitWebhookIngress throttles deliveries per source and client address.
func (s *Server) LimitWebhookIngress() gin.HandlerFunc {
	return func(c *gin.Context) {
		res := s.ingressLimiter.Allow(c.Request.Context(), c.Param("source"), c.ClientIP())
		if !res.Allowed {
			if secs := int(math.Ceil(res.RetryAfter.Seconds())); secs > 0 {
				c.Header("Retry-After", strconv.Itoa(secs))
			}
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
