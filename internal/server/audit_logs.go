package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/procura/internal/audit/domain"
	"github.com/smallbiznis/procura/internal/entityref"
)

type listAuditLogsQuery struct {
	Action   string `form:"action"`
	Target   string `form:"target"`
	Before   string `form:"before"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=250"`
}

func (s *Server) ListAuditLogs(c *gin.Context) {
	var query listAuditLogsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	req := auditdomain.ListRequest{
		Action: strings.TrimSpace(query.Action),
		Limit:  query.PageSize,
	}
	if target := strings.TrimSpace(query.Target); target != "" {
		ref, err := entityref.Parse(target)
		if err != nil {
			AbortWithError(c, newValidationError("target", "invalid_target", "invalid target"))
			return
		}
		req.Target = ref
	}
	before, err := parseOptionalSnowflakeID(query.Before)
	if err != nil {
		AbortWithError(c, newValidationError("before", "invalid_before", "invalid before"))
		return
	}
	if before != nil {
		req.Before = *before
	}

	orgID, _ := actorFromContext(c)
	logs, err := s.auditSvc.List(c.Request.Context(), orgID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var next string
	if len(logs) > 0 && req.Limit > 0 && len(logs) == req.Limit {
		next = logs[len(logs)-1].ID.String()
	}
	c.JSON(http.StatusOK, gin.H{"data": logs, "next_before": next})
}
