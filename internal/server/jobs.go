package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	jobdomain "github.com/smallbiznis/procura/internal/job/domain"
)

type submitJobRequest struct {
	Query            string          `json:"query" binding:"required,max=2000"`
	Filters          map[string]any  `json:"filters"`
	Priority         int             `json:"priority" binding:"omitempty,min=1,max=10"`
	MaxRetries       *int            `json:"max_retries" binding:"omitempty,min=0,max=10"`
	EstimatedCostUSD decimal.Decimal `json:"estimated_cost_usd"`
}

type listJobsQuery struct {
	Status string `form:"status"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=200"`
}

func (s *Server) SubmitJob(c *gin.Context) {
	var req submitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	orgID, userID := actorFromContext(c)
	job, err := s.jobSvc.Submit(c.Request.Context(), jobdomain.SubmitRequest{
		OrgID:            orgID,
		UserID:           userID,
		Query:            req.Query,
		Filters:          req.Filters,
		Priority:         req.Priority,
		MaxRetries:       req.MaxRetries,
		EstimatedCostUSD: req.EstimatedCostUSD,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"data": job})
}

func (s *Server) ListJobs(c *gin.Context) {
	var query listJobsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	orgID, _ := actorFromContext(c)
	jobs, err := s.jobSvc.List(c.Request.Context(), jobdomain.ListFilter{
		OrgID:  orgID,
		Status: jobdomain.Status(strings.TrimSpace(query.Status)),
		Limit:  query.Limit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": jobs})
}

func (s *Server) loadJob(c *gin.Context) (*jobdomain.SearchJob, bool) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return nil, false
	}
	job, err := s.jobSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return nil, false
	}
	if err := sameOrg(c, job.OrgID); err != nil {
		AbortWithError(c, err)
		return nil, false
	}
	return job, true
}

func (s *Server) GetJob(c *gin.Context) {
	job, ok := s.loadJob(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": job})
}

func (s *Server) GetJobProgress(c *gin.Context) {
	job, ok := s.loadJob(c)
	if !ok {
		return
	}
	afterStep, err := parseOptionalInt(c.Query("after_step"))
	if err != nil {
		AbortWithError(c, newValidationError("after_step", "invalid_after_step", "invalid after_step"))
		return
	}
	after := 0
	if afterStep != nil {
		after = *afterStep
	}

	progress, err := s.jobSvc.Progress(c.Request.Context(), job.ID, after)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": progress})
}

func (s *Server) ListJobProducts(c *gin.Context) {
	job, ok := s.loadJob(c)
	if !ok {
		return
	}
	products, err := s.productSvc.ListByJob(c.Request.Context(), job.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": products})
}

func (s *Server) CancelJob(c *gin.Context) {
	job, ok := s.loadJob(c)
	if !ok {
		return
	}
	_, userID := actorFromContext(c)
	canceled, err := s.jobSvc.Cancel(c.Request.Context(), job.ID, &userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": canceled})
}
