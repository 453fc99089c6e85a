package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	supplierdomain "github.com/smallbiznis/procura/internal/supplier/domain"
)

type createVendorRequest struct {
	Name             string         `json:"name" binding:"required,max=255"`
	Domain           string         `json:"domain" binding:"required,max=255"`
	ContactEmail     *string        `json:"contact_email" binding:"omitempty,email"`
	ProcurementEmail *string        `json:"procurement_email" binding:"omitempty,email"`
	ScrapingEnabled  *bool          `json:"scraping_enabled"`
	ScraperConfig    map[string]any `json:"scraper_config"`
}

type listVendorsQuery struct {
	Active          string `form:"active"`
	ScrapingEnabled string `form:"scraping_enabled"`
}

func (s *Server) CreateVendor(c *gin.Context) {
	var req createVendorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}
	vendor, err := s.vendorSvc.Create(c.Request.Context(), supplierdomain.CreateRequest{
		Name:             req.Name,
		Domain:           req.Domain,
		ContactEmail:     req.ContactEmail,
		ProcurementEmail: req.ProcurementEmail,
		ScrapingEnabled:  req.ScrapingEnabled,
		ScraperConfig:    req.ScraperConfig,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": vendor})
}

func (s *Server) ListVendors(c *gin.Context) {
	var query listVendorsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}
	active, err := parseOptionalBool(query.Active)
	if err != nil {
		AbortWithError(c, newValidationError("active", "invalid_active", "invalid active"))
		return
	}
	scraping, err := parseOptionalBool(query.ScrapingEnabled)
	if err != nil {
		AbortWithError(c, newValidationError("scraping_enabled", "invalid_scraping_enabled", "invalid scraping_enabled"))
		return
	}

	vendors, err := s.vendorSvc.List(c.Request.Context(), supplierdomain.ListRequest{
		Active:          active,
		ScrapingEnabled: scraping,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": vendors})
}
