package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Vendor, error)
	Get(ctx context.Context, id snowflake.ID) (*Vendor, error)
	List(ctx context.Context, req ListRequest) ([]Vendor, error)
	SetActive(ctx context.Context, id snowflake.ID, active bool) error
	// Eligible returns the vendors an organization's search may scrape.
	Eligible(ctx context.Context, orgID snowflake.ID) ([]Vendor, error)
}

type CreateRequest struct {
	Name             string         `json:"name"`
	Domain           string         `json:"domain"`
	ContactEmail     *string        `json:"contact_email"`
	ProcurementEmail *string        `json:"procurement_email"`
	ScrapingEnabled  *bool          `json:"scraping_enabled"`
	ScraperConfig    map[string]any `json:"scraper_config"`
}

type ListRequest struct {
	Active          *bool
	ScrapingEnabled *bool
}

var (
	ErrNotFound      = errors.New("vendor_not_found")
	ErrInvalidName   = errors.New("invalid_name")
	ErrInvalidDomain = errors.New("invalid_domain")
)
