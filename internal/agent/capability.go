// Package agent defines the pluggable capabilities the workflow engine calls
// out to: scraping, extraction, embedding and email delivery.
package agent

import (
	"context"

	"github.com/shopspring/decimal"
	supplierdomain "github.com/smallbiznis/procura/internal/supplier/domain"
)

// Capability names, also used as metric labels.
const (
	CapabilityScrape  = "scrape"
	CapabilityExtract = "extract"
	CapabilityEmbed   = "embed"
	CapabilityEmail   = "email"
)

// Usage is what a capability call cost.
type Usage struct {
	CostUSD decimal.Decimal
	Tokens  int
}

type ScrapeQuery struct {
	Query   string
	Filters map[string]any
	Limit   int
}

type ProductCandidate struct {
	Title              string
	URL                string
	SKU                *string
	Price              decimal.Decimal
	Currency           string
	OriginalPrice      *decimal.Decimal
	AvailabilityStatus string
	IsAvailable        bool
	ScreenshotURL      *string
}

type ScrapeResult struct {
	Candidates []ProductCandidate
	Usage      Usage
}

// ProductFields is the structured data read off a product screenshot. Specs
// and Raw are open payloads; only the extractor knows their shape.
type ProductFields struct {
	Brand         *string
	Category      *string
	Rating        *float64
	ReviewCount   *int
	StockQuantity *int
	Confidence    *float64
	Specs         map[string]any
	Raw           map[string]any
}

type ExtractResult struct {
	Fields ProductFields
	Usage  Usage
}

type Embedding struct {
	VectorID string
	Model    string
	Usage    Usage
}

type Email struct {
	To       string
	Subject  string
	Body     string
	ThreadID string
	Kind     string
}

type SendResult struct {
	ThreadID  string
	MessageID string
}

type Scraper interface {
	Scrape(ctx context.Context, vendor supplierdomain.Vendor, query ScrapeQuery) (*ScrapeResult, error)
}

type Extractor interface {
	Extract(ctx context.Context, screenshotURL string) (*ExtractResult, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) (*Embedding, error)
}

type EmailSender interface {
	SendEmail(ctx context.Context, email Email) (*SendResult, error)
}
