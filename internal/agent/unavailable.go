package agent

import (
	"context"
	"errors"

	supplierdomain "github.com/smallbiznis/procura/internal/supplier/domain"
)

var errNotConfigured = errors.New("capability_not_configured")

// Unavailable is the capability set used when no agent runtime is
// configured. Every call fails fatally so work fails fast instead of
// retrying forever.
type Unavailable struct{}

func (Unavailable) Scrape(context.Context, supplierdomain.Vendor, ScrapeQuery) (*ScrapeResult, error) {
	return nil, Fatal(CapabilityScrape, errNotConfigured)
}

func (Unavailable) Extract(context.Context, string) (*ExtractResult, error) {
	return nil, Fatal(CapabilityExtract, errNotConfigured)
}

func (Unavailable) Embed(context.Context, string) (*Embedding, error) {
	return nil, Fatal(CapabilityEmbed, errNotConfigured)
}

func (Unavailable) SendEmail(context.Context, Email) (*SendResult, error) {
	return nil, Fatal(CapabilityEmail, errNotConfigured)
}
