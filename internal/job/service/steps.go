package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/procura/internal/agent"
	"github.com/smallbiznis/procura/internal/entityref"
	"github.com/smallbiznis/procura/internal/job/domain"
	notificationdomain "github.com/smallbiznis/procura/internal/notification/domain"
	productdomain "github.com/smallbiznis/procura/internal/product/domain"
	supplierdomain "github.com/smallbiznis/procura/internal/supplier/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// stepOutcome is a capability result waiting to be committed. apply runs in
// the commit transaction with the job row locked.
type stepOutcome struct {
	cost            decimal.Decimal
	vendorsSearched int
	metadata        map[string]any
	apply           func(ctx context.Context, tx *gorm.DB, job *domain.SearchJob, now time.Time) error
	notices         []notificationdomain.Message
}

// persistError marks a failure writing a step's result, as opposed to the
// capability call itself failing.
type persistError struct {
	err error
}

func (e *persistError) Error() string { return "persist step result: " + e.err.Error() }

func (e *persistError) Unwrap() error { return e.err }

func (e *persistError) classify(step domain.Step) error {
	if errors.Is(e.err, productdomain.ErrDuplicateVector) {
		return agent.Fatal(string(step.Kind), e.err)
	}
	return agent.Retryable(string(step.Kind), e.err)
}

func (s *Service) runStep(ctx context.Context, job *domain.SearchJob, step domain.Step) (*stepOutcome, error) {
	switch step.Kind {
	case domain.StepScrape:
		return s.scrape(ctx, job, step)
	case domain.StepExtract:
		return s.extract(ctx, job)
	case domain.StepEmbed:
		return s.embed(ctx, job)
	default:
		return nil, agent.Fatal("plan", fmt.Errorf("unknown step kind %q", step.Kind))
	}
}

func (s *Service) scrape(ctx context.Context, job *domain.SearchJob, step domain.Step) (*stepOutcome, error) {
	settings, err := s.orgRepo.FindSettings(ctx, job.OrgID)
	if err != nil {
		return nil, agent.Retryable(agent.CapabilityScrape, err)
	}

	vendor, err := s.vendors.Get(ctx, step.VendorID)
	if errors.Is(err, supplierdomain.ErrNotFound) || (err == nil && !vendor.IsActive) {
		return &stepOutcome{metadata: map[string]any{"vendor": step.VendorName, "skipped": "vendor_unavailable"}}, nil
	}
	if err != nil {
		return nil, agent.Retryable(agent.CapabilityScrape, err)
	}

	remaining := settings.MaxProductsPerSearch - job.ProductsFoundCount
	if remaining <= 0 {
		return &stepOutcome{metadata: map[string]any{"vendor": vendor.Name, "skipped": "product_limit_reached"}}, nil
	}

	query := job.QueryText
	if job.RefinedQuery != nil && *job.RefinedQuery != "" {
		query = *job.RefinedQuery
	}
	timeout := time.Duration(settings.DefaultScrapingTimeoutSeconds) * time.Second
	res, err := agent.Invoke(ctx, agent.CapabilityScrape, timeout, func(ctx context.Context) (*agent.ScrapeResult, error) {
		return s.scraper.Scrape(ctx, *vendor, agent.ScrapeQuery{
			Query:   query,
			Filters: job.Filters,
			Limit:   remaining,
		})
	})
	if err != nil {
		return nil, err
	}

	candidates := res.Candidates
	if len(candidates) > remaining {
		candidates = candidates[:remaining]
	}
	out := &stepOutcome{
		cost:            res.Usage.CostUSD,
		vendorsSearched: 1,
		metadata: map[string]any{
			"vendor":     vendor.Name,
			"candidates": len(candidates),
		},
	}
	vendorID := vendor.ID
	out.apply = func(ctx context.Context, tx *gorm.DB, job *domain.SearchJob, now time.Time) error {
		added := 0
		for _, c := range candidates {
			url := strings.TrimSpace(c.URL)
			if url == "" || strings.TrimSpace(c.Title) == "" {
				continue
			}
			existing, err := s.products.FindByJobURL(ctx, tx, job.ID, url)
			if err != nil {
				return err
			}
			if existing != nil {
				previous := existing.Price
				existing.ObservePrice(c.Price, now)
				existing.ScrapeAttemptCount++
				existing.AvailabilityStatus = c.AvailabilityStatus
				existing.IsAvailable = c.IsAvailable
				if err := s.products.Update(ctx, tx, existing); err != nil {
					return err
				}
				if c.Price.LessThan(previous) {
					out.notices = append(out.notices, priceDropNotice(job, existing, previous))
				}
				continue
			}

			product := newProduct(s.genID.Generate(), job, vendorID, c, url, now)
			if err := s.products.Create(ctx, tx, product); err != nil {
				return err
			}
			added++
		}
		job.ProductsFoundCount += added
		out.metadata["products_added"] = added
		return nil
	}
	return out, nil
}

func newProduct(id snowflake.ID, job *domain.SearchJob, vendorID snowflake.ID, c agent.ProductCandidate, url string, now time.Time) *productdomain.Product {
	currency := c.Currency
	if currency == "" {
		currency = "USD"
	}
	status := c.AvailabilityStatus
	if status == "" {
		status = "unknown"
	}
	p := &productdomain.Product{
		ID:                 id,
		OrgID:              job.OrgID,
		SearchJobID:        job.ID,
		VendorID:           &vendorID,
		Title:              strings.TrimSpace(c.Title),
		SKU:                c.SKU,
		URL:                url,
		Price:              c.Price,
		Currency:           currency,
		OriginalPrice:      c.OriginalPrice,
		PriceHistory:       datatypes.JSONSlice[productdomain.PricePoint]{{Price: c.Price, Timestamp: now}},
		AvailabilityStatus: status,
		IsAvailable:        c.IsAvailable,
		ScreenshotURL:      c.ScreenshotURL,
		LastScrapedAt:      now,
		ScrapeAttemptCount: 1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if c.OriginalPrice != nil && c.OriginalPrice.GreaterThan(c.Price) && c.OriginalPrice.IsPositive() {
		pct := c.OriginalPrice.Sub(c.Price).Div(*c.OriginalPrice).Mul(decimal.NewFromInt(100)).Round(2).InexactFloat64()
		p.DiscountPercentage = &pct
	}
	return p
}

func priceDropNotice(job *domain.SearchJob, p *productdomain.Product, previous decimal.Decimal) notificationdomain.Message {
	return notificationdomain.Message{
		OrgID:   job.OrgID,
		UserID:  job.UserID,
		Type:    notificationdomain.TypePriceDropAlert,
		Title:   "Price drop",
		Message: fmt.Sprintf("%s dropped from %s to %s %s.", p.Title, previous.StringFixed(2), p.Price.StringFixed(2), p.Currency),
		Link:    p.URL,
		Related: entityref.New(entityref.KindProduct, p.ID),
	}
}

func (s *Service) extract(ctx context.Context, job *domain.SearchJob) (*stepOutcome, error) {
	products, err := s.products.ListByJob(ctx, s.db, job.ID)
	if err != nil {
		return nil, agent.Retryable(agent.CapabilityExtract, err)
	}

	timeout := s.workflow.Get().CapabilityTimeout
	results := make(map[snowflake.ID]agent.ProductFields)
	cost := decimal.Zero
	for _, p := range products {
		if p.ExtractedAt != nil || p.ScreenshotURL == nil {
			continue
		}
		screenshot := *p.ScreenshotURL
		res, err := agent.Invoke(ctx, agent.CapabilityExtract, timeout, func(ctx context.Context) (*agent.ExtractResult, error) {
			return s.extractor.Extract(ctx, screenshot)
		})
		if err != nil {
			return nil, err
		}
		results[p.ID] = res.Fields
		cost = cost.Add(res.Usage.CostUSD)
	}

	out := &stepOutcome{cost: cost, metadata: map[string]any{"extracted": len(results)}}
	out.apply = func(ctx context.Context, tx *gorm.DB, _ *domain.SearchJob, now time.Time) error {
		for id, fields := range results {
			p, err := s.products.FindByID(ctx, tx, id)
			if err != nil {
				return err
			}
			p.Brand = fields.Brand
			p.Category = fields.Category
			p.Rating = fields.Rating
			p.ReviewCount = fields.ReviewCount
			if fields.StockQuantity != nil {
				p.StockQuantity = fields.StockQuantity
			}
			p.ConfidenceScore = fields.Confidence
			p.Specs = datatypes.JSONMap(fields.Specs)
			p.RawExtractionData = datatypes.JSONMap(fields.Raw)
			p.ExtractedAt = &now
			p.UpdatedAt = now
			if err := s.products.Update(ctx, tx, p); err != nil {
				return err
			}
		}
		return nil
	}
	return out, nil
}

func (s *Service) embed(ctx context.Context, job *domain.SearchJob) (*stepOutcome, error) {
	products, err := s.products.ListByJob(ctx, s.db, job.ID)
	if err != nil {
		return nil, agent.Retryable(agent.CapabilityEmbed, err)
	}

	timeout := s.workflow.Get().CapabilityTimeout
	vectors := make(map[snowflake.ID]*agent.Embedding)
	cost := decimal.Zero
	for _, p := range products {
		if p.VectorID != nil {
			continue
		}
		text := p.EmbeddingText()
		res, err := agent.Invoke(ctx, agent.CapabilityEmbed, timeout, func(ctx context.Context) (*agent.Embedding, error) {
			return s.embedder.Embed(ctx, text)
		})
		if err != nil {
			return nil, err
		}
		vectors[p.ID] = res
		cost = cost.Add(res.Usage.CostUSD)
	}

	out := &stepOutcome{cost: cost, metadata: map[string]any{"embedded": len(vectors)}}
	out.apply = func(ctx context.Context, tx *gorm.DB, _ *domain.SearchJob, _ time.Time) error {
		for id, v := range vectors {
			if err := s.products.SetVector(ctx, tx, id, v.VectorID, v.Model); err != nil {
				return err
			}
		}
		return nil
	}
	return out, nil
}
