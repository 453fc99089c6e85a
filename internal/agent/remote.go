package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	obstracing "github.com/smallbiznis/procura/internal/observability/tracing"
	supplierdomain "github.com/smallbiznis/procura/internal/supplier/domain"
)

// CredentialRuntimeToken names the bearer token used against the runtime.
const CredentialRuntimeToken = "agent_runtime_token"

// Remote forwards capability calls to an external agent runtime over HTTP.
// The runtime owns the browsers and models; this client only moves requests
// and classifies the responses.
type Remote struct {
	baseURL string
	creds   CredentialSource
	client  *http.Client
}

func NewRemote(baseURL string, creds CredentialSource, timeout time.Duration) *Remote {
	return &Remote{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		creds:   creds,
		client:  obstracing.WrapHTTPClient(&http.Client{Timeout: timeout}),
	}
}

type remoteUsage struct {
	CostUSD decimal.Decimal `json:"cost_usd"`
	Tokens  int             `json:"tokens"`
}

func (u remoteUsage) usage() Usage {
	return Usage{CostUSD: u.CostUSD, Tokens: u.Tokens}
}

type remoteError struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		Retryable *bool  `json:"retryable"`
	} `json:"error"`
}

type scrapeRequest struct {
	VendorID      string         `json:"vendor_id"`
	VendorDomain  string         `json:"vendor_domain"`
	ScraperConfig map[string]any `json:"scraper_config,omitempty"`
	Query         string         `json:"query"`
	Filters       map[string]any `json:"filters,omitempty"`
	Limit         int            `json:"limit"`
}

type scrapeResponse struct {
	Candidates []struct {
		Title              string           `json:"title"`
		URL                string           `json:"url"`
		SKU                *string          `json:"sku"`
		Price              decimal.Decimal  `json:"price"`
		Currency           string           `json:"currency"`
		OriginalPrice      *decimal.Decimal `json:"original_price"`
		AvailabilityStatus string           `json:"availability_status"`
		IsAvailable        bool             `json:"is_available"`
		ScreenshotURL      *string          `json:"screenshot_url"`
	} `json:"candidates"`
	Usage remoteUsage `json:"usage"`
}

func (r *Remote) Scrape(ctx context.Context, vendor supplierdomain.Vendor, query ScrapeQuery) (*ScrapeResult, error) {
	var resp scrapeResponse
	err := r.do(ctx, CapabilityScrape, scrapeRequest{
		VendorID:      vendor.ID.String(),
		VendorDomain:  vendor.Domain,
		ScraperConfig: vendor.ScraperConfig,
		Query:         query.Query,
		Filters:       query.Filters,
		Limit:         query.Limit,
	}, &resp)
	if err != nil {
		return nil, err
	}

	out := &ScrapeResult{Usage: resp.Usage.usage()}
	for _, c := range resp.Candidates {
		out.Candidates = append(out.Candidates, ProductCandidate{
			Title:              c.Title,
			URL:                c.URL,
			SKU:                c.SKU,
			Price:              c.Price,
			Currency:           c.Currency,
			OriginalPrice:      c.OriginalPrice,
			AvailabilityStatus: c.AvailabilityStatus,
			IsAvailable:        c.IsAvailable,
			ScreenshotURL:      c.ScreenshotURL,
		})
	}
	return out, nil
}

type extractResponse struct {
	Brand         *string        `json:"brand"`
	Category      *string        `json:"category"`
	Rating        *float64       `json:"rating"`
	ReviewCount   *int           `json:"review_count"`
	StockQuantity *int           `json:"stock_quantity"`
	Confidence    *float64       `json:"confidence"`
	Specs         map[string]any `json:"specs"`
	Raw           map[string]any `json:"raw"`
	Usage         remoteUsage    `json:"usage"`
}

func (r *Remote) Extract(ctx context.Context, screenshotURL string) (*ExtractResult, error) {
	var resp extractResponse
	if err := r.do(ctx, CapabilityExtract, map[string]string{"screenshot_url": screenshotURL}, &resp); err != nil {
		return nil, err
	}
	return &ExtractResult{
		Fields: ProductFields{
			Brand:         resp.Brand,
			Category:      resp.Category,
			Rating:        resp.Rating,
			ReviewCount:   resp.ReviewCount,
			StockQuantity: resp.StockQuantity,
			Confidence:    resp.Confidence,
			Specs:         resp.Specs,
			Raw:           resp.Raw,
		},
		Usage: resp.Usage.usage(),
	}, nil
}

type embedResponse struct {
	VectorID string      `json:"vector_id"`
	Model    string      `json:"model"`
	Usage    remoteUsage `json:"usage"`
}

func (r *Remote) Embed(ctx context.Context, text string) (*Embedding, error) {
	var resp embedResponse
	if err := r.do(ctx, CapabilityEmbed, map[string]string{"text": text}, &resp); err != nil {
		return nil, err
	}
	if resp.VectorID == "" {
		return nil, Fatal(CapabilityEmbed, errors.New("empty vector id"))
	}
	return &Embedding{VectorID: resp.VectorID, Model: resp.Model, Usage: resp.Usage.usage()}, nil
}

type emailResponse struct {
	ThreadID  string `json:"thread_id"`
	MessageID string `json:"message_id"`
}

func (r *Remote) SendEmail(ctx context.Context, email Email) (*SendResult, error) {
	var resp emailResponse
	err := r.do(ctx, CapabilityEmail, map[string]string{
		"to":        email.To,
		"subject":   email.Subject,
		"body":      email.Body,
		"thread_id": email.ThreadID,
		"kind":      email.Kind,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.ThreadID == "" {
		resp.ThreadID = email.ThreadID
	}
	return &SendResult{ThreadID: resp.ThreadID, MessageID: resp.MessageID}, nil
}

func (r *Remote) do(ctx context.Context, capability string, in any, out any) error {
	if r.baseURL == "" {
		return Fatal(capability, errNotConfigured)
	}
	token, err := r.creds.Credential(ctx, snowflake.ID(0), CredentialRuntimeToken)
	if err != nil {
		return Fatal(capability, err)
	}

	body, err := json.Marshal(in)
	if err != nil {
		return Fatal(capability, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/"+capability, bytes.NewReader(body))
	if err != nil {
		return Fatal(capability, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return Retryable(capability, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return classifyStatus(capability, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return Fatal(capability, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func classifyStatus(capability string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload remoteError
	message := fmt.Sprintf("agent runtime returned %d", resp.StatusCode)
	retryable := resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode == http.StatusRequestTimeout ||
		resp.StatusCode >= http.StatusInternalServerError
	if err := json.Unmarshal(raw, &payload); err == nil {
		if m := strings.TrimSpace(payload.Error.Message); m != "" {
			message = m
		}
		if payload.Error.Retryable != nil {
			retryable = *payload.Error.Retryable
		}
	}
	err := errors.New(message)
	if retryable {
		return Retryable(capability, err)
	}
	return Fatal(capability, err)
}
