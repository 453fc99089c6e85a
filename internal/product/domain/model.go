package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Product is one offer found by a search job.
type Product struct {
	ID          snowflake.ID  `json:"id" gorm:"primaryKey"`
	OrgID       snowflake.ID  `json:"organization_id" gorm:"column:org_id;not null;index"`
	SearchJobID snowflake.ID  `json:"search_job_id" gorm:"not null;index;uniqueIndex:ux_products_job_url,priority:1"`
	VendorID    *snowflake.ID `json:"vendor_id,omitempty" gorm:"index"`

	Title string  `json:"title" gorm:"type:text;not null"`
	SKU   *string `json:"sku,omitempty" gorm:"type:text"`
	URL   string  `json:"url" gorm:"type:text;not null;uniqueIndex:ux_products_job_url,priority:2"`

	Price              decimal.Decimal  `json:"price" gorm:"type:numeric(20,6);not null"`
	Currency           string           `json:"currency" gorm:"type:text;not null;default:'USD'"`
	OriginalPrice      *decimal.Decimal `json:"original_price,omitempty" gorm:"type:numeric(20,6)"`
	DiscountPercentage *float64         `json:"discount_percentage,omitempty"`

	PriceHistory datatypes.JSONSlice[PricePoint] `json:"price_history" gorm:"type:jsonb"`

	AvailabilityStatus string `json:"availability_status" gorm:"type:text;not null"`
	IsAvailable        bool   `json:"is_available" gorm:"not null;index"`
	StockQuantity      *int   `json:"stock_quantity,omitempty"`

	Brand       *string  `json:"brand,omitempty" gorm:"type:text;index"`
	Category    *string  `json:"category,omitempty" gorm:"type:text"`
	Rating      *float64 `json:"rating,omitempty"`
	ReviewCount *int     `json:"review_count,omitempty"`

	Specs             datatypes.JSONMap `json:"specs" gorm:"type:jsonb"`
	ConfidenceScore   *float64          `json:"confidence_score,omitempty"`
	RawExtractionData datatypes.JSONMap `json:"raw_extraction_data,omitempty" gorm:"type:jsonb"`
	ExtractedAt       *time.Time        `json:"extracted_at,omitempty"`
	ScreenshotURL     *string           `json:"screenshot_url,omitempty" gorm:"type:text"`

	VectorID       *string `json:"vector_id,omitempty" gorm:"type:text;uniqueIndex:ux_products_vector_id"`
	EmbeddingModel *string `json:"embedding_model,omitempty" gorm:"type:text"`

	LastScrapedAt      time.Time `json:"last_scraped_at" gorm:"not null"`
	ScrapeAttemptCount int       `json:"scrape_attempt_count" gorm:"not null;default:1"`
	CreatedAt          time.Time `json:"created_at" gorm:"not null;index"`
	UpdatedAt          time.Time `json:"updated_at" gorm:"not null"`
}

func (Product) TableName() string { return "products" }

// PricePoint is one observed price. History is append-only.
type PricePoint struct {
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// ObservePrice records a newly scraped price. The current price moves to the
// observation and the history grows by one point.
func (p *Product) ObservePrice(price decimal.Decimal, at time.Time) {
	p.PriceHistory = append(p.PriceHistory, PricePoint{Price: price, Timestamp: at})
	p.Price = price
	p.LastScrapedAt = at
	p.UpdatedAt = at
}

// EmbeddingText is the text handed to the embedder for semantic search.
func (p *Product) EmbeddingText() string {
	text := p.Title
	if p.Brand != nil && *p.Brand != "" {
		text = *p.Brand + " " + text
	}
	if p.Category != nil && *p.Category != "" {
		text += " (" + *p.Category + ")"
	}
	return text
}
