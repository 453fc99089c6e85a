package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Vendor is a shop the scraping and negotiation agents talk to. Vendors are
// shared reference data across organizations.
type Vendor struct {
	ID                       snowflake.ID      `json:"id" gorm:"primaryKey"`
	Name                     string            `json:"name" gorm:"type:text;not null"`
	Slug                     string            `json:"slug" gorm:"type:text;not null;uniqueIndex:ux_vendors_slug"`
	Domain                   string            `json:"domain" gorm:"type:text;not null"`
	LogoURL                  *string           `json:"logo_url,omitempty" gorm:"type:text"`
	ContactEmail             *string           `json:"contact_email,omitempty" gorm:"type:text"`
	SupportEmail             *string           `json:"support_email,omitempty" gorm:"type:text"`
	ProcurementEmail         *string           `json:"procurement_email,omitempty" gorm:"type:text"`
	IsActive                 bool              `json:"is_active" gorm:"not null"`
	ScrapingEnabled          bool              `json:"scraping_enabled" gorm:"not null"`
	AverageResponseTimeHours *int              `json:"average_response_time_hours,omitempty"`
	ScraperConfig            datatypes.JSONMap `json:"scraper_config" gorm:"type:jsonb"`
	CreatedAt                time.Time         `json:"created_at" gorm:"not null"`
	UpdatedAt                time.Time         `json:"updated_at" gorm:"not null"`
}

func (Vendor) TableName() string { return "vendors" }

// NegotiationEmail picks the address used for price negotiations, preferring
// the B2B procurement contact.
func (v Vendor) NegotiationEmail() string {
	for _, addr := range []*string{v.ProcurementEmail, v.ContactEmail, v.SupportEmail} {
		if addr != nil && *addr != "" {
			return *addr
		}
	}
	return ""
}
