package service

import (
	"testing"

	"github.com/smallbiznis/procura/internal/negotiation/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderInitialContact(t *testing.T) {
	subject, body, err := render(domain.EmailKindInitialContact, emailData{
		VendorName:   "Acme",
		ProductTitle: "Standing desk",
		Quantity:     25,
		Currency:     "USD",
		ListPrice:    "500.00",
		TargetPrice:  "420.00",
		PaymentTerms: "Net 30",
		DeliveryDays: 14,
	})
	require.NoError(t, err)
	assert.Equal(t, "Bulk purchase inquiry: Standing desk", subject)
	assert.Contains(t, body, "Hello Acme team,")
	assert.Contains(t, body, "25 units")
	assert.Contains(t, body, "420.00 USD")
	assert.Contains(t, body, "Net 30")
	assert.Contains(t, body, "within 14 days")
}

func TestRenderFollowUpOmitsOptionalLines(t *testing.T) {
	subject, body, err := render(domain.EmailKindFollowUp, emailData{
		ProductTitle: "Standing desk",
		Quantity:     2,
		Currency:     "EUR",
		TargetPrice:  "99.00",
		Subject:      "Bulk purchase inquiry: Standing desk",
	})
	require.NoError(t, err)
	assert.Equal(t, "Re: Bulk purchase inquiry: Standing desk", subject)
	assert.Contains(t, body, "Hello,")
	assert.NotContains(t, body, "team")

	_, _, err = render("unknown", emailData{})
	assert.Error(t, err)
}
