package render

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPDF(t *testing.T) {
	out, err := PDF(Document{
		PONumber:        "PO-2025-0001",
		Status:          "draft",
		IssueDate:       "2025-06-02",
		BuyerName:       "Northwind",
		DeliveryAddress: []string{"1 Main St", "Springfield"},
		VendorName:      "Acme",
		VendorEmail:     "sales@acme.example",
		Items: []Item{
			{Description: "Standing desk", Qty: 25, UnitPrice: "450.00", Amount: "11250.00"},
		},
		Subtotal: "11250.00",
		Tax:      "0.00",
		Shipping: "0.00",
		Total:    "11250.00",
		Currency: "USD",
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}
