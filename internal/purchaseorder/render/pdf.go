// Package render lays out purchase orders as PDF documents.
package render

import (
	"fmt"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// Document holds display-ready values; amounts are already formatted.
type Document struct {
	PONumber     string
	Status       string
	IssueDate    string
	DeliveryDate string

	BuyerName       string
	DeliveryAddress []string

	VendorName  string
	VendorEmail string

	Items []Item

	Subtotal     string
	Tax          string
	Shipping     string
	Total        string
	Currency     string
	PaymentTerms string
	Notes        string
	ApprovedBy   string
}

type Item struct {
	Description string
	Qty         int
	UnitPrice   string
	Amount      string
}

func PDF(doc Document) ([]byte, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(12,
		text.NewCol(8, "Purchase Order", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, doc.Status, props.Text{
			Size:  10,
			Style: fontstyle.Bold,
			Align: align.Right,
		}),
	)

	m.AddRow(18,
		col.New(6).Add(
			text.New("PO number: "+doc.PONumber, props.Text{Top: 0}),
			text.New("Date of issue: "+doc.IssueDate, props.Text{Top: 4}),
			text.New("Expected delivery: "+orDash(doc.DeliveryDate), props.Text{Top: 8}),
		),
		col.New(6),
	)

	buyer := col.New(6).Add(text.New("Buyer", props.Text{Style: fontstyle.Bold}))
	buyer.Add(text.New(doc.BuyerName, props.Text{Top: 5}))
	for i, line := range doc.DeliveryAddress {
		buyer.Add(text.New(line, props.Text{Top: float64(9 + 4*i)}))
	}
	m.AddRow(35,
		buyer,
		col.New(6).Add(
			text.New("Vendor", props.Text{Style: fontstyle.Bold}),
			text.New(doc.VendorName, props.Text{Top: 5}),
			text.New(doc.VendorEmail, props.Text{Top: 9}),
		),
	)

	m.AddRow(10,
		text.NewCol(6, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Qty", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Unit price", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	for _, item := range doc.Items {
		m.AddRow(12,
			text.NewCol(6, item.Description, props.Text{Size: 9}),
			text.NewCol(2, fmt.Sprintf("%d", item.Qty), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, item.UnitPrice, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, item.Amount, props.Text{Size: 9, Align: align.Right}),
		)
	}

	totals := [][2]string{
		{"Subtotal", doc.Subtotal},
		{"Tax", doc.Tax},
		{"Shipping", doc.Shipping},
	}
	for _, t := range totals {
		m.AddRow(8,
			col.New(8),
			text.NewCol(2, t[0], props.Text{Size: 9}),
			text.NewCol(2, t[1], props.Text{Size: 9, Align: align.Right}),
		)
	}
	m.AddRow(10,
		col.New(8),
		text.NewCol(2, "Total ("+doc.Currency+")", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, doc.Total, props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	if doc.PaymentTerms != "" {
		m.AddRow(8, text.NewCol(12, "Payment terms: "+doc.PaymentTerms, props.Text{Size: 9, Top: 2}))
	}
	if doc.Notes != "" {
		m.AddRow(16, text.NewCol(12, doc.Notes, props.Text{Size: 9, Top: 2}))
	}
	if doc.ApprovedBy != "" {
		m.AddRow(10, text.NewCol(12, "Approved by "+doc.ApprovedBy, props.Text{Size: 9, Style: fontstyle.Italic, Top: 4}))
	}

	out, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return out.GetBytes(), nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
