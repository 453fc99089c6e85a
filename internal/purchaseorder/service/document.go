package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/procura/internal/purchaseorder/render"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

func (s *Service) Render(ctx context.Context, id snowflake.ID) ([]byte, error) {
	po, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	n, err := s.negotiations.FindByID(ctx, po.NegotiationID)
	if err != nil {
		return nil, err
	}

	doc := render.Document{
		PONumber:        po.PONumber,
		Status:          string(po.Status()),
		IssueDate:       po.CreatedAt.Format(dateLayout),
		DeliveryAddress: addressLines(po.DeliveryAddress),
		Subtotal:        po.Subtotal.StringFixed(2),
		Tax:             po.TaxAmount.StringFixed(2),
		Shipping:        po.ShippingCost.StringFixed(2),
		Total:           po.TotalAmount.StringFixed(2),
		Currency:        po.Currency,
		VendorEmail:     n.VendorContactEmail,
	}
	if po.ExpectedDeliveryDate != nil {
		doc.DeliveryDate = po.ExpectedDeliveryDate.Format(dateLayout)
	}
	if po.PaymentTerms != nil {
		doc.PaymentTerms = *po.PaymentTerms
	}
	if po.Notes != nil {
		doc.Notes = *po.Notes
	}
	if po.ApprovedBy != nil && po.ApprovedAt != nil {
		doc.ApprovedBy = fmt.Sprintf("user %s on %s", po.ApprovedBy, po.ApprovedAt.Format(dateLayout))
	}

	// Display names are best effort; the order renders without them.
	if org, err := s.orgRepo.FindByID(ctx, po.OrgID); err == nil {
		doc.BuyerName = org.Name
	} else {
		s.log.Warn("render without organization name", zap.String("po_number", po.PONumber), zap.Error(err))
	}
	if po.VendorID != nil {
		if v, err := s.vendors.Get(ctx, *po.VendorID); err == nil {
			doc.VendorName = v.Name
		}
	}
	description := "Negotiated item"
	if p, err := s.products.FindByID(ctx, s.db, n.ProductID); err == nil {
		description = p.Title
	}
	doc.Items = []render.Item{{
		Description: description,
		Qty:         po.Quantity,
		UnitPrice:   po.UnitPrice.StringFixed(2),
		Amount:      po.Subtotal.StringFixed(2),
	}}

	return render.PDF(doc)
}

// addressLines orders the address map by its conventional keys, followed
// by any others alphabetically.
func addressLines(addr map[string]any) []string {
	if len(addr) == 0 {
		return nil
	}
	known := []string{"name", "line1", "line2", "city", "state", "postal_code", "country"}
	seen := make(map[string]bool, len(addr))
	var lines []string
	for _, k := range known {
		if v, ok := addr[k]; ok {
			seen[k] = true
			lines = append(lines, fmt.Sprint(v))
		}
	}
	var rest []string
	for k := range addr {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		lines = append(lines, fmt.Sprint(addr[k]))
	}
	return lines
}
