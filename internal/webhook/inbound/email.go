// Package inbound decodes inbound vendor email deliveries.
package inbound

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/shopspring/decimal"
)

var ErrMalformed = errors.New("malformed_inbound_email")

// Email is the part of an inbound message the negotiation needs.
type Email struct {
	MessageID string
	// ThreadIDs are candidate thread references, most specific first.
	ThreadIDs  []string
	From       string
	Subject    string
	Text       string
	OfferPrice *decimal.Decimal
	ReceivedAt time.Time
}

// Parse reads a delivery payload. A "raw" (or "raw_base64") RFC 5322
// message is decoded first; structured fields in the payload override
// what the message headers say.
func Parse(payload map[string]any) (*Email, error) {
	out := &Email{}

	raw := str(payload, "raw")
	if enc := str(payload, "raw_base64"); raw == "" && enc != "" {
		b, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return nil, fmt.Errorf("%w: raw_base64: %v", ErrMalformed, err)
		}
		raw = string(b)
	}
	if raw != "" {
		if err := parseMIME(out, strings.NewReader(raw)); err != nil {
			return nil, err
		}
	}

	if v := str(payload, "thread_id"); v != "" {
		out.ThreadIDs = append([]string{v}, out.ThreadIDs...)
	}
	if v := str(payload, "in_reply_to"); v != "" {
		out.ThreadIDs = append(out.ThreadIDs, strings.Trim(v, "<> "))
	}
	if v := str(payload, "message_id"); v != "" {
		out.MessageID = strings.Trim(v, "<> ")
	}
	if v := str(payload, "from"); v != "" {
		out.From = v
	}
	if v := str(payload, "subject"); v != "" {
		out.Subject = v
	}
	if v := str(payload, "text"); v != "" {
		out.Text = StripQuoted(v)
	} else if v := str(payload, "html"); v != "" && out.Text == "" {
		text, err := HTMLText(v)
		if err != nil {
			return nil, fmt.Errorf("%w: html: %v", ErrMalformed, err)
		}
		out.Text = StripQuoted(text)
	}
	if v := str(payload, "received_at"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("%w: received_at: %v", ErrMalformed, err)
		}
		out.ReceivedAt = t.UTC()
	}

	offer, err := offerPrice(payload["offer_price"])
	if err != nil {
		return nil, err
	}
	out.OfferPrice = offer

	out.ThreadIDs = dedupe(out.ThreadIDs)
	if len(out.ThreadIDs) == 0 {
		return nil, fmt.Errorf("%w: no thread reference", ErrMalformed)
	}
	return out, nil
}

func parseMIME(out *Email, r io.Reader) error {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	defer mr.Close()

	h := mr.Header
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		out.From = from[0].Address
	}
	if subject, err := h.Subject(); err == nil {
		out.Subject = subject
	}
	if id, err := h.MessageID(); err == nil {
		out.MessageID = id
	}
	if date, err := h.Date(); err == nil && !date.IsZero() {
		out.ReceivedAt = date.UTC()
	}
	if ids, err := h.MsgIDList("In-Reply-To"); err == nil {
		out.ThreadIDs = append(out.ThreadIDs, ids...)
	}
	if refs, err := h.MsgIDList("References"); err == nil {
		// The last reference is the closest ancestor.
		for i := len(refs) - 1; i >= 0; i-- {
			out.ThreadIDs = append(out.ThreadIDs, refs[i])
		}
	}

	var plain, html string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		inline, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := inline.ContentType()
		b, err := io.ReadAll(p.Body)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		switch {
		case strings.HasPrefix(contentType, "text/plain") && plain == "":
			plain = string(b)
		case strings.HasPrefix(contentType, "text/html") && html == "":
			html = string(b)
		}
	}

	switch {
	case plain != "":
		out.Text = StripQuoted(plain)
	case html != "":
		text, err := HTMLText(html)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		out.Text = StripQuoted(text)
	}
	return nil
}

// HTMLText returns the visible text of an HTML body, one block per line.
func HTMLText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, head").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, tr, li, blockquote").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	var lines []string
	for _, line := range strings.Split(doc.Text(), "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n"), nil
}

// StripQuoted drops the quoted history below a reply.
func StripQuoted(text string) string {
	var kept []string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, ">") {
			continue
		}
		if strings.HasPrefix(trimmed, "On ") && strings.HasSuffix(trimmed, "wrote:") {
			break
		}
		if trimmed == "-----Original Message-----" {
			break
		}
		kept = append(kept, strings.TrimRight(line, " \t"))
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func offerPrice(v any) (*decimal.Decimal, error) {
	var (
		d   decimal.Decimal
		err error
	)
	switch cast := v.(type) {
	case nil:
		return nil, nil
	case string:
		if strings.TrimSpace(cast) == "" {
			return nil, nil
		}
		d, err = decimal.NewFromString(strings.TrimSpace(cast))
	case float64:
		d = decimal.NewFromFloat(cast)
	case json.Number:
		d, err = decimal.NewFromString(cast.String())
	default:
		err = fmt.Errorf("unexpected type %T", v)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: offer_price: %v", ErrMalformed, err)
	}
	return &d, nil
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
