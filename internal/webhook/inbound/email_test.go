package inbound

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const multipartReply = "From: Acme Sales <sales@acme.example>\r\n" +
	"To: buyer@northwind.example\r\n" +
	"Subject: Re: Bulk purchase inquiry: Standing desk\r\n" +
	"Date: Mon, 02 Jun 2025 10:30:00 +0000\r\n" +
	"Message-Id: <reply-1@acme.example>\r\n" +
	"In-Reply-To: <thread-1@procura.example>\r\n" +
	"References: <root@procura.example> <thread-1@procura.example>\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=\"b1\"\r\n" +
	"\r\n" +
	"--b1\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"We can do 450 per unit.\r\n" +
	"\r\n" +
	"On Mon, Jun 2, 2025 at 9:00 AM Procurement wrote:\r\n" +
	"> Hello Acme team,\r\n" +
	"--b1\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>We can do <b>450</b> per unit.</p>\r\n" +
	"--b1--\r\n"

func TestParseMIME(t *testing.T) {
	email, err := Parse(map[string]any{"raw": multipartReply, "offer_price": "450"})
	require.NoError(t, err)

	assert.Equal(t, "sales@acme.example", email.From)
	assert.Equal(t, "Re: Bulk purchase inquiry: Standing desk", email.Subject)
	assert.Equal(t, "reply-1@acme.example", email.MessageID)
	assert.Equal(t, []string{"thread-1@procura.example", "root@procura.example"}, email.ThreadIDs)
	assert.Equal(t, "We can do 450 per unit.", email.Text)
	assert.True(t, time.Date(2025, 6, 2, 10, 30, 0, 0, time.UTC).Equal(email.ReceivedAt), email.ReceivedAt.String())
	require.NotNil(t, email.OfferPrice)
	assert.True(t, email.OfferPrice.Equal(decimal.NewFromInt(450)))
}

func TestParseBase64AndStructuredOverrides(t *testing.T) {
	email, err := Parse(map[string]any{
		"raw_base64":  base64.StdEncoding.EncodeToString([]byte(multipartReply)),
		"thread_id":   "gmail-thread-9",
		"offer_price": 449.5,
	})
	require.NoError(t, err)
	assert.Equal(t, "gmail-thread-9", email.ThreadIDs[0])
	assert.Contains(t, email.ThreadIDs, "thread-1@procura.example")
	assert.True(t, email.OfferPrice.Equal(decimal.RequireFromString("449.5")))
}

func TestParseStructuredHTML(t *testing.T) {
	email, err := Parse(map[string]any{
		"thread_id": "t-1",
		"from":      "sales@acme.example",
		"html":      "<html><head><style>p{}</style></head><body><div>Best we can do:</div><div>460 USD</div></body></html>",
	})
	require.NoError(t, err)
	assert.Equal(t, "Best we can do:\n460 USD", email.Text)
	assert.Nil(t, email.OfferPrice)
}

func TestParseRejectsMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
	}{
		{name: "no thread", payload: map[string]any{"text": "hello"}},
		{name: "bad base64", payload: map[string]any{"raw_base64": "%%%", "thread_id": "t"}},
		{name: "bad offer", payload: map[string]any{"thread_id": "t", "offer_price": "cheap"}},
		{name: "offer type", payload: map[string]any{"thread_id": "t", "offer_price": true}},
		{name: "bad received_at", payload: map[string]any{"thread_id": "t", "received_at": "yesterday"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.payload)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestStripQuoted(t *testing.T) {
	in := strings.Join([]string{
		"Thanks, confirmed.",
		"> quoted line",
		"Regards",
		"-----Original Message-----",
		"old content",
	}, "\r\n")
	assert.Equal(t, "Thanks, confirmed.\nRegards", StripQuoted(in))
}
