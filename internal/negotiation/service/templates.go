package service

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/smallbiznis/procura/internal/negotiation/domain"
)

type emailData struct {
	VendorName   string
	ProductTitle string
	Quantity     int
	Currency     string
	ListPrice    string
	TargetPrice  string
	PaymentTerms string
	DeliveryDays int
	FollowUp     int
	Subject      string
}

type emailTemplate struct {
	subject *template.Template
	body    *template.Template
}

var templates = map[string]emailTemplate{
	domain.EmailKindInitialContact: {
		subject: template.Must(template.New("subject").Parse(
			`Bulk purchase inquiry: {{.ProductTitle}}`)),
		body: template.Must(template.New("body").Parse(`Hello{{with .VendorName}} {{.}} team{{end}},

We are looking to purchase {{.Quantity}} units of "{{.ProductTitle}}", currently listed at {{.ListPrice}} {{.Currency}} per unit.

For an order of this size we would like to propose a unit price of {{.TargetPrice}} {{.Currency}}.
{{- with .PaymentTerms}}
Our preferred payment terms are {{.}}.{{end}}
{{- if .DeliveryDays}}
We would need delivery within {{.DeliveryDays}} days.{{end}}

Please let us know whether this works for you, or share your best offer.

Kind regards,
Procurement
`)),
	},
	domain.EmailKindFollowUp: {
		subject: template.Must(template.New("subject").Parse(
			`Re: {{.Subject}}`)),
		body: template.Must(template.New("body").Parse(`Hello{{with .VendorName}} {{.}} team{{end}},

Following up on our request for {{.Quantity}} units of "{{.ProductTitle}}" at {{.TargetPrice}} {{.Currency}} per unit.

We are still interested and would appreciate a reply at your earliest convenience.

Kind regards,
Procurement
`)),
	},
}

func render(kind string, data emailData) (subject string, body string, err error) {
	tmpl, ok := templates[kind]
	if !ok {
		return "", "", fmt.Errorf("unknown email kind %q", kind)
	}
	var buf bytes.Buffer
	if err := tmpl.subject.Execute(&buf, data); err != nil {
		return "", "", err
	}
	subject = buf.String()
	buf.Reset()
	if err := tmpl.body.Execute(&buf, data); err != nil {
		return "", "", err
	}
	return subject, buf.String(), nil
}
