// Package entityref models references to workflow entities as a closed
// tagged union instead of free-form type/id string pairs.
package entityref

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
)

type Kind string

const (
	KindSearchJob     Kind = "search_job"
	KindProduct       Kind = "product"
	KindNegotiation   Kind = "negotiation"
	KindPurchaseOrder Kind = "purchase_order"
	KindWebhookEvent  Kind = "webhook_event"
	KindOrganization  Kind = "organization"
)

// kinds is the lookup table for every referencable entity and its table.
var kinds = map[Kind]string{
	KindSearchJob:     "search_jobs",
	KindProduct:       "products",
	KindNegotiation:   "negotiations",
	KindPurchaseOrder: "purchase_orders",
	KindWebhookEvent:  "webhook_events",
	KindOrganization:  "organizations",
}

var ErrUnknownKind = errors.New("unknown_entity_kind")

func ParseKind(raw string) (Kind, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := kinds[kind]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, raw)
	}
	return kind, nil
}

// Table returns the table that stores entities of this kind.
func (k Kind) Table() string {
	return kinds[k]
}

// Ref points at one entity. The zero value means "no reference".
type Ref struct {
	Kind Kind         `json:"kind"`
	ID   snowflake.ID `json:"id"`
}

func New(kind Kind, id snowflake.ID) Ref {
	return Ref{Kind: kind, ID: id}
}

func SearchJob(id snowflake.ID) Ref     { return New(KindSearchJob, id) }
func Negotiation(id snowflake.ID) Ref   { return New(KindNegotiation, id) }
func PurchaseOrder(id snowflake.ID) Ref { return New(KindPurchaseOrder, id) }
func WebhookEvent(id snowflake.ID) Ref  { return New(KindWebhookEvent, id) }

func (r Ref) IsZero() bool {
	return r.Kind == "" && r.ID == 0
}

func (r Ref) String() string {
	if r.IsZero() {
		return ""
	}
	return string(r.Kind) + ":" + r.ID.String()
}

// Parse reads the "kind:id" form produced by String.
func Parse(raw string) (Ref, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Ref{}, nil
	}
	kindPart, idPart, ok := strings.Cut(raw, ":")
	if !ok {
		return Ref{}, fmt.Errorf("invalid entity reference %q", raw)
	}
	kind, err := ParseKind(kindPart)
	if err != nil {
		return Ref{}, err
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return Ref{}, fmt.Errorf("invalid entity id in %q", raw)
	}
	return New(kind, snowflake.ID(id)), nil
}

// Value stores the reference as "kind:id" text, NULL when empty.
func (r Ref) Value() (driver.Value, error) {
	if r.IsZero() {
		return nil, nil
	}
	return r.String(), nil
}

func (r *Ref) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*r = Ref{}
		return nil
	case string:
		parsed, err := Parse(v)
		if err != nil {
			return err
		}
		*r = parsed
		return nil
	case []byte:
		return r.Scan(string(v))
	default:
		return fmt.Errorf("entityref: unsupported scan type %T", src)
	}
}

func (r Ref) MarshalJSON() ([]byte, error) {
	if r.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(struct {
		Kind Kind   `json:"kind"`
		ID   string `json:"id"`
	}{Kind: r.Kind, ID: r.ID.String()})
}
