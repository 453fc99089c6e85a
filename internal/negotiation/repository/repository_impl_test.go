package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/procura/internal/negotiation/domain"
	"github.com/smallbiznis/procura/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func negotiation(id snowflake.ID, status domain.Status, created time.Time) *domain.Negotiation {
	return &domain.Negotiation{
		ID:                 id,
		OrgID:              1,
		ProductID:          2,
		UserID:             3,
		CreatedBy:          3,
		Status:             status,
		OriginalPrice:      decimal.NewFromInt(10),
		TargetPrice:        decimal.NewFromInt(8),
		Currency:           "USD",
		Quantity:           1,
		MaxFollowUps:       3,
		VendorContactEmail: "sales@vendor.test",
		CreatedAt:          created,
		UpdatedAt:          created,
	}
}

func TestListDueOrdersByEarliestDueTime(t *testing.T) {
	db := dbtest.Open(t, &domain.Negotiation{})
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time {
		ts := now.Add(d)
		return &ts
	}

	// Lower ids are due later, so id order and due order disagree.
	followUp := negotiation(1, domain.StatusSent, now)
	followUp.NextFollowUpAt = at(-time.Minute)

	dispatch := negotiation(2, domain.StatusDraft, now)
	dispatch.NextDispatchAt = at(-time.Hour)

	expired := negotiation(3, domain.StatusVendorReplied, now)
	expired.ExpiresAt = at(-48 * time.Hour)

	notDue := negotiation(4, domain.StatusSent, now)
	notDue.NextFollowUpAt = at(time.Hour)

	for _, n := range []*domain.Negotiation{followUp, dispatch, expired, notDue} {
		require.NoError(t, repo.Create(ctx, n))
	}

	due, err := repo.ListDue(ctx, now, 0)
	require.NoError(t, err)
	ids := make([]snowflake.ID, 0, len(due))
	for _, n := range due {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []snowflake.ID{3, 2, 1}, ids)

	due, err = repo.ListDue(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, snowflake.ID(3), due[0].ID)
}
