package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/procura/internal/product/domain"
	"github.com/smallbiznis/procura/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProduct(node *snowflake.Node, jobID snowflake.ID, url string, at time.Time) *domain.Product {
	p := &domain.Product{
		ID:                 node.Generate(),
		OrgID:              1,
		SearchJobID:        jobID,
		Title:              "Standing Desk",
		URL:                url,
		Currency:           "USD",
		AvailabilityStatus: "In Stock",
		IsAvailable:        true,
		CreatedAt:          at,
	}
	p.ObservePrice(decimal.RequireFromString("199.99"), at)
	return p
}

func TestVectorIDIsUnique(t *testing.T) {
	db := dbtest.Open(t, &domain.Product{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	repo := Provide()
	ctx := context.Background()
	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	a := newProduct(node, 10, "https://shop.example/a", now)
	b := newProduct(node, 10, "https://shop.example/b", now)
	require.NoError(t, repo.Create(ctx, db, a))
	require.NoError(t, repo.Create(ctx, db, b))

	require.NoError(t, repo.SetVector(ctx, db, a.ID, "vec-1", "text-embedding-3-small"))
	err = repo.SetVector(ctx, db, b.ID, "vec-1", "text-embedding-3-small")
	assert.ErrorIs(t, err, domain.ErrDuplicateVector)

	got, err := repo.FindByID(ctx, db, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got.VectorID)
	assert.Equal(t, "vec-1", *got.VectorID)
}

func TestPriceHistoryAppends(t *testing.T) {
	db := dbtest.Open(t, &domain.Product{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	repo := Provide()
	ctx := context.Background()
	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	p := newProduct(node, 20, "https://shop.example/desk", now)
	require.NoError(t, repo.Create(ctx, db, p))

	found, err := repo.FindByJobURL(ctx, db, 20, "https://shop.example/desk")
	require.NoError(t, err)
	require.NotNil(t, found)
	found.ObservePrice(decimal.RequireFromString("179.99"), now.Add(time.Hour))
	require.NoError(t, repo.Update(ctx, db, found))

	reloaded, err := repo.FindByID(ctx, db, p.ID)
	require.NoError(t, err)
	require.Len(t, reloaded.PriceHistory, 2)
	assert.True(t, reloaded.PriceHistory[0].Price.Equal(decimal.RequireFromString("199.99")))
	assert.True(t, reloaded.Price.Equal(decimal.RequireFromString("179.99")))

	missing, err := repo.FindByJobURL(ctx, db, 20, "https://shop.example/none")
	require.NoError(t, err)
	assert.Nil(t, missing)

	count, err := repo.CountByJob(ctx, db, 20)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}
