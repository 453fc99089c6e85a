package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/procura/internal/clock"
	orgdomain "github.com/smallbiznis/procura/internal/organization/domain"
	orgrepository "github.com/smallbiznis/procura/internal/organization/repository"
	"github.com/smallbiznis/procura/internal/supplier/domain"
	"github.com/smallbiznis/procura/internal/supplier/repository"
	"github.com/smallbiznis/procura/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

func setup(t *testing.T) (domain.Service, orgdomain.Repository) {
	t.Helper()
	db := dbtest.Open(t, &domain.Vendor{}, &orgdomain.OrganizationSettings{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	orgRepo := orgrepository.NewRepository(db)
	svc := New(Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   clock.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
		Repo:    repository.Provide(),
		OrgRepo: orgRepo,
	})
	return svc, orgRepo
}

func TestCreateVendor(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	v, err := svc.Create(ctx, domain.CreateRequest{Name: "Best Buy", Domain: " BestBuy.com "})
	require.NoError(t, err)
	assert.Equal(t, "best-buy", v.Slug)
	assert.Equal(t, "bestbuy.com", v.Domain)
	assert.True(t, v.ScrapingEnabled)

	_, err = svc.Create(ctx, domain.CreateRequest{Name: " ", Domain: "x.com"})
	assert.ErrorIs(t, err, domain.ErrInvalidName)
	_, err = svc.Create(ctx, domain.CreateRequest{Name: "Bad", Domain: "http://x.com/a"})
	assert.ErrorIs(t, err, domain.ErrInvalidDomain)
}

func TestEligibleAppliesListsAndFlags(t *testing.T) {
	svc, orgRepo := setup(t)
	ctx := context.Background()

	off := false
	amazon, err := svc.Create(ctx, domain.CreateRequest{Name: "Amazon", Domain: "amazon.com"})
	require.NoError(t, err)
	newegg, err := svc.Create(ctx, domain.CreateRequest{Name: "Newegg", Domain: "newegg.com"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, domain.CreateRequest{Name: "Manual Only", Domain: "manual.example", ScrapingEnabled: &off})
	require.NoError(t, err)
	retired, err := svc.Create(ctx, domain.CreateRequest{Name: "Retired", Domain: "retired.example"})
	require.NoError(t, err)
	require.NoError(t, svc.SetActive(ctx, retired.ID, false))

	orgID := snowflake.ID(77)
	settings := orgdomain.DefaultSettings(orgID, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	settings.BlockedVendors = datatypes.JSONSlice[snowflake.ID]{newegg.ID}
	require.NoError(t, orgRepo.CreateSettings(ctx, &settings))

	eligible, err := svc.Eligible(ctx, orgID)
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	assert.Equal(t, amazon.ID, eligible[0].ID)

	_, err = svc.Eligible(ctx, snowflake.ID(1))
	assert.ErrorIs(t, err, orgdomain.ErrNotFound)
}

func TestNegotiationEmailPreference(t *testing.T) {
	procurement := "b2b@vendor.example"
	contact := "hello@vendor.example"
	assert.Equal(t, procurement, domain.Vendor{ProcurementEmail: &procurement, ContactEmail: &contact}.NegotiationEmail())
	assert.Equal(t, contact, domain.Vendor{ContactEmail: &contact}.NegotiationEmail())
	assert.Empty(t, domain.Vendor{}.NegotiationEmail())
}
