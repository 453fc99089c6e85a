package domain

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"gorm.io/datatypes"
)

func TestDefaultSettingsResetsAtNextMonth(t *testing.T) {
	settings := DefaultSettings(1, time.Date(2025, 1, 31, 15, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), settings.UsageResetDate)
}

func TestRollOver(t *testing.T) {
	reset := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	newSettings := func() OrganizationSettings {
		return OrganizationSettings{
			CurrentSearchesThisMonth: 7,
			CurrentSpendThisMonth:    decimal.RequireFromString("12.34"),
			UsageResetDate:           reset,
		}
	}

	t.Run("before reset date", func(t *testing.T) {
		s := newSettings()
		assert.False(t, s.RollOver(reset.Add(-time.Second)))
		assert.Equal(t, 7, s.CurrentSearchesThisMonth)
	})

	t.Run("crossing resets once", func(t *testing.T) {
		s := newSettings()
		assert.True(t, s.RollOver(reset))
		assert.Equal(t, 0, s.CurrentSearchesThisMonth)
		assert.True(t, s.CurrentSpendThisMonth.IsZero())
		assert.Equal(t, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), s.UsageResetDate)

		s.CurrentSearchesThisMonth = 2
		assert.False(t, s.RollOver(reset.Add(time.Hour)))
		assert.Equal(t, 2, s.CurrentSearchesThisMonth)
	})

	t.Run("skipped months advance past now", func(t *testing.T) {
		s := newSettings()
		now := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
		assert.True(t, s.RollOver(now))
		assert.Equal(t, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), s.UsageResetDate)
	})
}

func TestVendorAllowed(t *testing.T) {
	s := OrganizationSettings{}
	assert.True(t, s.VendorAllowed(snowflake.ID(5)))

	s.BlockedVendors = datatypes.JSONSlice[snowflake.ID]{5}
	assert.False(t, s.VendorAllowed(snowflake.ID(5)))

	s.AllowedVendors = datatypes.JSONSlice[snowflake.ID]{6}
	assert.True(t, s.VendorAllowed(snowflake.ID(6)))
	assert.False(t, s.VendorAllowed(snowflake.ID(7)))
}
