package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff(t *testing.T) {
	cases := []struct {
		name    string
		attempt int
		want    time.Duration
	}{
		{name: "first attempt uses base", attempt: 0, want: time.Second},
		{name: "doubles", attempt: 1, want: 2 * time.Second},
		{name: "doubles again", attempt: 3, want: 8 * time.Second},
		{name: "capped", attempt: 10, want: 30 * time.Second},
		{name: "negative clamps to base", attempt: -2, want: time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Backoff(time.Second, 30*time.Second, tc.attempt))
		})
	}
}

func TestValidateWorkflowConfig(t *testing.T) {
	require.NoError(t, validateWorkflowConfig(DefaultWorkflowConfig()))

	bad := DefaultWorkflowConfig()
	bad.RetryBaseDelay = 0
	bad.POTaxRate = "-0.1"
	bad.PONumberTemplate = "PO-{YYYY}"
	err := validateWorkflowConfig(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retryBaseDelay")
	assert.Contains(t, err.Error(), "poTaxRate")
	assert.Contains(t, err.Error(), "poNumberTemplate")
}

func TestStaticHolderReturnsConfig(t *testing.T) {
	cfg := DefaultWorkflowConfig()
	cfg.POTaxRate = "0.11"
	holder := NewStaticWorkflowConfig(cfg)
	assert.Equal(t, "0.11", holder.Get().TaxRate().String())
}
