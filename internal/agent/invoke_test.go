package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvokeClassifiesErrors(t *testing.T) {
	tests := []struct {
		name      string
		call      func(ctx context.Context) (string, error)
		retryable bool
		fatal     bool
		timeout   bool
	}{
		{
			name: "fatal passes through",
			call: func(context.Context) (string, error) {
				return "", Fatal(CapabilityScrape, errors.New("vendor blocked us"))
			},
			fatal: true,
		},
		{
			name: "unclassified is retryable",
			call: func(context.Context) (string, error) {
				return "", errors.New("connection reset")
			},
			retryable: true,
		},
		{
			name: "deadline is retryable timeout",
			call: func(ctx context.Context) (string, error) {
				<-ctx.Done()
				return "", ctx.Err()
			},
			retryable: true,
			timeout:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Invoke(context.Background(), CapabilityScrape, 10*time.Millisecond, tt.call)
			require.Error(t, err)
			assert.Equal(t, tt.retryable, IsRetryable(err))
			assert.Equal(t, tt.fatal, IsFatal(err))
			assert.Equal(t, tt.timeout, errors.Is(err, ErrTimeout))

			var capErr *CapabilityError
			require.ErrorAs(t, err, &capErr)
			assert.Equal(t, CapabilityScrape, capErr.Capability)
		})
	}
}

func TestInvokeReturnsValue(t *testing.T) {
	out, err := Invoke(context.Background(), CapabilityEmbed, 0, func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, out)
}

func TestUnavailableIsFatal(t *testing.T) {
	_, err := Unavailable{}.SendEmail(context.Background(), Email{To: "a@b.c"})
	assert.True(t, IsFatal(err))
}
