package agent

import (
	"context"
	"errors"
	"time"

	obsmetrics "github.com/smallbiznis/procura/internal/observability/metrics"
)

// Invoke runs a capability call with the given timeout and returns a
// classified error. A zero timeout leaves the caller's deadline in place.
func Invoke[T any](ctx context.Context, capability string, timeout time.Duration, call func(ctx context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := call(ctx)
	err = classify(capability, ctx, err)
	obsmetrics.Workflow().ObserveCapability(capability, resultLabel(err), time.Since(start))
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return obsmetrics.CapabilityResultOK
	case IsFatal(err):
		return obsmetrics.CapabilityResultFatal
	case errors.Is(err, ErrTimeout):
		return obsmetrics.CapabilityResultTimeout
	default:
		return obsmetrics.CapabilityResultRetryable
	}
}
