package agent

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrRetryable = errors.New("capability_retryable")
	ErrFatal     = errors.New("capability_fatal")
	ErrTimeout   = errors.New("capability_timeout")
)

type Kind int

const (
	KindRetryable Kind = iota
	KindFatal
)

// CapabilityError is a classified capability failure.
type CapabilityError struct {
	Capability string
	Kind       Kind
	Timeout    bool
	Err        error
}

func (e *CapabilityError) Error() string {
	kind := "retryable"
	if e.Kind == KindFatal {
		kind = "fatal"
	}
	if e.Timeout {
		kind = "timeout"
	}
	if e.Err == nil {
		return fmt.Sprintf("%s capability %s failure", e.Capability, kind)
	}
	return fmt.Sprintf("%s capability %s failure: %v", e.Capability, kind, e.Err)
}

func (e *CapabilityError) Unwrap() error { return e.Err }

func (e *CapabilityError) Is(target error) bool {
	switch target {
	case ErrRetryable:
		return e.Kind == KindRetryable
	case ErrFatal:
		return e.Kind == KindFatal
	case ErrTimeout:
		return e.Timeout
	}
	return false
}

func Retryable(capability string, err error) error {
	return &CapabilityError{Capability: capability, Kind: KindRetryable, Err: err}
}

func Fatal(capability string, err error) error {
	return &CapabilityError{Capability: capability, Kind: KindFatal, Err: err}
}

// IsRetryable reports whether err is a capability failure worth retrying.
func IsRetryable(err error) bool { return errors.Is(err, ErrRetryable) }

// IsFatal reports whether err is a capability failure that must not be retried.
func IsFatal(err error) bool { return errors.Is(err, ErrFatal) }

// classify turns any error returned from a capability into a
// *CapabilityError. Deadlines are retryable timeouts. Errors the capability
// did not classify are treated as retryable; the callers bound retries.
func classify(capability string, ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var capErr *CapabilityError
	if errors.As(err, &capErr) {
		if capErr.Capability == "" {
			capErr.Capability = capability
		}
		return capErr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &CapabilityError{Capability: capability, Kind: KindRetryable, Timeout: true, Err: err}
	}
	return &CapabilityError{Capability: capability, Kind: KindRetryable, Err: err}
}
