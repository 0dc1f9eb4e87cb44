package contexthelper

import (
	"context"
	"time"
)

// CheckCancellation returns ctx.Err() if the context is already done.
func CheckCancellation(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// WithOptionalTimeout behaves like context.WithTimeout, except a non-positive
// timeout leaves ctx unbounded.
func WithOptionalTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// Detached returns a context that keeps ctx's values but is never cancelled,
// bounded by timeout. Cleanup work such as releasing locks must run even
// after the request context is gone.
func Detached(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return WithOptionalTimeout(context.WithoutCancel(ctx), timeout)
}
