package resilience

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/errors"
)

// WithTimeout runs fn under a deadline of timeout; zero or negative means
// no deadline. When the deadline passes first, the returned error matches
// both apperrors.ErrTimeout and context.DeadlineExceeded. fn keeps running
// in the background until it notices its context is done.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- fn(timeoutCtx)
	}()
	select {
	case err := <-done:
		if err == nil || timeoutCtx.Err() == nil {
			return err
		}
	case <-timeoutCtx.Done():
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s: parent context cancelled: %w", name, ctx.Err())
	}
	return fmt.Errorf("%s: %w after %v: %w", name, apperrors.ErrTimeout, timeout, context.DeadlineExceeded)
}
