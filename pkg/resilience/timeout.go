package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/errors"
)

// WithTimeout runs fn with a derived context that is cancelled after
// timeout. fn is expected to honour ctx; the call returns when fn does. A
// deadline hit by the derived context is reported as ErrTimeout, a
// cancelled parent is returned unchanged. A non-positive timeout disables
// the limit.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := fn(timeoutCtx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", name, ctx.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, apperrors.ErrTimeout) {
		return fmt.Errorf("%s exceeded %v: %w", name, timeout, apperrors.ErrTimeout)
	}
	return err
}
