package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/crossfade-fm/crossfade/internal/services"
	"github.com/crossfade-fm/crossfade/internal/shared"
)

const (
	defaultMaxAttempts = 3
	defaultBaseBackoff = 500 * time.Millisecond
)

// doWithRetry runs one provider call under the gateway's backoff policy:
// exponential backoff (base 500ms, factor 2) over at most three attempts,
// honoring any Retry-After hint. Only 429/5xx responses and transport
// errors are retried; exhaustion maps to ErrProviderUnavailable scoped to
// the provider so callers can degrade instead of aborting.
func (g *Gateway) doWithRetry(ctx context.Context, name string, call func(context.Context) error) error {
	maxAttempts := g.maxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	baseBackoff := g.baseBackoff
	if baseBackoff <= 0 {
		baseBackoff = defaultBaseBackoff
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s request canceled: %w", name, err)
		}

		attemptCtx := ctx
		cancel := func() {}
		if g.callTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, g.callTimeout)
		}
		err := call(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}

		retryAfter, retry := shouldRetry(ctx, err)
		if !retry {
			return err
		}
		lastErr = err

		g.logger.Warn("retrying provider call", "provider", name, "attempt", attempt+1, "of", maxAttempts, "err", err)

		if attempt == maxAttempts-1 {
			break
		}

		backoff := baseBackoff * time.Duration(1<<attempt)
		if retryAfter > 0 {
			backoff = retryAfter
		}
		if err := sleepWithContext(ctx, backoff); err != nil {
			return err
		}
	}

	return fmt.Errorf("%w: %s failed after %d attempts: %v", shared.ErrProviderUnavailable, name, maxAttempts, lastErr)
}

// shouldRetry classifies a provider-call failure. Timeouts of the attempt
// context are retryable as long as the parent is still live.
func shouldRetry(parent context.Context, err error) (time.Duration, bool) {
	var statusErr *services.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.RetryAfter, statusErr.Temporary()
	}

	if parent.Err() != nil {
		return 0, false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return 0, true
	}

	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, shared.ErrNotAuthenticated),
		errors.Is(err, shared.ErrReauthRequired),
		errors.Is(err, shared.ErrRefreshFailed),
		errors.Is(err, shared.ErrConnectionNotFound),
		errors.Is(err, shared.ErrFeatureUnsupported),
		errors.Is(err, shared.ErrInvalidArgument):
		return 0, false
	}

	// Transport-level failures (connection reset, DNS) are worth retrying.
	return 0, true
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("request canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
