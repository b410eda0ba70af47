package coordinator

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/tado-community/tadoxd/internal/rate"
	"github.com/tado-community/tadoxd/internal/tadox"
)

const (
	retryAttempts     = 3
	retryInitialDelay = 100 * time.Millisecond
	retryMaxDelay     = 5 * time.Second
)

// withRetry retries transient failures with exponential backoff.
// Rate-limit errors and client errors are terminal.
func withRetry(ctx context.Context, fn func() error) error {
	delay := retryInitialDelay
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			if !sleepCtx(ctx, delay) {
				return ctx.Err()
			}
			delay *= 2
			if delay > retryMaxDelay {
				delay = retryMaxDelay
			}
		}
		err = fn()
		if err == nil || !retryable(err) {
			return err
		}
	}
	return err
}

func retryable(err error) bool {
	var rlErr rate.RateLimitError
	if errors.As(err, &rlErr) {
		return false
	}
	var statusErr tadox.HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status >= http.StatusInternalServerError
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// network-level failures
	return true
}
