package job

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/withObsrvr/netex-crossfile-validator/internal/metrics"
	"github.com/withObsrvr/netex-crossfile-validator/internal/store"
)

// RetryPolicy bounds retries of infrastructure failures.
type RetryPolicy struct {
	Attempts int           // total attempts, at least 1
	Backoff  time.Duration // first delay, doubled after each failure
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.Backoff <= 0 {
		p.Backoff = 500 * time.Millisecond
	}
	return p
}

// do runs fn until it succeeds, fails with a non-retryable error, or the
// attempts are used up. Only store.IsRetryable errors are retried.
func (p RetryPolicy) do(ctx context.Context, log *slog.Logger, operation string, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !store.IsRetryable(err) || attempt == p.Attempts-1 {
			break
		}

		log.Warn("operation failed, retrying", "operation", operation, "attempt", attempt+1, "error", err)
		if m := metrics.Get(); m != nil {
			m.IncRetryAttempts(operation)
		}

		backoff := p.Backoff * time.Duration(1<<attempt)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if store.IsRetryable(err) && p.Attempts > 1 {
		return fmt.Errorf("%s failed after %d attempts: %w", operation, p.Attempts, err)
	}
	return err
}
