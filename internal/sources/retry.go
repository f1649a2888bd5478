package sources

import (
	"context"
	"fmt"
	"time"

	"github.com/usagedeck/usagedeck/internal/errors"
)

// RetryPolicy retries one external call with linear-growth backoff.
// Retries never advance the fallback chain: a call either eventually
// succeeds or its source reports failure and the resolver moves on.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
}

// DefaultRetryPolicy matches the per-call retry budget used when config
// does not override it.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, BaseDelay: time.Second}

// Do runs fn up to Attempts times, sleeping BaseDelay*attempt between
// tries. Credential errors are returned immediately since retrying
// cannot produce a credential that is not there.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.BaseDelay * time.Duration(attempt)):
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errors.IsInapplicable(err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}
