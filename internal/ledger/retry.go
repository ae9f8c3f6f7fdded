package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"wallet-ledger-go/internal/store"

	"go.uber.org/zap"
)

// RetryPolicy bounds the read-modify-CAS-write loop. Only a lost CAS race
// (store.ErrConcurrentModification) is retried; every other failure surfaces
// immediately.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy matches the recommended 3-5 attempt budget.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 4, Backoff: 10 * time.Millisecond}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// attempt budget is exhausted. Exhaustion reports store.ErrConcurrencyConflict.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultRetryPolicy.MaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, store.ErrConcurrentModification) {
			return lastErr
		}

		zap.L().Debug("Optimistic lock attempt lost race",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts))

		if attempt == attempts {
			break
		}
		select {
		case <-time.After(p.jitter(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", op, attempts, store.ErrConcurrencyConflict)
}

// jitter returns a randomized delay scaled by the attempt number so colliding
// writers drift apart instead of retrying in lockstep.
func (p RetryPolicy) jitter(attempt int) time.Duration {
	base := p.Backoff
	if base <= 0 {
		base = DefaultRetryPolicy.Backoff
	}
	window := int64(base) * int64(attempt)
	return time.Duration(window/2 + rand.Int63n(window))
}
