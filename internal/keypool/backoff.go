package keypool

import (
	"context"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/modelbench/engine/internal/provider"
)

// fixedFormulaBackOff implements backoff.BackOff with the exact retry
// delay: min(8s, 500ms·2^attempt) + uniform(0,200ms).
type fixedFormulaBackOff struct {
	attempt int
}

func newFixedFormulaBackOff() *fixedFormulaBackOff {
	return &fixedFormulaBackOff{}
}

func (b *fixedFormulaBackOff) NextBackOff() time.Duration {
	base := 500 * time.Millisecond * time.Duration(1<<uint(b.attempt))
	if base > 8*time.Second {
		base = 8 * time.Second
	}
	jitter := time.Duration(rand.Float64() * float64(200*time.Millisecond))
	b.attempt++
	return base + jitter
}

func (b *fixedFormulaBackOff) Reset() {
	b.attempt = 0
}

// Retry runs op, retrying at most maxRetries additional times when op's
// error is retryable, using the
// fixed formula above. A non-retryable error returns immediately. Driven
// through backoff.RetryNotify rather than a hand-rolled loop, the way
// github.com/cenkalti/backoff/v4 is meant to be used.
func Retry(ctx context.Context, maxRetries uint64, op func() error, onRetry func(err error, attempt int, delay time.Duration)) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(newFixedFormulaBackOff(), maxRetries), ctx)

	attempt := 0
	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !provider.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, delay time.Duration) {
		attempt++
		if onRetry != nil {
			onRetry(err, attempt, delay)
		}
	}

	return backoff.RetryNotify(wrapped, policy, notify)
}
