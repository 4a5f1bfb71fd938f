// Package backoff provides bounded retry with exponential backoff for
// transient failures. Retries are scheduled, context-aware waits rather
// than recursive callbacks, so cancellation and timeouts compose cleanly.
package backoff

import (
	"context"
	"fmt"
	"time"
)

// Policy bounds a retry loop.
type Policy struct {
	// MaxAttempts is the attempt ceiling, including the initial attempt.
	MaxAttempts int

	// Initial is the delay before the first retry.
	Initial time.Duration

	// Max caps the delay between retries.
	Max time.Duration

	// Factor multiplies the delay after each retry.
	Factor float64
}

// Default is a sensible policy for talking to the blockchain executor.
var Default = Policy{
	MaxAttempts: 5,
	Initial:     200 * time.Millisecond,
	Max:         10 * time.Second,
	Factor:      2.0,
}

// Classifier reports whether an error is worth retrying.
type Classifier func(error) bool

// Do runs op until it succeeds, the classifier rejects its error, the
// attempt ceiling is reached, or the context is cancelled. The delay
// between attempts grows by Factor up to Max.
func Do[T any](ctx context.Context, p Policy, retryable Classifier, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	delay := p.Initial
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("retry cancelled: %w", err)
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !retryable(err) {
			return zero, err
		}
		if attempt == p.MaxAttempts {
			break
		}

		select {
		case <-time.After(delay):
			delay = time.Duration(float64(delay) * p.Factor)
			if delay > p.Max {
				delay = p.Max
			}
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}

	return zero, fmt.Errorf("attempt ceiling reached after %d attempts: %w", p.MaxAttempts, lastErr)
}
