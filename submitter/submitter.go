// Package submitter drives signed transactions to the blockchain executor
// with bounded, backed-off retries for transient failures.
package submitter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	causepay "github.com/causepay/causepay-go"
	"github.com/causepay/causepay-go/backoff"
	"github.com/causepay/causepay-go/executor"
)

// Submitter submits signed transactions. Only transient executor errors
// are retried; permanent errors surface immediately. The transaction is
// resubmitted verbatim across attempts — the submitter never re-signs.
type Submitter struct {
	client executor.Client
	policy backoff.Policy
	logger *slog.Logger
}

// Option configures a Submitter.
type Option func(*Submitter)

// WithPolicy overrides the retry policy.
func WithPolicy(policy backoff.Policy) Option {
	return func(s *Submitter) { s.policy = policy }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Submitter) { s.logger = logger }
}

// New creates a Submitter over the given executor client.
func New(client executor.Client, opts ...Option) *Submitter {
	s := &Submitter{
		client: client,
		policy: backoff.Default,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit sends the transaction and returns its hash. Submission is
// idempotent from the caller's perspective: an executor that already knows
// the transaction counts as success.
func (s *Submitter) Submit(ctx context.Context, tx *causepay.SignedTransaction) (causepay.TxHash, error) {
	attempt := 0
	outcome, err := backoff.Do(ctx, s.policy, executor.IsTransient,
		func(ctx context.Context) (*executor.SubmitOutcome, error) {
			attempt++
			out, err := s.client.Submit(ctx, tx)
			if err != nil && executor.IsTransient(err) {
				s.logger.Warn("transient submit failure",
					"hash", string(tx.Hash),
					"attempt", attempt,
					"error", err)
			}
			return out, err
		})
	if err != nil {
		var submitErr *executor.SubmitError
		if errors.As(err, &submitErr) && !submitErr.Transient {
			return "", fmt.Errorf("%w: %v", causepay.ErrSubmitFailed, err)
		}
		return "", fmt.Errorf("%w: retries exhausted: %v", causepay.ErrSubmitFailed, err)
	}

	if outcome.AlreadyKnown {
		s.logger.Info("transaction already known to executor",
			"hash", string(outcome.TxHash))
	}
	return outcome.TxHash, nil
}
