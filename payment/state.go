// Package payment implements the payment orchestrator: a closed state
// machine driving each payment through quoting, bundling, signing,
// submission and settlement.
package payment

import (
	"fmt"
	"time"

	causepay "github.com/causepay/causepay-go"
)

// State is a payment lifecycle state. The machine is closed: only the
// transitions listed in the table below are legal, so an illegal move
// (signing a quoted payment, resurrecting an expired one) is rejected by
// construction rather than by convention.
type State string

const (
	// StateRequested is the initial state of an inbound payment request.
	StateRequested State = "requested"

	// StateQuoted means an indicative price was computed. No tokens are
	// locked.
	StateQuoted State = "quoted"

	// StateBundled means a concrete bundle is frozen against the payment.
	StateBundled State = "bundled"

	// StateSigned means the vault authorized the bundle.
	StateSigned State = "signed"

	// StateSubmitted means the signed transaction was sent to the executor.
	StateSubmitted State = "submitted"

	// StateSettled means the transaction confirmed and the ledger recorded
	// the bundle consumption. Terminal.
	StateSettled State = "settled"

	// StateExpired means the quote or bundle outlived its validity window
	// before confirmation. Terminal; no funds or signatures were committed.
	StateExpired State = "expired"

	// StateFailed means signing or submission failed. Terminal; the frozen
	// bundle is never replayed, a new payment must be created.
	StateFailed State = "failed"
)

var transitions = map[State][]State{
	StateRequested: {StateQuoted},
	StateQuoted:    {StateBundled, StateExpired},
	StateBundled:   {StateSigned, StateExpired, StateFailed},
	StateSigned:    {StateSubmitted, StateFailed},
	StateSubmitted: {StateSettled, StateFailed},
}

// CanTransitionTo reports whether the move from s to next is legal.
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether s admits no further transitions.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// QuoteLine is one indicative unit price in a payment quote.
type QuoteLine struct {
	Token        causepay.TokenID `json:"token"`
	Symbol       string           `json:"symbol"`
	Balance      float64          `json:"balance"`
	UnitPriceUSD float64          `json:"unitPriceUsd"`
}

// Payment is one payment's full lifecycle record. Instances handed out by
// the service are copies; the service owns the mutable originals.
type Payment struct {
	ID        causepay.PaymentID     `json:"id"`
	Wallet    causepay.WalletAddress `json:"wallet"`
	Cause     causepay.CauseID       `json:"cause,omitempty"`
	TargetUSD float64                `json:"targetUsd"`
	State     State                  `json:"state"`

	// Quote holds the indicative per-token prices computed at creation.
	Quote []QuoteLine `json:"quote,omitempty"`

	// Bundle is frozen by the supplement call and reused verbatim through
	// signing and submission.
	Bundle *causepay.Bundle `json:"bundle,omitempty"`

	// TxHash is set once the payment is signed.
	TxHash causepay.TxHash `json:"txHash,omitempty"`

	// FailureCause retains the error that moved the payment to Failed, for
	// audit and timeline display.
	FailureCause string `json:"failureCause,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// ExpiresAt bounds the quote/bundle validity window.
	ExpiresAt time.Time `json:"expiresAt"`
}

// transition moves the payment to next or fails with ErrInvalidTransition.
func (p *Payment) transition(next State, at time.Time) error {
	if !p.State.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", causepay.ErrInvalidTransition, p.State, next)
	}
	p.State = next
	p.UpdatedAt = at
	return nil
}
