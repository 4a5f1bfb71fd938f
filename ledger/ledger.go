// Package ledger implements the causepay deposit ledger: an append-only,
// idempotent record of fiat and token movements per wallet. The ledger is
// the source of truth for balances; cached balances are a projection that
// must always equal the replay of history.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	causepay "github.com/causepay/causepay-go"
)

// EntryKind classifies a ledger entry.
type EntryKind string

const (
	// KindFiatDeposit records external fiat received for a wallet.
	KindFiatDeposit EntryKind = "fiat_deposit"

	// KindTokenDeposit records tokens credited to a wallet.
	KindTokenDeposit EntryKind = "token_deposit"

	// KindBundleSpend records token consumption by a settled payment
	// bundle. Quantity is negative. Written only by the orchestrator.
	KindBundleSpend EntryKind = "bundle_spend"
)

// Entry is one immutable ledger record. History is never rewritten;
// corrections are appended as new entries.
type Entry struct {
	// ID is assigned by the ledger if empty.
	ID string `json:"id"`

	// Wallet is the owning wallet.
	Wallet causepay.WalletAddress `json:"wallet"`

	// Kind classifies the entry.
	Kind EntryKind `json:"kind"`

	// Token is the token moved, empty for pure fiat entries.
	Token causepay.TokenID `json:"token,omitempty"`

	// Quantity is the token quantity effect on the wallet balance.
	// Positive for deposits, negative for bundle spends, zero for fiat.
	Quantity float64 `json:"quantity"`

	// AmountUSD is the fiat value of the entry.
	AmountUSD float64 `json:"amountUsd"`

	// SourceReference is the external idempotency key (e.g. a webhook
	// event id). Required; duplicate delivery is a safe no-op.
	SourceReference string `json:"sourceReference"`

	// Cause tags the entry to a cause for raised-amount projections.
	Cause causepay.CauseID `json:"cause,omitempty"`

	// CreatedAt is assigned by the ledger at record time.
	CreatedAt time.Time `json:"createdAt"`
}

// Ledger validates and records entries against a Store.
type Ledger struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the ledger clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// New creates a Ledger over the given store.
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record validates and appends an entry, applying its balance effect
// atomically. applied is false when the entry's source reference is already
// recorded; duplicate delivery of the same external event is not an error.
func (l *Ledger) Record(ctx context.Context, e Entry) (applied bool, err error) {
	if err := validate(e); err != nil {
		return false, err
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now()
	}

	if err := l.store.Append(ctx, e); err != nil {
		if errors.Is(err, ErrSourceReferenceExists) {
			l.logger.Info("duplicate deposit ignored",
				"wallet", string(e.Wallet),
				"sourceReference", e.SourceReference)
			return false, nil
		}
		return false, err
	}

	l.logger.Info("ledger entry recorded",
		"wallet", string(e.Wallet),
		"kind", string(e.Kind),
		"token", string(e.Token),
		"quantity", e.Quantity,
		"amountUsd", e.AmountUSD)
	return true, nil
}

// History returns the wallet's entries in insertion order.
func (l *Ledger) History(ctx context.Context, wallet causepay.WalletAddress) ([]Entry, error) {
	return l.store.History(ctx, wallet)
}

// Balance returns the cached token balance for a wallet.
func (l *Ledger) Balance(ctx context.Context, wallet causepay.WalletAddress, token causepay.TokenID) (float64, error) {
	return l.store.Balance(ctx, wallet, token)
}

// ReplayBalance recomputes a balance by folding the wallet's history. It
// must always agree with Balance; any divergence is a consistency bug.
func (l *Ledger) ReplayBalance(ctx context.Context, wallet causepay.WalletAddress, token causepay.TokenID) (float64, error) {
	history, err := l.store.History(ctx, wallet)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, e := range history {
		if e.Token == token {
			total += e.Quantity
		}
	}
	return total, nil
}

// RaisedByCause returns the cumulative fiat amount recorded for a cause.
func (l *Ledger) RaisedByCause(ctx context.Context, cause causepay.CauseID) (float64, error) {
	return l.store.RaisedByCause(ctx, cause)
}

func validate(e Entry) error {
	if e.Wallet == "" {
		return fmt.Errorf("%w: missing wallet", causepay.ErrValidation)
	}
	if e.SourceReference == "" {
		return fmt.Errorf("%w: missing source reference", causepay.ErrValidation)
	}

	switch e.Kind {
	case KindFiatDeposit:
		if e.AmountUSD <= 0 {
			return fmt.Errorf("%w: deposit amount must be positive", causepay.ErrValidation)
		}
	case KindTokenDeposit:
		if e.Token == "" {
			return fmt.Errorf("%w: missing token", causepay.ErrValidation)
		}
		if e.Quantity <= 0 {
			return fmt.Errorf("%w: deposit quantity must be positive", causepay.ErrValidation)
		}
	case KindBundleSpend:
		if e.Token == "" {
			return fmt.Errorf("%w: missing token", causepay.ErrValidation)
		}
		if e.Quantity >= 0 {
			return fmt.Errorf("%w: spend quantity must be negative", causepay.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown entry kind %q", causepay.ErrValidation, e.Kind)
	}
	return nil
}
