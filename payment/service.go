package payment

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	causepay "github.com/causepay/causepay-go"
	"github.com/causepay/causepay-go/curve"
	"github.com/causepay/causepay-go/ledger"
	"github.com/causepay/causepay-go/solver"
)

// DefaultValidity bounds how long a quote or bundle may wait for
// confirmation before expiring.
const DefaultValidity = 15 * time.Minute

// Signer authorizes a bundle instruction with a vault key.
type Signer interface {
	Sign(ctx context.Context, id causepay.VaultID, instr causepay.SigningInstruction) (*causepay.SignedTransaction, error)
}

// Submitter drives a signed transaction to the chain.
type Submitter interface {
	Submit(ctx context.Context, tx *causepay.SignedTransaction) (causepay.TxHash, error)
}

// Service orchestrates payments. Bundling is serialized per payment id, so
// two concurrent supplement calls can never freeze two different bundles
// for the same payment.
type Service struct {
	engine    *curve.Engine
	solver    *solver.Solver
	signer    Signer
	submitter Submitter
	ledger    *ledger.Ledger
	tokens    causepay.TokenCatalog
	causes    causepay.CauseCatalog
	vault     causepay.VaultID

	validity time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu       sync.RWMutex
	payments map[causepay.PaymentID]*record
}

// record pairs a payment with its per-payment serialization lock. The lock
// is held across supplement and confirmation work for that payment only.
type record struct {
	mu      sync.Mutex
	payment Payment
}

// Option configures a Service.
type Option func(*Service)

// WithValidity overrides the quote/bundle validity window.
func WithValidity(d time.Duration) Option {
	return func(s *Service) { s.validity = d }
}

// WithClock overrides the service clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService wires the orchestrator over its collaborators. vault names the
// custody vault that authorizes bundle spends.
func NewService(
	engine *curve.Engine,
	slv *solver.Solver,
	signer Signer,
	submitter Submitter,
	led *ledger.Ledger,
	tokens causepay.TokenCatalog,
	causes causepay.CauseCatalog,
	vault causepay.VaultID,
	opts ...Option,
) *Service {
	s := &Service{
		engine:    engine,
		solver:    slv,
		signer:    signer,
		submitter: submitter,
		ledger:    led,
		tokens:    tokens,
		causes:    causes,
		vault:     vault,
		validity:  DefaultValidity,
		now:       time.Now,
		logger:    slog.Default(),
		payments:  make(map[causepay.PaymentID]*record),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a payment request and quotes it. The quote lists the
// current curve price of every token the wallet holds; nothing is locked.
func (s *Service) Create(ctx context.Context, wallet causepay.WalletAddress, cause causepay.CauseID, targetUSD float64) (Payment, error) {
	if wallet == "" {
		return Payment{}, fmt.Errorf("%w: missing wallet", causepay.ErrValidation)
	}
	if targetUSD <= 0 || math.IsNaN(targetUSD) || math.IsInf(targetUSD, 0) {
		return Payment{}, fmt.Errorf("%w: target amount must be positive", causepay.ErrValidation)
	}
	if cause != "" {
		if _, ok := s.causes.Cause(cause); !ok {
			return Payment{}, fmt.Errorf("%w: unknown cause %s", causepay.ErrValidation, cause)
		}
	}

	holdings, err := s.holdings(ctx, wallet)
	if err != nil {
		return Payment{}, err
	}

	now := s.now()
	p := Payment{
		ID:        causepay.PaymentID("pay_" + uuid.NewString()),
		Wallet:    wallet,
		Cause:     cause,
		TargetUSD: targetUSD,
		State:     StateRequested,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.validity),
	}
	for _, token := range s.tokens.Tokens() {
		balance, ok := holdings[token.ID]
		if !ok || balance <= 0 {
			continue
		}
		p.Quote = append(p.Quote, QuoteLine{
			Token:        token.ID,
			Symbol:       token.Symbol,
			Balance:      balance,
			UnitPriceUSD: s.engine.Price(token, 0),
		})
	}
	if err := p.transition(StateQuoted, now); err != nil {
		return Payment{}, err
	}

	s.mu.Lock()
	s.payments[p.ID] = &record{payment: p}
	s.mu.Unlock()

	s.logger.Info("payment created",
		"payment", string(p.ID),
		"wallet", string(wallet),
		"targetUsd", targetUSD)
	return p, nil
}

// Supplement freezes a concrete bundle against a quoted payment. At most
// one supplement may be in flight per payment; a concurrent call fails
// with ErrSupplementInFlight rather than waiting, since at most one frozen
// bundle may ever exist for a payment.
func (s *Service) Supplement(ctx context.Context, id causepay.PaymentID) (Payment, error) {
	rec, err := s.record(id)
	if err != nil {
		return Payment{}, err
	}
	if !rec.mu.TryLock() {
		return Payment{}, fmt.Errorf("%w: payment %s", causepay.ErrSupplementInFlight, id)
	}
	defer rec.mu.Unlock()

	p := &rec.payment
	if p.State != StateQuoted {
		return Payment{}, fmt.Errorf("%w: cannot bundle a %s payment", causepay.ErrInvalidTransition, p.State)
	}
	now := s.now()
	if now.After(p.ExpiresAt) {
		if err := p.transition(StateExpired, now); err != nil {
			return Payment{}, err
		}
		return Payment{}, fmt.Errorf("%w: %s", causepay.ErrPaymentExpired, id)
	}

	holdings, err := s.holdings(ctx, p.Wallet)
	if err != nil {
		return Payment{}, err
	}

	bundle, err := s.solver.Solve(causepay.Wallet{Address: p.Wallet, Holdings: holdings}, p.TargetUSD)
	if err != nil {
		// InsufficientFunds is recoverable: the payment stays quoted so
		// the caller can top up and supplement again.
		return Payment{}, err
	}

	p.Bundle = bundle
	if err := p.transition(StateBundled, now); err != nil {
		return Payment{}, err
	}

	s.logger.Info("payment bundled",
		"payment", string(id),
		"items", len(bundle.Items),
		"totalUsd", bundle.TotalUSD,
		"changeUsd", bundle.Change)
	return *p, nil
}

// Confirm consumes an external funds event and drives the payment through
// signing, submission and settlement. Redelivery of an event whose payment
// already settled is a safe no-op.
func (s *Service) Confirm(ctx context.Context, event causepay.ExternalFundsEvent) (Payment, error) {
	rec, err := s.record(event.PaymentID)
	if err != nil {
		return Payment{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	p := &rec.payment
	if p.State == StateSettled {
		return *p, nil
	}
	if p.State != StateBundled {
		return Payment{}, fmt.Errorf("%w: cannot confirm a %s payment", causepay.ErrInvalidTransition, p.State)
	}
	now := s.now()
	if now.After(p.ExpiresAt) {
		if err := p.transition(StateExpired, now); err != nil {
			return Payment{}, err
		}
		return Payment{}, fmt.Errorf("%w: %s", causepay.ErrPaymentExpired, event.PaymentID)
	}

	if event.AmountCents > 0 {
		if _, err := s.ledger.Record(ctx, ledger.Entry{
			Wallet:          p.Wallet,
			Kind:            ledger.KindFiatDeposit,
			AmountUSD:       event.AmountUSD(),
			SourceReference: event.SourceReference,
			Cause:           p.Cause,
		}); err != nil {
			return Payment{}, err
		}
	}

	instr := causepay.SigningInstruction{
		Payment: p.ID,
		Items:   p.Bundle.Items,
	}
	if p.Cause != "" {
		if cause, ok := s.causes.Cause(p.Cause); ok {
			instr.Credited = cause.VaultAddress
		}
	}

	tx, err := s.signer.Sign(ctx, s.vault, instr)
	if err != nil {
		return *p, s.fail(p, now, err)
	}
	if err := p.transition(StateSigned, now); err != nil {
		return Payment{}, err
	}
	p.TxHash = tx.Hash

	hash, err := s.submitter.Submit(ctx, tx)
	if err != nil {
		return *p, s.fail(p, now, err)
	}
	if err := p.transition(StateSubmitted, now); err != nil {
		return Payment{}, err
	}
	p.TxHash = hash

	if err := s.settle(ctx, p, now); err != nil {
		return *p, s.fail(p, now, err)
	}

	s.logger.Info("payment settled",
		"payment", string(p.ID),
		"wallet", string(p.Wallet),
		"hash", string(p.TxHash))
	return *p, nil
}

// settle records the bundle consumption and cause credit, then finalizes
// the payment. Ledger entries are keyed on the payment id so a repeated
// settlement attempt cannot double-spend.
func (s *Service) settle(ctx context.Context, p *Payment, now time.Time) error {
	for i, item := range p.Bundle.Items {
		_, err := s.ledger.Record(ctx, ledger.Entry{
			Wallet:          p.Wallet,
			Kind:            ledger.KindBundleSpend,
			Token:           item.Token,
			Quantity:        -item.Quantity,
			AmountUSD:       item.Quantity * item.UnitValue,
			SourceReference: fmt.Sprintf("%s/spend/%d", p.ID, i),
			Cause:           p.Cause,
		})
		if err != nil {
			return err
		}
	}
	return p.transition(StateSettled, now)
}

// fail moves the payment to Failed, retaining the cause for the audit
// timeline. The original error is returned for the caller.
func (s *Service) fail(p *Payment, now time.Time, cause error) error {
	p.FailureCause = cause.Error()
	if err := p.transition(StateFailed, now); err != nil {
		return err
	}
	s.logger.Error("payment failed",
		"payment", string(p.ID),
		"state", string(p.State),
		"error", cause)
	return cause
}

// Get returns a snapshot of the payment.
func (s *Service) Get(id causepay.PaymentID) (Payment, error) {
	rec, err := s.record(id)
	if err != nil {
		return Payment{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.payment, nil
}

// Status returns the payment's current state.
func (s *Service) Status(id causepay.PaymentID) (State, error) {
	p, err := s.Get(id)
	if err != nil {
		return "", err
	}
	return p.State, nil
}

// ExpireStale sweeps quoted and bundled payments past their validity
// window into Expired and returns how many were moved. Intended to run on
// a timer.
func (s *Service) ExpireStale(ctx context.Context) int {
	s.mu.RLock()
	records := make([]*record, 0, len(s.payments))
	for _, rec := range s.payments {
		records = append(records, rec)
	}
	s.mu.RUnlock()

	now := s.now()
	expired := 0
	for _, rec := range records {
		rec.mu.Lock()
		p := &rec.payment
		if (p.State == StateQuoted || p.State == StateBundled) && now.After(p.ExpiresAt) {
			if err := p.transition(StateExpired, now); err == nil {
				expired++
				s.logger.Info("payment expired", "payment", string(p.ID))
			}
		}
		rec.mu.Unlock()
	}
	return expired
}

// ActivityItem is one event in a wallet's merged activity timeline: either
// a ledger entry or a payment, never both.
type ActivityItem struct {
	At      time.Time     `json:"at"`
	Deposit *ledger.Entry `json:"deposit,omitempty"`
	Payment *Payment      `json:"payment,omitempty"`
}

// Activity merges the wallet's ledger history and payments into one
// time-ordered view.
func (s *Service) Activity(ctx context.Context, wallet causepay.WalletAddress) ([]ActivityItem, error) {
	history, err := s.ledger.History(ctx, wallet)
	if err != nil {
		return nil, err
	}

	items := make([]ActivityItem, 0, len(history))
	for i := range history {
		entry := history[i]
		items = append(items, ActivityItem{At: entry.CreatedAt, Deposit: &entry})
	}

	s.mu.RLock()
	records := make([]*record, 0, len(s.payments))
	for _, rec := range s.payments {
		records = append(records, rec)
	}
	s.mu.RUnlock()

	for _, rec := range records {
		rec.mu.Lock()
		if rec.payment.Wallet == wallet {
			p := rec.payment
			items = append(items, ActivityItem{At: p.CreatedAt, Payment: &p})
		}
		rec.mu.Unlock()
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].At.Before(items[j].At) })
	return items, nil
}

func (s *Service) record(id causepay.PaymentID) (*record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.payments[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", causepay.ErrPaymentNotFound, id)
	}
	return rec, nil
}

// holdings projects the wallet's current token balances from the ledger.
func (s *Service) holdings(ctx context.Context, wallet causepay.WalletAddress) (map[causepay.TokenID]float64, error) {
	out := make(map[causepay.TokenID]float64)
	for _, token := range s.tokens.Tokens() {
		balance, err := s.ledger.Balance(ctx, wallet, token.ID)
		if err != nil {
			return nil, err
		}
		if balance > 0 {
			out[token.ID] = balance
		}
	}
	return out, nil
}
