// Package funds turns verified external fiat events into ledger entries
// and minted cause tokens. The processor consumes normalized events from
// the webhook layer; payment-provider protocol details never reach it.
package funds

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	causepay "github.com/causepay/causepay-go"
	"github.com/causepay/causepay-go/curve"
	"github.com/causepay/causepay-go/ledger"
)

// DefaultFeeRate is the platform's share of every processed deposit.
const DefaultFeeRate = 0.05

// Signer authorizes the mint transaction with the custody vault.
type Signer interface {
	Sign(ctx context.Context, id causepay.VaultID, instr causepay.SigningInstruction) (*causepay.SignedTransaction, error)
}

// Submitter drives the signed mint transaction to the chain.
type Submitter interface {
	Submit(ctx context.Context, tx *causepay.SignedTransaction) (causepay.TxHash, error)
}

// Receipt reports the outcome of one processed deposit event.
type Receipt struct {
	Wallet causepay.WalletAddress `json:"wallet"`
	Cause  causepay.CauseID       `json:"cause"`
	Token  causepay.TokenID       `json:"token"`

	// AmountUSD is the fiat amount received.
	AmountUSD float64 `json:"amountUsd"`

	// TokensMinted is the quantity credited to the depositor.
	TokensMinted float64 `json:"tokensMinted"`

	// PlatformFeeTokens is the quantity minted to the platform wallet so
	// its share of the total mint equals the fee rate.
	PlatformFeeTokens float64 `json:"platformFeeTokens"`

	TxHash causepay.TxHash `json:"txHash,omitempty"`

	// Duplicate is true when the event's source reference was already
	// processed; nothing was minted.
	Duplicate bool `json:"duplicate"`
}

// Processor settles external fiat deposits: it records the fiat entry,
// prices the deposit on the cause token's bonding curve, mints depositor
// and platform-fee tokens, and submits the vault-signed mint transaction.
// Duplicate event delivery is a safe no-op keyed on the ledger's source
// reference.
type Processor struct {
	engine    *curve.Engine
	ledger    *ledger.Ledger
	tokens    causepay.TokenCatalog
	causes    causepay.CauseCatalog
	signer    Signer
	submitter Submitter

	vault          causepay.VaultID
	platformWallet causepay.WalletAddress
	feeRate        float64
	logger         *slog.Logger

	// minted tracks supply growth since the catalog snapshot was loaded,
	// so pricing always reflects the tokens this process has minted.
	mu     sync.Mutex
	minted map[causepay.TokenID]float64
}

// Option configures a Processor.
type Option func(*Processor)

// WithFeeRate overrides the platform fee rate. Must be in [0, 1).
func WithFeeRate(rate float64) Option {
	return func(p *Processor) { p.feeRate = rate }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) { p.logger = logger }
}

// NewProcessor wires a funds processor. platformWallet receives the fee
// share of every mint; vault names the custody vault signing the mints.
func NewProcessor(
	engine *curve.Engine,
	led *ledger.Ledger,
	tokens causepay.TokenCatalog,
	causes causepay.CauseCatalog,
	signer Signer,
	submitter Submitter,
	vault causepay.VaultID,
	platformWallet causepay.WalletAddress,
	opts ...Option,
) *Processor {
	p := &Processor{
		engine:         engine,
		ledger:         led,
		tokens:         tokens,
		causes:         causes,
		signer:         signer,
		submitter:      submitter,
		vault:          vault,
		platformWallet: platformWallet,
		feeRate:        DefaultFeeRate,
		logger:         slog.Default(),
		minted:         make(map[causepay.TokenID]float64),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process settles one external deposit event.
func (p *Processor) Process(ctx context.Context, event causepay.ExternalFundsEvent) (*Receipt, error) {
	if event.Wallet == "" {
		return nil, fmt.Errorf("%w: missing wallet", causepay.ErrValidation)
	}
	if event.AmountCents <= 0 {
		return nil, fmt.Errorf("%w: deposit amount must be positive", causepay.ErrValidation)
	}
	cause, ok := p.causes.Cause(event.Cause)
	if !ok {
		return nil, fmt.Errorf("%w: unknown cause %s", causepay.ErrValidation, event.Cause)
	}
	token, ok := p.tokens.Token(cause.Token)
	if !ok {
		return nil, fmt.Errorf("%w: cause %s references unknown token %s", causepay.ErrValidation, cause.ID, cause.Token)
	}

	amountUSD := event.AmountUSD()
	applied, err := p.ledger.Record(ctx, ledger.Entry{
		Wallet:          event.Wallet,
		Kind:            ledger.KindFiatDeposit,
		AmountUSD:       amountUSD,
		SourceReference: event.SourceReference,
		Cause:           cause.ID,
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return &Receipt{
			Wallet:    event.Wallet,
			Cause:     cause.ID,
			Token:     token.ID,
			AmountUSD: amountUSD,
			Duplicate: true,
		}, nil
	}

	depositorTokens, feeTokens, unitPrice := p.mint(token, amountUSD)

	tx, err := p.signer.Sign(ctx, p.vault, causepay.SigningInstruction{
		Payment:  causepay.PaymentID("deposit_" + event.SourceReference),
		Credited: cause.VaultAddress,
		Items: []causepay.BundleItem{
			{Token: token.ID, Symbol: token.Symbol, Quantity: depositorTokens + feeTokens, UnitValue: unitPrice},
		},
	})
	if err != nil {
		return nil, err
	}
	hash, err := p.submitter.Submit(ctx, tx)
	if err != nil {
		return nil, err
	}

	entries := []ledger.Entry{
		{
			Wallet:          event.Wallet,
			Kind:            ledger.KindTokenDeposit,
			Token:           token.ID,
			Quantity:        depositorTokens,
			SourceReference: event.SourceReference + "/mint",
			Cause:           cause.ID,
		},
	}
	if feeTokens > 0 {
		entries = append(entries, ledger.Entry{
			Wallet:          p.platformWallet,
			Kind:            ledger.KindTokenDeposit,
			Token:           token.ID,
			Quantity:        feeTokens,
			SourceReference: event.SourceReference + "/fee",
		})
	}
	for _, e := range entries {
		if _, err := p.ledger.Record(ctx, e); err != nil {
			return nil, err
		}
	}

	p.logger.Info("deposit processed",
		"wallet", string(event.Wallet),
		"cause", string(cause.ID),
		"amountUsd", amountUSD,
		"tokens", depositorTokens,
		"feeTokens", feeTokens,
		"hash", string(hash))

	return &Receipt{
		Wallet:            event.Wallet,
		Cause:             cause.ID,
		Token:             token.ID,
		AmountUSD:         amountUSD,
		TokensMinted:      depositorTokens,
		PlatformFeeTokens: feeTokens,
		TxHash:            hash,
	}, nil
}

// MintedSince reports supply growth for a token since the catalog snapshot
// was loaded.
func (p *Processor) MintedSince(token causepay.TokenID) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.minted[token]
}

// mint prices the deposit against the token's live supply and reserves the
// resulting quantities. The depositor's tokens are priced by the curve; the
// fee quantity tops the mint up so the platform's share of the whole equals
// the fee rate.
func (p *Processor) mint(token causepay.Token, amountUSD float64) (depositor, fee, unitPrice float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	token.Supply += p.minted[token.ID]
	depositor = p.engine.TokensForAmount(token, amountUSD)
	fee = depositor * p.feeRate / (1 - p.feeRate)
	unitPrice = p.engine.Price(token, 0)

	p.minted[token.ID] += depositor + fee
	return depositor, fee, unitPrice
}
