// Package causepay defines the shared domain types for the causepay payment
// core: bonding-curve priced tokens, wallets, deposits, payment bundles and
// the vault/transaction types exchanged with the blockchain executor.
package causepay

import (
	"math/big"
	"time"
)

// TokenID uniquely identifies a token. The canonical form is
// "<issuer-pubkey>,<shard>" as assigned by the executor at mint time.
type TokenID string

// WalletAddress is a user wallet address (base58-encoded public key).
type WalletAddress string

// VaultID identifies a custodial vault configured in the service.
type VaultID string

// CauseID identifies a cause that tokens are minted for.
type CauseID string

// PaymentID identifies a payment across its whole lifecycle.
type PaymentID string

// TxHash is the hash of a transaction submitted to the executor.
type TxHash string

// CurveParams holds the bonding-curve coefficients for a token.
// Price at supply s is BasePrice + Slope*s; both are denominated in USD.
type CurveParams struct {
	// BasePrice is the marginal price at zero supply. Must be positive.
	BasePrice float64 `json:"basePrice"`

	// Slope is the price increase per minted unit. Must be non-negative
	// so that price is monotonically non-decreasing in supply.
	Slope float64 `json:"slope"`
}

// Token describes a curve-priced token. Supply is never written directly;
// it is the projection of ledger mint/burn events for the token.
type Token struct {
	// ID is the canonical token identifier.
	ID TokenID `json:"id"`

	// Symbol is the short ticker (e.g. "OCEAN").
	Symbol string `json:"symbol"`

	// Name is the human-readable token name.
	Name string `json:"name"`

	// Decimals is the number of decimal places for display purposes.
	Decimals uint8 `json:"decimals"`

	// Fractional reports whether the token supports fractional quantities.
	// Non-fractional tokens are rounded up to whole units by the solver.
	Fractional bool `json:"fractional"`

	// Curve holds the bonding-curve parameters used to price the token.
	Curve CurveParams `json:"curve"`

	// Supply is the current minted supply the curve is evaluated at.
	Supply float64 `json:"supply"`

	// ImageURL is optional display metadata.
	ImageURL string `json:"imageUrl,omitempty"`
}

// Wallet is a user's view of held token quantities.
type Wallet struct {
	// Address is the wallet's public address.
	Address WalletAddress `json:"address"`

	// Holdings maps token id to held quantity. Quantities are
	// non-negative; a zero balance is equivalent to an absent entry.
	Holdings map[TokenID]float64 `json:"holdings"`
}

// Cause is a fundraising destination tokens are minted for.
type Cause struct {
	// ID is the cause identifier.
	ID CauseID `json:"id"`

	// Name is the display name.
	Name string `json:"name"`

	// Description is optional display metadata.
	Description string `json:"description,omitempty"`

	// Token is the cause's bonding-curve token.
	Token TokenID `json:"token"`

	// VaultAddress is the destination vault credited on settlement.
	VaultAddress string `json:"vaultAddress"`

	// ImageURL is optional display metadata.
	ImageURL string `json:"imageUrl,omitempty"`
}

// Valuation is a vendor's view of a token: a multiplier on the curve price
// and an optional discount. The zero value is not neutral; use
// NeutralValuation for absent entries.
type Valuation struct {
	// Multiplier scales the token's curve price. 1 is neutral.
	Multiplier float64 `json:"multiplier"`

	// Discount is the fractional discount in [0,1). 0 is neutral.
	Discount float64 `json:"discount"`
}

// NeutralValuation is the default applied when a vendor has no entry for a
// token: curve price taken at face value, no discount.
var NeutralValuation = Valuation{Multiplier: 1, Discount: 0}

// ValuationSource supplies vendor valuations to the bundle solver.
// Implementations are owned by the pricing/discount collaborator.
type ValuationSource interface {
	// Valuation returns the valuation a vendor assigns to a token held by
	// the given wallet. ok is false when no entry exists; callers apply
	// NeutralValuation in that case.
	Valuation(wallet WalletAddress, token TokenID) (v Valuation, ok bool)
}

// BundleItem is one (token, quantity) leg of a payment bundle.
type BundleItem struct {
	// Token is the token being spent.
	Token TokenID `json:"token"`

	// Symbol is carried for display so the routing layer does not need a
	// second catalog lookup.
	Symbol string `json:"symbol"`

	// Quantity is the number of token units consumed.
	Quantity float64 `json:"quantity"`

	// UnitValue is the frozen effective USD value per unit used when the
	// bundle was solved (curve price x multiplier x (1-discount)).
	UnitValue float64 `json:"unitValue"`
}

// DiscountConsumption reports the USD value of the vendor discount a
// bundle leg consumed, for vendor-facing accounting.
type DiscountConsumption struct {
	Token     TokenID `json:"token"`
	Symbol    string  `json:"symbol"`
	AmountUSD float64 `json:"amountUsd"`
}

// Bundle is a frozen, priced selection of token quantities covering a
// target fiat amount. A bundle is a snapshot: its prices are not live and
// it must be re-solved after any supply-affecting event before reuse.
type Bundle struct {
	// Items are the selected legs, in solver order (descending effective
	// unit value, ties by ascending token id).
	Items []BundleItem `json:"items"`

	// TargetUSD is the fiat amount the bundle was solved for.
	TargetUSD float64 `json:"targetUsd"`

	// TotalUSD is the effective value of the selected quantities. It is
	// TargetUSD plus Change.
	TotalUSD float64 `json:"totalUsd"`

	// Change is the surplus over the target produced by rounding the
	// final leg up to a whole unit. Zero for exact covers.
	Change float64 `json:"change"`

	// Discounts records vendor discount budget consumed per token.
	Discounts []DiscountConsumption `json:"discounts,omitempty"`

	// FrozenAt is when the bundle's prices were snapshotted.
	FrozenAt time.Time `json:"frozenAt"`
}

// ExternalFundsEvent is a normalized, already-verified funds notification
// delivered by the upstream webhook-handling layer. SourceReference is the
// idempotency key; re-delivery of the same reference is a safe no-op.
type ExternalFundsEvent struct {
	// PaymentID ties the event to a payment, if any. Empty for plain
	// deposits/top-ups.
	PaymentID PaymentID `json:"paymentId,omitempty"`

	// Wallet is the credited wallet.
	Wallet WalletAddress `json:"wallet"`

	// Cause is the cause the funds are directed to, if any.
	Cause CauseID `json:"cause,omitempty"`

	// AmountCents is the fiat amount in cents, as payment processors
	// deliver it. Must be positive.
	AmountCents int64 `json:"amountCents"`

	// SourceReference is the external event id (e.g. a checkout session
	// id) used for idempotency.
	SourceReference string `json:"sourceReference"`
}

// AmountUSD converts the event's cent amount to USD.
func (e ExternalFundsEvent) AmountUSD() float64 {
	return float64(e.AmountCents) / 100
}

// SigningInstruction is the exact debit the vault signer authorizes: the
// output of the bundle solver addressed to a destination vault.
type SigningInstruction struct {
	// Payment is the payment being settled.
	Payment PaymentID `json:"payment"`

	// Debited is the address whose holdings the bundle consumes.
	Debited string `json:"debited"`

	// Credited is the destination vault address.
	Credited string `json:"credited"`

	// Items are the frozen bundle legs, reused verbatim across retries.
	Items []BundleItem `json:"items"`
}

// SignedTransaction is a signing instruction bound to a vault signature and
// a nonce. It is immutable once produced; retries resubmit it verbatim.
type SignedTransaction struct {
	// Payload is the canonical JSON encoding of the signed instruction.
	Payload []byte `json:"payload"`

	// Signature is the hex-encoded signature over the payload digest.
	Signature string `json:"signature"`

	// Signer is the address of the vault key that produced the signature.
	Signer string `json:"signer"`

	// Nonce is the vault nonce assigned to this transaction. Nonces are
	// strictly increasing per vault.
	Nonce uint64 `json:"nonce"`

	// Hash is the transaction hash derived from payload and signature.
	Hash TxHash `json:"hash"`
}

// CentsToUSD converts an integer cent amount to USD.
func CentsToUSD(cents int64) float64 {
	return float64(cents) / 100
}

// USDToCents converts a USD amount to integer cents, truncating the way the
// upstream processors do.
func USDToCents(usd float64) int64 {
	return int64(usd * 100)
}

// QuantityToAtomic converts a human-readable token quantity to atomic units
// for the given number of decimals. Returns false when the quantity does
// not fit the decimal grid exactly.
func QuantityToAtomic(quantity float64, decimals uint8) (*big.Int, bool) {
	value := new(big.Float).SetFloat64(quantity)
	multiplier := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	value.Mul(value, multiplier)

	result, accuracy := value.Int(nil)
	return result, accuracy == big.Exact
}

// AtomicToQuantity converts atomic units back to a human-readable quantity.
func AtomicToQuantity(value *big.Int, decimals uint8) float64 {
	if value == nil {
		return 0
	}
	f := new(big.Float).SetInt(value)
	divisor := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	f.Quo(f, divisor)

	out, _ := f.Float64()
	return out
}
