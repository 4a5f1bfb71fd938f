package causepay

import (
	"errors"
	"fmt"
)

// Standard causepay error definitions

var (
	// ErrInvalidCurveConfig indicates bonding-curve parameters that would
	// violate price monotonicity.
	ErrInvalidCurveConfig = errors.New("causepay: invalid bonding curve configuration")

	// ErrValidation indicates a malformed request (non-positive amount,
	// unknown token or cause). No state is changed.
	ErrValidation = errors.New("causepay: validation failed")

	// ErrInsufficientFunds indicates the wallet's holdings cannot cover
	// the target amount.
	ErrInsufficientFunds = errors.New("causepay: insufficient funds")

	// ErrDuplicateDeposit indicates a deposit whose source reference is
	// already recorded. Callers treat this as a successful no-op.
	ErrDuplicateDeposit = errors.New("causepay: duplicate deposit")

	// ErrVaultNotFound indicates an unconfigured vault id.
	ErrVaultNotFound = errors.New("causepay: vault not found")

	// ErrVaultLocked indicates an attempt to sign with an administratively
	// locked vault.
	ErrVaultLocked = errors.New("causepay: vault locked")

	// ErrSigningFailed indicates a cryptographic signing failure.
	ErrSigningFailed = errors.New("causepay: signing failed")

	// ErrInvalidKey indicates invalid vault key material.
	ErrInvalidKey = errors.New("causepay: invalid private key")

	// ErrInvalidKeystore indicates an invalid or corrupted key file.
	ErrInvalidKeystore = errors.New("causepay: invalid keystore file")

	// ErrInvalidMnemonic indicates an invalid BIP39 mnemonic phrase.
	ErrInvalidMnemonic = errors.New("causepay: invalid mnemonic phrase")

	// ErrPaymentNotFound indicates an unknown payment id.
	ErrPaymentNotFound = errors.New("causepay: payment not found")

	// ErrInvalidTransition indicates a payment state transition the state
	// machine does not permit.
	ErrInvalidTransition = errors.New("causepay: invalid payment state transition")

	// ErrPaymentExpired indicates a quote or bundle past its validity
	// window.
	ErrPaymentExpired = errors.New("causepay: payment expired")

	// ErrSupplementInFlight indicates a concurrent supplement call for the
	// same payment; bundling is serialized per payment.
	ErrSupplementInFlight = errors.New("causepay: supplement already in flight")

	// ErrSubmitFailed indicates chain submission failed after the bounded
	// retry budget was exhausted.
	ErrSubmitFailed = errors.New("causepay: transaction submission failed")

	// ErrExecutorUnavailable indicates the blockchain executor could not
	// be reached.
	ErrExecutorUnavailable = errors.New("causepay: executor unavailable")
)

// ErrorCode represents causepay error codes for programmatic handling.
type ErrorCode string

const (
	// ErrCodeValidation indicates a malformed request.
	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"

	// ErrCodeInsufficientFunds indicates holdings below the target.
	ErrCodeInsufficientFunds ErrorCode = "INSUFFICIENT_FUNDS"

	// ErrCodeVaultError indicates a vault custody or signing failure.
	ErrCodeVaultError ErrorCode = "VAULT_ERROR"

	// ErrCodeSubmitError indicates a chain submission failure.
	ErrCodeSubmitError ErrorCode = "SUBMIT_ERROR"

	// ErrCodePaymentState indicates an illegal payment state transition.
	ErrCodePaymentState ErrorCode = "PAYMENT_STATE"

	// ErrCodeNotFound indicates an unknown payment, token or cause.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
)

// Error provides structured error information for API surfaces.
type Error struct {
	// Code is the error code for programmatic handling.
	Code ErrorCode

	// Message is the human-readable error message.
	Message string

	// Details contains additional error context.
	Details map[string]interface{}

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// WithDetails adds additional context to the error.
// Lazily initializes the Details map if nil.
func (e *Error) WithDetails(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// InsufficientFundsError reports how far holdings fall short of the target
// so callers can prompt for a top-up.
type InsufficientFundsError struct {
	// TargetUSD is the fiat amount that was requested.
	TargetUSD float64

	// AvailableUSD is the maximum obtainable value across all holdings.
	AvailableUSD float64
}

// Shortfall returns the missing amount in USD.
func (e *InsufficientFundsError) Shortfall() float64 {
	return e.TargetUSD - e.AvailableUSD
}

// Error implements the error interface.
func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: portfolio value $%.2f < payment $%.2f", e.AvailableUSD, e.TargetUSD)
}

// Is reports errors.Is equivalence with ErrInsufficientFunds.
func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}
