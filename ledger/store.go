package ledger

import (
	"context"
	"errors"

	causepay "github.com/causepay/causepay-go"
)

// Store-level errors returned by Store implementations.
var (
	// ErrSourceReferenceExists indicates an entry with the same source
	// reference was already appended. The Ledger maps this to a no-op.
	ErrSourceReferenceExists = errors.New("ledger: source reference already recorded")
)

// Store persists ledger entries. Append must be atomic: the entry and the
// owning wallet's balance update become visible together or not at all, and
// a duplicate source reference must fail with ErrSourceReferenceExists
// without side effects. Implementations must be safe for concurrent use;
// appends for different wallets may proceed in parallel.
type Store interface {
	// Append writes an immutable entry and applies its balance effect.
	Append(ctx context.Context, e Entry) error

	// History returns all entries for a wallet in insertion order.
	History(ctx context.Context, wallet causepay.WalletAddress) ([]Entry, error)

	// Balance returns the cached token balance for a wallet. Missing
	// wallets and tokens read as zero.
	Balance(ctx context.Context, wallet causepay.WalletAddress, token causepay.TokenID) (float64, error)

	// RaisedByCause returns the cumulative fiat amount recorded against a
	// cause.
	RaisedByCause(ctx context.Context, cause causepay.CauseID) (float64, error)
}
