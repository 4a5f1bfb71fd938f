package postgres

import (
	"context"
	"fmt"

	causepay "github.com/causepay/causepay-go"
	"github.com/causepay/causepay-go/ledger"
)

// DepositStore implements ledger.Store using PostgreSQL. Append runs in a
// single transaction so the entry and the balance update commit together.
type DepositStore struct {
	pool *Pool
}

// NewDepositStore creates a new DepositStore.
func NewDepositStore(pool *Pool) *DepositStore {
	return &DepositStore{pool: pool}
}

// Compile-time interface check.
var _ ledger.Store = (*DepositStore)(nil)

// Append implements ledger.Store.
func (s *DepositStore) Append(ctx context.Context, e ledger.Entry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO ledger_entries (
			id, wallet, kind, token, quantity, amount_usd, source_reference, cause, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		e.ID,
		string(e.Wallet),
		string(e.Kind),
		string(e.Token),
		e.Quantity,
		e.AmountUSD,
		e.SourceReference,
		string(e.Cause),
		e.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ledger.ErrSourceReferenceExists
		}
		return fmt.Errorf("insert ledger entry: %w", err)
	}

	if e.Token != "" {
		_, err = tx.Exec(ctx, `
			INSERT INTO wallet_balances (wallet, token, quantity)
			VALUES ($1, $2, $3)
			ON CONFLICT (wallet, token) DO UPDATE
			SET quantity = wallet_balances.quantity + EXCLUDED.quantity
		`,
			string(e.Wallet),
			string(e.Token),
			e.Quantity,
		)
		if err != nil {
			return fmt.Errorf("update wallet balance: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// History implements ledger.Store.
func (s *DepositStore) History(ctx context.Context, wallet causepay.WalletAddress) ([]ledger.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, wallet, kind, token, quantity, amount_usd, source_reference, cause, created_at
		FROM ledger_entries
		WHERE wallet = $1
		ORDER BY seq ASC
	`, string(wallet))
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var w, kind, token, cause string
		if err := rows.Scan(&e.ID, &w, &kind, &token, &e.Quantity, &e.AmountUSD, &e.SourceReference, &cause, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.Wallet = causepay.WalletAddress(w)
		e.Kind = ledger.EntryKind(kind)
		e.Token = causepay.TokenID(token)
		e.Cause = causepay.CauseID(cause)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

// Balance implements ledger.Store.
func (s *DepositStore) Balance(ctx context.Context, wallet causepay.WalletAddress, token causepay.TokenID) (float64, error) {
	var quantity float64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0)
		FROM wallet_balances
		WHERE wallet = $1 AND token = $2
	`, string(wallet), string(token)).Scan(&quantity)
	if err != nil {
		return 0, fmt.Errorf("query balance: %w", err)
	}
	return quantity, nil
}

// RaisedByCause implements ledger.Store.
func (s *DepositStore) RaisedByCause(ctx context.Context, cause causepay.CauseID) (float64, error) {
	var raised float64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_usd), 0)
		FROM ledger_entries
		WHERE cause = $1 AND amount_usd > 0
	`, string(cause)).Scan(&raised)
	if err != nil {
		return 0, fmt.Errorf("query raised by cause: %w", err)
	}
	return raised, nil
}
