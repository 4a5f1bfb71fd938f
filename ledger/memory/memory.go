// Package memory provides an in-memory ledger.Store for tests and
// single-process deployments.
package memory

import (
	"context"
	"sync"

	causepay "github.com/causepay/causepay-go"
	"github.com/causepay/causepay-go/ledger"
)

// Store is an in-memory implementation of ledger.Store. A single mutex
// guards all state; Append is trivially atomic under it.
type Store struct {
	mu       sync.Mutex
	entries  []ledger.Entry
	refs     map[string]struct{}
	balances map[causepay.WalletAddress]map[causepay.TokenID]float64
	raised   map[causepay.CauseID]float64
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		refs:     make(map[string]struct{}),
		balances: make(map[causepay.WalletAddress]map[causepay.TokenID]float64),
		raised:   make(map[causepay.CauseID]float64),
	}
}

// Append implements ledger.Store.
func (s *Store) Append(_ context.Context, e ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.refs[e.SourceReference]; ok {
		return ledger.ErrSourceReferenceExists
	}
	s.refs[e.SourceReference] = struct{}{}
	s.entries = append(s.entries, e)

	if e.Token != "" {
		byToken, ok := s.balances[e.Wallet]
		if !ok {
			byToken = make(map[causepay.TokenID]float64)
			s.balances[e.Wallet] = byToken
		}
		byToken[e.Token] += e.Quantity
	}
	if e.Cause != "" && e.AmountUSD > 0 {
		s.raised[e.Cause] += e.AmountUSD
	}
	return nil
}

// History implements ledger.Store.
func (s *Store) History(_ context.Context, wallet causepay.WalletAddress) ([]ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ledger.Entry
	for _, e := range s.entries {
		if e.Wallet == wallet {
			out = append(out, e)
		}
	}
	return out, nil
}

// Balance implements ledger.Store.
func (s *Store) Balance(_ context.Context, wallet causepay.WalletAddress, token causepay.TokenID) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.balances[wallet][token], nil
}

// RaisedByCause implements ledger.Store.
func (s *Store) RaisedByCause(_ context.Context, cause causepay.CauseID) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.raised[cause], nil
}
