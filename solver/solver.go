// Package solver selects payment bundles: frozen sets of (token, quantity)
// pairs from a wallet's holdings that cover a target fiat amount at
// vendor-adjusted bonding-curve prices.
package solver

import (
	"fmt"
	"math"
	"sort"
	"time"

	causepay "github.com/causepay/causepay-go"
	"github.com/causepay/causepay-go/curve"
)

// Solver computes payment bundles. Solve is deterministic: identical
// holdings, valuations and target always yield an identical bundle.
type Solver struct {
	engine     *curve.Engine
	catalog    causepay.TokenCatalog
	valuations causepay.ValuationSource
	now        func() time.Time
}

// Option configures a Solver.
type Option func(*Solver)

// WithClock overrides the bundle freeze timestamp source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Solver) { s.now = now }
}

// New creates a Solver. valuations may be nil, in which case every token is
// priced at its neutral curve value.
func New(engine *curve.Engine, catalog causepay.TokenCatalog, valuations causepay.ValuationSource, opts ...Option) *Solver {
	s := &Solver{
		engine:     engine,
		catalog:    catalog,
		valuations: valuations,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// candidate is a holding priced at its vendor-effective unit value.
type candidate struct {
	token     causepay.Token
	balance   float64
	unitValue float64
	valuation causepay.Valuation
}

// Solve produces a bundle covering targetUSD from the wallet's holdings.
//
// Tokens are selected greedily in descending order of effective unit value
// (curve price x valuation multiplier x (1-discount)), ties broken by
// ascending token id. The final leg may be fractional only when the token
// supports fractional units; otherwise it is rounded up to a whole unit and
// the surplus is reported as Change. If the holdings cannot cover the
// target the result is an InsufficientFundsError carrying the shortfall.
//
// The returned bundle is a snapshot of the prices used to compute it; it
// must be re-solved after any supply-affecting event before reuse.
func (s *Solver) Solve(w causepay.Wallet, targetUSD float64) (*causepay.Bundle, error) {
	if targetUSD <= 0 || math.IsNaN(targetUSD) || math.IsInf(targetUSD, 0) {
		return nil, fmt.Errorf("%w: target amount must be positive", causepay.ErrValidation)
	}

	candidates := s.collect(w)

	var available float64
	for _, c := range candidates {
		available += c.balance * c.unitValue
	}
	if available < targetUSD-curve.Epsilon {
		return nil, &causepay.InsufficientFundsError{
			TargetUSD:    targetUSD,
			AvailableUSD: available,
		}
	}

	bundle := &causepay.Bundle{
		TargetUSD: targetUSD,
		FrozenAt:  s.now(),
	}

	remaining := targetUSD
	for _, c := range candidates {
		if remaining <= curve.Epsilon {
			break
		}

		legValue := c.balance * c.unitValue
		quantity := c.balance
		if legValue > remaining+curve.Epsilon {
			quantity = remaining / c.unitValue
			if !c.token.Fractional {
				quantity = math.Ceil(quantity - curve.Epsilon)
			}
			if quantity > c.balance {
				quantity = c.balance
			}
			legValue = quantity * c.unitValue
		}

		bundle.Items = append(bundle.Items, causepay.BundleItem{
			Token:     c.token.ID,
			Symbol:    c.token.Symbol,
			Quantity:  quantity,
			UnitValue: c.unitValue,
		})
		if c.valuation.Discount > 0 {
			bundle.Discounts = append(bundle.Discounts, causepay.DiscountConsumption{
				Token:     c.token.ID,
				Symbol:    c.token.Symbol,
				AmountUSD: quantity * s.engine.Price(c.token, 0) * c.valuation.Multiplier * c.valuation.Discount,
			})
		}

		bundle.TotalUSD += legValue
		remaining -= legValue
	}

	if remaining > curve.Epsilon {
		// Whole-unit rounding on a capped final leg can leave a gap even
		// though total value covers the target; surface it as a shortfall.
		return nil, &causepay.InsufficientFundsError{
			TargetUSD:    targetUSD,
			AvailableUSD: targetUSD - remaining,
		}
	}

	if remaining < 0 {
		bundle.Change = -remaining
	}
	return bundle, nil
}

// collect prices the wallet's nonzero holdings and orders them for greedy
// selection: descending effective unit value, ties by ascending token id.
func (s *Solver) collect(w causepay.Wallet) []candidate {
	out := make([]candidate, 0, len(w.Holdings))
	for id, balance := range w.Holdings {
		if balance <= 0 {
			continue
		}
		token, ok := s.catalog.Token(id)
		if !ok {
			// Holdings of tokens the catalog no longer knows cannot be
			// priced and are skipped.
			continue
		}

		valuation := causepay.NeutralValuation
		if s.valuations != nil {
			if v, ok := s.valuations.Valuation(w.Address, id); ok {
				valuation = v
			}
		}

		unitValue := s.engine.Price(token, 0) * valuation.Multiplier * (1 - valuation.Discount)
		if unitValue <= 0 {
			continue
		}

		out = append(out, candidate{
			token:     token,
			balance:   balance,
			unitValue: unitValue,
			valuation: valuation,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].unitValue != out[j].unitValue {
			return out[i].unitValue > out[j].unitValue
		}
		return out[i].token.ID < out[j].token.ID
	})
	return out
}
