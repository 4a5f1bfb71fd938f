// Package curve implements bonding-curve pricing for causepay tokens.
//
// Prices are a pure function of a token's curve parameters and its current
// minted supply: price(s) = base + slope*s. Costs over a quantity range use
// the closed-form integral of the linear curve, so partial purchases compose
// additively — a property the bundle solver relies on when it spreads a
// payment across tokens. The engine holds no state and is safe for
// concurrent use.
package curve

import (
	"fmt"
	"math"

	causepay "github.com/causepay/causepay-go"
)

// Epsilon is the rounding tolerance for cost additivity. Two cost
// computations over the same range agree to within this bound.
const Epsilon = 1e-6

// Engine evaluates bonding curves. Construct with New so that curve
// parameters are validated once, at startup, rather than per request.
type Engine struct {
	catalog causepay.TokenCatalog
}

// New creates an Engine over the given catalog. It validates every token's
// curve at construction time and fails fast with ErrInvalidCurveConfig if
// any curve would violate price monotonicity.
func New(catalog causepay.TokenCatalog) (*Engine, error) {
	for _, t := range catalog.Tokens() {
		if err := Validate(t.Curve); err != nil {
			return nil, fmt.Errorf("token %s: %w", t.ID, err)
		}
	}
	return &Engine{catalog: catalog}, nil
}

// Validate checks that curve parameters yield a monotonically
// non-decreasing price for any supply.
func Validate(p causepay.CurveParams) error {
	if math.IsNaN(p.BasePrice) || math.IsInf(p.BasePrice, 0) || p.BasePrice <= 0 {
		return fmt.Errorf("%w: base price must be positive", causepay.ErrInvalidCurveConfig)
	}
	if math.IsNaN(p.Slope) || math.IsInf(p.Slope, 0) || p.Slope < 0 {
		return fmt.Errorf("%w: slope must be non-negative", causepay.ErrInvalidCurveConfig)
	}
	return nil
}

// Price returns the marginal unit price of the token at its current supply
// plus the hypothetical delta being priced.
func (e *Engine) Price(token causepay.Token, supplyDelta float64) float64 {
	return token.Curve.BasePrice + token.Curve.Slope*(token.Supply+supplyDelta)
}

// Cost returns the fiat cost of minting quantity units starting at the
// token's current supply. For the linear curve this is the exact integral:
// quantity x average of the start and end marginal prices.
func (e *Engine) Cost(token causepay.Token, quantity float64) float64 {
	if quantity <= 0 {
		return 0
	}
	start := e.Price(token, 0)
	end := e.Price(token, quantity)
	return quantity * (start + end) / 2
}

// TokensForAmount returns how many units the given fiat amount mints at the
// token's current supply, using the average-price inversion. The result
// satisfies Cost(token, result) == amount to within Epsilon for curves with
// small slopes.
func (e *Engine) TokensForAmount(token causepay.Token, amountUSD float64) float64 {
	if amountUSD <= 0 {
		return 0
	}
	current := e.Price(token, 0)

	// First pass at the current marginal price, then refine against the
	// average of the start and end prices.
	estimate := amountUSD / current
	end := current + token.Curve.Slope*estimate
	avg := (current + end) / 2
	return amountUSD / avg
}
