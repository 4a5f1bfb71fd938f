package curve

import (
	"errors"
	"math"
	"testing"

	causepay "github.com/causepay/causepay-go"
)

func testToken(base, slope, supply float64) causepay.Token {
	return causepay.Token{
		ID:     "tok,1",
		Symbol: "TOK",
		Curve:  causepay.CurveParams{BasePrice: base, Slope: slope},
		Supply: supply,
	}
}

func newEngine(t *testing.T, tokens ...causepay.Token) *Engine {
	t.Helper()
	e, err := New(causepay.NewStaticTokenCatalog(tokens...))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return e
}

func TestNew(t *testing.T) {
	t.Run("accepts monotonic curves", func(t *testing.T) {
		if _, err := New(causepay.NewStaticTokenCatalog(testToken(0.01, 0.0000001, 0))); err != nil {
			t.Errorf("expected no error, got %v", err)
		}
	})

	t.Run("rejects negative slope", func(t *testing.T) {
		_, err := New(causepay.NewStaticTokenCatalog(testToken(0.01, -0.1, 0)))
		if !errors.Is(err, causepay.ErrInvalidCurveConfig) {
			t.Errorf("expected ErrInvalidCurveConfig, got %v", err)
		}
	})

	t.Run("rejects non-positive base price", func(t *testing.T) {
		_, err := New(causepay.NewStaticTokenCatalog(testToken(0, 0.1, 0)))
		if !errors.Is(err, causepay.ErrInvalidCurveConfig) {
			t.Errorf("expected ErrInvalidCurveConfig, got %v", err)
		}
	})

	t.Run("rejects NaN parameters", func(t *testing.T) {
		_, err := New(causepay.NewStaticTokenCatalog(testToken(math.NaN(), 0, 0)))
		if !errors.Is(err, causepay.ErrInvalidCurveConfig) {
			t.Errorf("expected ErrInvalidCurveConfig, got %v", err)
		}
	})
}

func TestPrice(t *testing.T) {
	tok := testToken(0.01, 0.0000001, 0)
	e := newEngine(t, tok)

	t.Run("price at zero supply is the base price", func(t *testing.T) {
		if got := e.Price(tok, 0); got != 0.01 {
			t.Errorf("expected 0.01, got %v", got)
		}
	})

	t.Run("price rises with supply", func(t *testing.T) {
		if got := e.Price(tok, 1000); math.Abs(got-0.0101) > Epsilon {
			t.Errorf("expected 0.0101, got %v", got)
		}
		if got := e.Price(tok, 10000); math.Abs(got-0.011) > Epsilon {
			t.Errorf("expected 0.011, got %v", got)
		}
	})

	t.Run("monotonically non-decreasing", func(t *testing.T) {
		prev := e.Price(tok, 0)
		for delta := 1.0; delta <= 1e6; delta *= 10 {
			next := e.Price(tok, delta)
			if next < prev {
				t.Fatalf("price decreased from %v to %v at delta %v", prev, next, delta)
			}
			prev = next
		}
	})
}

func TestCost(t *testing.T) {
	tok := testToken(0.01, 0.0000001, 0)
	e := newEngine(t, tok)

	t.Run("zero or negative quantity costs nothing", func(t *testing.T) {
		if got := e.Cost(tok, 0); got != 0 {
			t.Errorf("expected 0, got %v", got)
		}
		if got := e.Cost(tok, -5); got != 0 {
			t.Errorf("expected 0, got %v", got)
		}
	})

	t.Run("additivity across split purchases", func(t *testing.T) {
		quantities := [][2]float64{{100, 200}, {1, 99999}, {50000, 50000}, {0.5, 0.25}}
		for _, q := range quantities {
			q1, q2 := q[0], q[1]

			whole := e.Cost(tok, q1+q2)

			shifted := tok
			shifted.Supply = tok.Supply + q1
			split := e.Cost(tok, q1) + e.Cost(shifted, q2)

			if math.Abs(whole-split) > Epsilon {
				t.Errorf("cost(%v+%v)=%v but split sum=%v", q1, q2, whole, split)
			}
		}
	})

	t.Run("additivity at nonzero starting supply", func(t *testing.T) {
		tok2 := testToken(0.01, 0.0000001, 123456)
		whole := e.Cost(tok2, 3000)

		shifted := tok2
		shifted.Supply += 1000
		split := e.Cost(tok2, 1000) + e.Cost(shifted, 2000)

		if math.Abs(whole-split) > Epsilon {
			t.Errorf("cost mismatch: whole=%v split=%v", whole, split)
		}
	})
}

func TestTokensForAmount(t *testing.T) {
	tok := testToken(0.01, 0.0000001, 0)
	e := newEngine(t, tok)

	t.Run("one dollar at starting price", func(t *testing.T) {
		// avg price over the range is 0.010005, so slightly under 100.
		got := e.TokensForAmount(tok, 1.0)
		if math.Abs(got-99.95) > 0.01 {
			t.Errorf("expected ~99.95 tokens, got %v", got)
		}
	})

	t.Run("ten dollars at starting price", func(t *testing.T) {
		got := e.TokensForAmount(tok, 10.0)
		if math.Abs(got-995.02) > 0.1 {
			t.Errorf("expected ~995.02 tokens, got %v", got)
		}
	})

	t.Run("inverse of cost within tolerance", func(t *testing.T) {
		amount := 25.0
		quantity := e.TokensForAmount(tok, amount)
		if math.Abs(e.Cost(tok, quantity)-amount) > 0.01 {
			t.Errorf("cost of %v tokens is %v, want ~%v", quantity, e.Cost(tok, quantity), amount)
		}
	})

	t.Run("non-positive amounts mint nothing", func(t *testing.T) {
		if got := e.TokensForAmount(tok, 0); got != 0 {
			t.Errorf("expected 0, got %v", got)
		}
	})
}

func TestConcurrentReads(t *testing.T) {
	tok := testToken(0.02, 0.000001, 5000)
	e := newEngine(t, tok)

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 1000; j++ {
				_ = e.Price(tok, float64(j))
				_ = e.Cost(tok, float64(j))
			}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
}
