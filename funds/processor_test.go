package funds

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	causepay "github.com/causepay/causepay-go"
	"github.com/causepay/causepay-go/curve"
	"github.com/causepay/causepay-go/ledger"
	"github.com/causepay/causepay-go/ledger/memory"
)

const (
	donor    = causepay.WalletAddress("wallet-donor")
	platform = causepay.WalletAddress("wallet-platform")
	reef     = causepay.TokenID("reef,1")
	oceans   = causepay.CauseID("cause-oceans")
)

type stubSigner struct {
	mu    sync.Mutex
	calls int
}

func (s *stubSigner) Sign(_ context.Context, _ causepay.VaultID, instr causepay.SigningInstruction) (*causepay.SignedTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return &causepay.SignedTransaction{
		Payload:   []byte(`{}`),
		Signature: "sig",
		Nonce:     uint64(s.calls),
		Hash:      causepay.TxHash(fmt.Sprintf("hash-%d", s.calls)),
	}, nil
}

type stubSubmitter struct{ err error }

func (s *stubSubmitter) Submit(_ context.Context, tx *causepay.SignedTransaction) (causepay.TxHash, error) {
	if s.err != nil {
		return "", s.err
	}
	return tx.Hash, nil
}

func newProcessor(t *testing.T) (*Processor, *ledger.Ledger, *stubSigner) {
	t.Helper()

	tokens := causepay.NewStaticTokenCatalog(causepay.Token{
		ID: reef, Symbol: "REEF", Decimals: 6, Fractional: true,
		Curve: causepay.CurveParams{BasePrice: 0.01, Slope: 0.0000001},
	})
	causes := causepay.NewStaticCauseCatalog(causepay.Cause{
		ID: oceans, Name: "Save the Oceans", Token: reef, VaultAddress: "oceans-vault-address",
	})

	engine, err := curve.New(tokens)
	require.NoError(t, err)

	led := ledger.New(memory.NewStore())
	signer := &stubSigner{}
	p := NewProcessor(engine, led, tokens, causes, signer, &stubSubmitter{}, "custody-vault", platform)
	return p, led, signer
}

func depositEvent(cents int64, ref string) causepay.ExternalFundsEvent {
	return causepay.ExternalFundsEvent{
		Wallet:          donor,
		Cause:           oceans,
		AmountCents:     cents,
		SourceReference: ref,
	}
}

func TestProcess(t *testing.T) {
	ctx := context.Background()

	t.Run("mints depositor and platform fee tokens", func(t *testing.T) {
		p, led, _ := newProcessor(t)

		receipt, err := p.Process(ctx, depositEvent(100, "evt_1"))
		require.NoError(t, err)
		require.False(t, receipt.Duplicate)
		require.Equal(t, reef, receipt.Token)
		require.InDelta(t, 1.0, receipt.AmountUSD, 1e-9)

		// $1 at $0.01 base mints just under 100 units, the curve average
		// price being slightly above the base.
		require.InDelta(t, 99.95, receipt.TokensMinted, 0.01)

		// The fee tops the mint up so the platform share is 5% of the whole.
		total := receipt.TokensMinted + receipt.PlatformFeeTokens
		require.InDelta(t, 0.05, receipt.PlatformFeeTokens/total, 1e-9)
		require.NotEmpty(t, receipt.TxHash)

		balance, err := led.Balance(ctx, donor, reef)
		require.NoError(t, err)
		require.InDelta(t, receipt.TokensMinted, balance, 1e-9)
		balance, err = led.Balance(ctx, platform, reef)
		require.NoError(t, err)
		require.InDelta(t, receipt.PlatformFeeTokens, balance, 1e-9)

		raised, err := led.RaisedByCause(ctx, oceans)
		require.NoError(t, err)
		require.InDelta(t, 1.0, raised, 1e-9)
	})

	t.Run("redelivered event mints nothing", func(t *testing.T) {
		p, led, signer := newProcessor(t)

		first, err := p.Process(ctx, depositEvent(100, "evt_dup"))
		require.NoError(t, err)
		again, err := p.Process(ctx, depositEvent(100, "evt_dup"))
		require.NoError(t, err)
		require.True(t, again.Duplicate)
		require.Zero(t, again.TokensMinted)
		require.Equal(t, 1, signer.calls)

		balance, err := led.Balance(ctx, donor, reef)
		require.NoError(t, err)
		require.InDelta(t, first.TokensMinted, balance, 1e-9)
	})

	t.Run("minting raises the price for the next deposit", func(t *testing.T) {
		p, _, _ := newProcessor(t)

		first, err := p.Process(ctx, depositEvent(10000, "evt_a"))
		require.NoError(t, err)
		second, err := p.Process(ctx, depositEvent(10000, "evt_b"))
		require.NoError(t, err)

		require.Less(t, second.TokensMinted, first.TokensMinted)

		total := first.TokensMinted + first.PlatformFeeTokens +
			second.TokensMinted + second.PlatformFeeTokens
		require.InDelta(t, total, p.MintedSince(reef), 1e-6)
	})

	t.Run("validation", func(t *testing.T) {
		p, _, _ := newProcessor(t)

		_, err := p.Process(ctx, depositEvent(0, "evt_zero"))
		require.ErrorIs(t, err, causepay.ErrValidation)

		bad := depositEvent(100, "evt_cause")
		bad.Cause = "cause-nonexistent"
		_, err = p.Process(ctx, bad)
		require.ErrorIs(t, err, causepay.ErrValidation)

		bad = depositEvent(100, "evt_wallet")
		bad.Wallet = ""
		_, err = p.Process(ctx, bad)
		require.ErrorIs(t, err, causepay.ErrValidation)
	})
}
