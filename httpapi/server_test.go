package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	causepay "github.com/causepay/causepay-go"
	"github.com/causepay/causepay-go/curve"
	"github.com/causepay/causepay-go/funds"
	"github.com/causepay/causepay-go/ledger"
	"github.com/causepay/causepay-go/ledger/memory"
	"github.com/causepay/causepay-go/payment"
	"github.com/causepay/causepay-go/solver"
	"github.com/causepay/causepay-go/vault"
)

const (
	wallet = "wallet-1"
	reef   = causepay.TokenID("reef,1")
	oceans = causepay.CauseID("cause-oceans")
)

type stubNonces struct{}

func (stubNonces) GetNonce(context.Context, string) (uint64, error) { return 0, nil }

type stubSubmitter struct{}

func (stubSubmitter) Submit(_ context.Context, tx *causepay.SignedTransaction) (causepay.TxHash, error) {
	return tx.Hash, nil
}

func newRouter(t *testing.T) (*gin.Engine, *ledger.Ledger) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tokens := causepay.NewStaticTokenCatalog(causepay.Token{
		ID: reef, Symbol: "REEF", Decimals: 6, Fractional: true,
		Curve: causepay.CurveParams{BasePrice: 2.0},
	})
	causes := causepay.NewStaticCauseCatalog(causepay.Cause{
		ID: oceans, Name: "Save the Oceans", Token: reef, VaultAddress: "oceans-vault-address",
	})

	engine, err := curve.New(tokens)
	require.NoError(t, err)

	led := ledger.New(memory.NewStore())

	key, err := vault.GenerateEd25519()
	require.NoError(t, err)
	custody := vault.NewCustody()
	require.NoError(t, custody.Register("custody-vault", key))
	signer := vault.NewSigner(custody, stubNonces{})

	payments := payment.NewService(
		engine, solver.New(engine, tokens, nil),
		signer, stubSubmitter{}, led, tokens, causes, "custody-vault")
	processor := funds.NewProcessor(
		engine, led, tokens, causes, signer, stubSubmitter{}, "custody-vault", "wallet-platform")

	return NewHandler(payments, processor, led, causes, custody, nil).Router(), led
}

func do(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func seedTokens(t *testing.T, led *ledger.Ledger, quantity float64) {
	t.Helper()
	applied, err := led.Record(context.Background(), ledger.Entry{
		Wallet:          wallet,
		Kind:            ledger.KindTokenDeposit,
		Token:           reef,
		Quantity:        quantity,
		SourceReference: "seed",
	})
	require.NoError(t, err)
	require.True(t, applied)
}

func TestPaymentRoutes(t *testing.T) {
	t.Run("create, supplement, confirm", func(t *testing.T) {
		router, led := newRouter(t)
		seedTokens(t, led, 10)

		rec := do(t, router, http.MethodPost, "/payments", gin.H{
			"wallet": wallet, "cause": string(oceans), "amountUsd": 10,
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		created := decode(t, rec)
		id := created["id"].(string)
		require.Equal(t, "quoted", created["state"])

		rec = do(t, router, http.MethodPost, "/payments/"+id+"/supplement", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		require.Equal(t, "bundled", decode(t, rec)["state"])

		rec = do(t, router, http.MethodPost, "/webhooks/funds", gin.H{
			"paymentId":       id,
			"wallet":          wallet,
			"amountCents":     1000,
			"sourceReference": "evt_confirm",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		require.Equal(t, "settled", decode(t, rec)["state"])

		rec = do(t, router, http.MethodGet, "/payments/"+id, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "settled", decode(t, rec)["state"])
	})

	t.Run("insufficient funds returns 402 with the shortfall", func(t *testing.T) {
		router, led := newRouter(t)
		seedTokens(t, led, 2)

		rec := do(t, router, http.MethodPost, "/payments", gin.H{
			"wallet": wallet, "amountUsd": 10,
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		id := decode(t, rec)["id"].(string)

		rec = do(t, router, http.MethodPost, "/payments/"+id+"/supplement", nil)
		require.Equal(t, http.StatusPaymentRequired, rec.Code)

		body := decode(t, rec)
		details := body["error"].(map[string]any)["details"].(map[string]any)
		require.InDelta(t, 6.0, details["shortfallUsd"].(float64), 1e-9)
	})

	t.Run("unknown payment returns 404", func(t *testing.T) {
		router, _ := newRouter(t)

		rec := do(t, router, http.MethodGet, "/payments/pay_missing", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed body returns 400", func(t *testing.T) {
		router, _ := newRouter(t)

		rec := do(t, router, http.MethodPost, "/payments", gin.H{"wallet": wallet})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestFundsWebhook(t *testing.T) {
	router, led := newRouter(t)

	rec := do(t, router, http.MethodPost, "/webhooks/funds", gin.H{
		"wallet":          wallet,
		"cause":           string(oceans),
		"amountCents":     500,
		"sourceReference": "evt_deposit",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	receipt := decode(t, rec)
	require.Greater(t, receipt["tokensMinted"].(float64), 0.0)

	balance, err := led.Balance(context.Background(), wallet, reef)
	require.NoError(t, err)
	require.Greater(t, balance, 0.0)
}

func TestReadRoutes(t *testing.T) {
	t.Run("causes include raised amounts", func(t *testing.T) {
		router, _ := newRouter(t)

		rec := do(t, router, http.MethodPost, "/webhooks/funds", gin.H{
			"wallet":          wallet,
			"cause":           string(oceans),
			"amountCents":     2500,
			"sourceReference": "evt_raised",
		})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = do(t, router, http.MethodGet, "/causes", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		causes := decode(t, rec)["causes"].([]any)
		require.Len(t, causes, 1)
		require.InDelta(t, 25.0, causes[0].(map[string]any)["raisedUsd"].(float64), 1e-9)
	})

	t.Run("wallet activity merges deposits and payments", func(t *testing.T) {
		router, led := newRouter(t)
		seedTokens(t, led, 10)

		rec := do(t, router, http.MethodPost, "/payments", gin.H{
			"wallet": wallet, "amountUsd": 5,
		})
		require.Equal(t, http.StatusCreated, rec.Code)

		rec = do(t, router, http.MethodGet, "/wallets/"+wallet+"/activity", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, decode(t, rec)["activity"].([]any), 2)
	})

	t.Run("vault listing exposes addresses only", func(t *testing.T) {
		router, _ := newRouter(t)

		rec := do(t, router, http.MethodGet, "/vaults", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		vaults := decode(t, rec)["vaults"].([]any)
		require.Len(t, vaults, 1)
		entry := vaults[0].(map[string]any)
		require.NotEmpty(t, entry["address"])
		require.NotContains(t, rec.Body.String(), "private")
	})
}
