package submitter

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	causepay "github.com/causepay/causepay-go"
	"github.com/causepay/causepay-go/backoff"
	"github.com/causepay/causepay-go/executor"
)

// scriptedClient returns one canned response per Submit call, in order.
type scriptedClient struct {
	calls    int
	outcomes []*executor.SubmitOutcome
	errs     []error
}

func (c *scriptedClient) GetVault(context.Context, string) (*executor.VaultInfo, error) {
	return nil, errors.New("not implemented")
}

func (c *scriptedClient) GetNonce(context.Context, string) (uint64, error) {
	return 0, errors.New("not implemented")
}

func (c *scriptedClient) Submit(context.Context, *causepay.SignedTransaction) (*executor.SubmitOutcome, error) {
	i := c.calls
	c.calls++
	if i >= len(c.outcomes) {
		i = len(c.outcomes) - 1
	}
	return c.outcomes[i], c.errs[i]
}

func fastPolicy() backoff.Policy {
	return backoff.Policy{
		MaxAttempts: 3,
		Initial:     time.Millisecond,
		Max:         5 * time.Millisecond,
		Factor:      2.0,
	}
}

func signedTx() *causepay.SignedTransaction {
	return &causepay.SignedTransaction{
		Payload:   []byte(`{"payment":"p1"}`),
		Signature: "abcd",
		Signer:    "vault-address",
		Nonce:     3,
		Hash:      "deadbeef",
	}
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds after a transient failure", func(t *testing.T) {
		client := &scriptedClient{
			outcomes: []*executor.SubmitOutcome{nil, {TxHash: "feedface"}},
			errs:     []error{&executor.SubmitError{Transient: true, StatusCode: http.StatusServiceUnavailable}, nil},
		}

		hash, err := New(client, WithPolicy(fastPolicy())).Submit(ctx, signedTx())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if hash != "feedface" {
			t.Errorf("expected hash feedface, got %s", hash)
		}
		if client.calls != 2 {
			t.Errorf("expected 2 attempts, got %d", client.calls)
		}
	})

	t.Run("permanent failure is not retried", func(t *testing.T) {
		client := &scriptedClient{
			outcomes: []*executor.SubmitOutcome{nil},
			errs:     []error{&executor.SubmitError{StatusCode: http.StatusUnprocessableEntity, Message: "invalid signature"}},
		}

		_, err := New(client, WithPolicy(fastPolicy())).Submit(ctx, signedTx())
		if !errors.Is(err, causepay.ErrSubmitFailed) {
			t.Fatalf("expected ErrSubmitFailed, got %v", err)
		}
		if client.calls != 1 {
			t.Errorf("expected 1 attempt, got %d", client.calls)
		}
	})

	t.Run("gives up after the attempt ceiling", func(t *testing.T) {
		transient := &executor.SubmitError{Transient: true, StatusCode: http.StatusBadGateway}
		client := &scriptedClient{
			outcomes: []*executor.SubmitOutcome{nil},
			errs:     []error{transient},
		}

		_, err := New(client, WithPolicy(fastPolicy())).Submit(ctx, signedTx())
		if !errors.Is(err, causepay.ErrSubmitFailed) {
			t.Fatalf("expected ErrSubmitFailed, got %v", err)
		}
		if client.calls != 3 {
			t.Errorf("expected 3 attempts, got %d", client.calls)
		}
	})

	t.Run("already-known counts as success", func(t *testing.T) {
		client := &scriptedClient{
			outcomes: []*executor.SubmitOutcome{{TxHash: "deadbeef", AlreadyKnown: true}},
			errs:     []error{nil},
		}

		hash, err := New(client, WithPolicy(fastPolicy())).Submit(ctx, signedTx())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if hash != "deadbeef" {
			t.Errorf("expected original hash, got %s", hash)
		}
	})
}
