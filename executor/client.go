// Package executor wraps the blockchain executor service: vault and nonce
// lookups and submission of signed transactions. Errors are classified into
// transient (retryable) and permanent so the submitter can apply its
// bounded backoff only where a retry can possibly help.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	causepay "github.com/causepay/causepay-go"
)

// ErrVaultUnknown indicates the executor has no vault at the address. A
// vault materializes on chain with its first credit; callers treat this as
// nonce zero, not as a failure.
var ErrVaultUnknown = errors.New("executor: vault unknown")

// SubmitError is a classified submission failure.
type SubmitError struct {
	// Transient reports whether a retry can possibly succeed (network
	// failures, executor 5xx). Permanent errors (invalid signature,
	// insufficient on-chain balance) must surface immediately.
	Transient bool

	// StatusCode is the HTTP status, 0 for transport errors.
	StatusCode int

	// Message is the executor's error body, truncated.
	Message string
}

// Error implements the error interface.
func (e *SubmitError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("executor submit failed (%s, status %d): %s", kind, e.StatusCode, e.Message)
}

// IsTransient reports whether err is a retryable submission failure.
func IsTransient(err error) bool {
	var submitErr *SubmitError
	return errors.As(err, &submitErr) && submitErr.Transient
}

// VaultInfo is the executor's view of an on-chain vault.
type VaultInfo struct {
	// Address is the vault's public address.
	Address string `json:"address"`

	// Nonce is the last nonce the executor accepted for the vault.
	Nonce uint64 `json:"nonce"`

	// Balances maps token id to the vault's on-chain balance.
	Balances map[string]float64 `json:"balances"`
}

// SubmitOutcome is the executor's response to a submission.
type SubmitOutcome struct {
	// TxHash is the transaction hash assigned by the executor.
	TxHash causepay.TxHash `json:"txHash"`

	// AlreadyKnown reports that the executor had already seen this
	// transaction; submission is idempotent and this still counts as
	// success.
	AlreadyKnown bool `json:"alreadyKnown,omitempty"`
}

// Client is the abstract executor used by the vault signer and the
// transaction submitter.
type Client interface {
	// GetVault fetches a vault. Returns ErrVaultUnknown for addresses the
	// executor has never seen.
	GetVault(ctx context.Context, address string) (*VaultInfo, error)

	// GetNonce returns the current nonce for a vault address. Unknown
	// vaults read as nonce zero.
	GetNonce(ctx context.Context, address string) (uint64, error)

	// Submit sends a signed transaction for execution. Resubmitting the
	// same transaction must not create a duplicate on-chain effect.
	Submit(ctx context.Context, tx *causepay.SignedTransaction) (*SubmitOutcome, error)
}

// HTTPClient talks to the executor over HTTP.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	auth    *TokenProvider
}

// Compile-time interface check.
var _ Client = (*HTTPClient)(nil)

// ClientOption configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) { c.client = client }
}

// WithAuth attaches a bearer-token provider; every request carries a fresh
// short-lived JWT.
func WithAuth(auth *TokenProvider) ClientOption {
	return func(c *HTTPClient) { c.auth = auth }
}

// NewHTTPClient creates a client for the executor at baseURL.
func NewHTTPClient(baseURL string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetVault implements Client.
func (c *HTTPClient) GetVault(ctx context.Context, address string) (*VaultInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/vaults/"+address, nil)
	if err != nil {
		return nil, err
	}
	if err := c.authorize(req); err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", causepay.ErrExecutorUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrVaultUnknown
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: get vault returned status %d", causepay.ErrExecutorUnavailable, resp.StatusCode)
	}

	var info VaultInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode vault response: %w", err)
	}
	return &info, nil
}

// GetNonce implements Client.
func (c *HTTPClient) GetNonce(ctx context.Context, address string) (uint64, error) {
	info, err := c.GetVault(ctx, address)
	if errors.Is(err, ErrVaultUnknown) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return info.Nonce, nil
}

// Submit implements Client. HTTP 409 means the executor already knows the
// transaction (a replay rejected by nonce); that is success, not an error.
func (c *HTTPClient) Submit(ctx context.Context, tx *causepay.SignedTransaction) (*SubmitOutcome, error) {
	body, err := json.Marshal(tx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.authorize(req); err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &SubmitError{Transient: true, Message: err.Error()}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted:
		var outcome SubmitOutcome
		if err := json.NewDecoder(resp.Body).Decode(&outcome); err != nil {
			return nil, fmt.Errorf("decode submit response: %w", err)
		}
		if outcome.TxHash == "" {
			outcome.TxHash = tx.Hash
		}
		return &outcome, nil

	case resp.StatusCode == http.StatusConflict:
		return &SubmitOutcome{TxHash: tx.Hash, AlreadyKnown: true}, nil

	case resp.StatusCode >= 500:
		return nil, &SubmitError{
			Transient:  true,
			StatusCode: resp.StatusCode,
			Message:    readBody(resp.Body),
		}

	default:
		return nil, &SubmitError{
			Transient:  false,
			StatusCode: resp.StatusCode,
			Message:    readBody(resp.Body),
		}
	}
}

func (c *HTTPClient) authorize(req *http.Request) error {
	if c.auth == nil {
		return nil
	}
	token, err := c.auth.BearerToken(req.Method, req.URL.Path)
	if err != nil {
		return fmt.Errorf("generate bearer token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func readBody(r io.Reader) string {
	const limit = 512
	data, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return "unable to read error response"
	}
	return string(data)
}
