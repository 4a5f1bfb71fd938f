package vault

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"

	causepay "github.com/causepay/causepay-go"
)

// Custody is the single holder of vault key material, built once at
// startup and injected into the Signer. It is an explicit capability
// object, not ambient state: everything that can sign holds a *Custody.
type Custody struct {
	mu     sync.RWMutex
	vaults map[causepay.VaultID]*vaultState
}

// vaultState carries one vault's key and its signing serialization point.
type vaultState struct {
	key KeyMaterial

	// mu serializes signing for this vault; at most one sign is in
	// flight per vault so nonces are assigned strictly in order.
	mu sync.Mutex

	nonce      uint64
	nonceKnown bool
	locked     bool
}

// NewCustody creates an empty custody registry.
func NewCustody() *Custody {
	return &Custody{vaults: make(map[causepay.VaultID]*vaultState)}
}

// Register adds a vault. Registering the same id twice is a configuration
// error.
func (c *Custody) Register(id causepay.VaultID, key KeyMaterial) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.vaults[id]; exists {
		return fmt.Errorf("vault %s already registered", id)
	}
	c.vaults[id] = &vaultState{key: key}
	return nil
}

// Address returns a vault's public address.
func (c *Custody) Address(id causepay.VaultID) (string, error) {
	v, err := c.vault(id)
	if err != nil {
		return "", err
	}
	return v.key.Address(), nil
}

// VaultIDs lists the configured vault ids.
func (c *Custody) VaultIDs() []causepay.VaultID {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]causepay.VaultID, 0, len(c.vaults))
	for id := range c.vaults {
		out = append(out, id)
	}
	return out
}

// SetLocked administratively locks or unlocks a vault. Signing against a
// locked vault fails with ErrVaultLocked.
func (c *Custody) SetLocked(id causepay.VaultID, locked bool) error {
	v, err := c.vault(id)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.locked = locked
	return nil
}

func (c *Custody) vault(id causepay.VaultID) (*vaultState, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.vaults[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", causepay.ErrVaultNotFound, id)
	}
	return v, nil
}

// NonceSource seeds a vault's nonce from the chain on first use.
type NonceSource interface {
	GetNonce(ctx context.Context, address string) (uint64, error)
}

// Signer produces signed transactions from bundle instructions. Signing is
// strictly serialized per vault: the per-vault lock is held across nonce
// assignment and signature production, so two concurrent signs against the
// same vault can never observe the same nonce. Different vaults sign in
// parallel.
type Signer struct {
	custody *Custody
	nonces  NonceSource
	logger  *slog.Logger
}

// SignerOption configures a Signer.
type SignerOption func(*Signer)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) SignerOption {
	return func(s *Signer) { s.logger = logger }
}

// NewSigner creates a Signer over the given custody and nonce source.
func NewSigner(custody *Custody, nonces NonceSource, opts ...SignerOption) *Signer {
	s := &Signer{
		custody: custody,
		nonces:  nonces,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// signedPayload is the canonical structure the vault key signs.
type signedPayload struct {
	causepay.SigningInstruction
	NewNonce uint64 `json:"newNonce"`
	Signer   string `json:"signer"`
}

// Sign authorizes an instruction with the vault's key and the next nonce.
//
// The vault's nonce is seeded from the executor on first use and then
// assigned locally and monotonically; the executor rejects replays by
// nonce. The returned transaction is immutable: retries must resubmit it
// verbatim rather than re-sign.
func (s *Signer) Sign(ctx context.Context, id causepay.VaultID, instr causepay.SigningInstruction) (*causepay.SignedTransaction, error) {
	v, err := s.custody.vault(id)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.locked {
		return nil, fmt.Errorf("%w: %s", causepay.ErrVaultLocked, id)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	address := v.key.Address()
	if !v.nonceKnown {
		onchain, err := s.nonces.GetNonce(ctx, address)
		if err != nil {
			return nil, fmt.Errorf("seed nonce for vault %s: %w", id, err)
		}
		v.nonce = onchain
		v.nonceKnown = true
	}
	newNonce := v.nonce + 1

	if instr.Debited == "" {
		instr.Debited = address
	}

	payload, err := json.Marshal(signedPayload{
		SigningInstruction: instr,
		NewNonce:           newNonce,
		Signer:             address,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encode payload: %v", causepay.ErrSigningFailed, err)
	}

	sig, err := v.key.sign(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", causepay.ErrSigningFailed, err)
	}

	// The nonce is consumed only after signing succeeded.
	v.nonce = newNonce

	tx := &causepay.SignedTransaction{
		Payload:   payload,
		Signature: hex.EncodeToString(sig),
		Signer:    address,
		Nonce:     newNonce,
		Hash:      causepay.TxHash(hex.EncodeToString(crypto.Keccak256(payload, sig))),
	}

	s.logger.Info("transaction signed",
		"vault", string(id),
		"payment", string(instr.Payment),
		"nonce", newNonce,
		"hash", string(tx.Hash))
	return tx, nil
}
