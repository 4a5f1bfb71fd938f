// Package vault holds custodial signing keys and produces signed
// transactions for the blockchain executor. Key material lives only in
// process memory, loaded once at startup from environment secrets or
// local-development key files, and is never logged or serialized.
package vault

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"

	causepay "github.com/causepay/causepay-go"
)

// KeyKind is the signature scheme of a vault key.
type KeyKind string

const (
	// KindEd25519 vaults sign with ed25519 keys and base58 addresses.
	KindEd25519 KeyKind = "ed25519"

	// KindSecp256k1 vaults sign with secp256k1 keys and hex addresses.
	KindSecp256k1 KeyKind = "secp256k1"
)

// KeyMaterial is an opaque handle on a vault private key. The key itself
// is unexported and excluded from every serialization path.
type KeyMaterial struct {
	kind KeyKind
	ed   solana.PrivateKey
	ec   *ecdsa.PrivateKey
}

// Kind returns the key's signature scheme.
func (k KeyMaterial) Kind() KeyKind {
	return k.kind
}

// Address returns the public address for the key: base58 for ed25519,
// checksummed hex for secp256k1.
func (k KeyMaterial) Address() string {
	switch k.kind {
	case KindEd25519:
		return k.ed.PublicKey().String()
	case KindSecp256k1:
		return crypto.PubkeyToAddress(k.ec.PublicKey).Hex()
	default:
		return ""
	}
}

// String implements fmt.Stringer without exposing the key.
func (k KeyMaterial) String() string {
	return fmt.Sprintf("vault key %s (%s)", k.Address(), k.kind)
}

// MarshalJSON redacts the key material.
func (k KeyMaterial) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{
		"kind":    string(k.kind),
		"address": k.Address(),
	})
}

// sign produces a signature over payload: ed25519 signs the payload
// directly, secp256k1 signs its keccak digest.
func (k KeyMaterial) sign(payload []byte) ([]byte, error) {
	switch k.kind {
	case KindEd25519:
		sig, err := k.ed.Sign(payload)
		if err != nil {
			return nil, err
		}
		return sig[:], nil
	case KindSecp256k1:
		return crypto.Sign(crypto.Keccak256(payload), k.ec)
	default:
		return nil, fmt.Errorf("unknown key kind %q", k.kind)
	}
}

// Ed25519FromBase58 loads an ed25519 key from its base58 encoding.
func Ed25519FromBase58(encoded string) (KeyMaterial, error) {
	key, err := solana.PrivateKeyFromBase58(encoded)
	if err != nil {
		return KeyMaterial{}, fmt.Errorf("%w: %v", causepay.ErrInvalidKey, err)
	}
	return KeyMaterial{kind: KindEd25519, ed: key}, nil
}

// Ed25519FromKeygenFile loads an ed25519 key from a Solana-style keygen
// JSON file (a 64-element byte array). Development use only.
func Ed25519FromKeygenFile(path string) (KeyMaterial, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return KeyMaterial{}, fmt.Errorf("%w: %v", causepay.ErrInvalidKeystore, err)
	}

	var values []int
	if err := json.Unmarshal(data, &values); err != nil {
		return KeyMaterial{}, fmt.Errorf("%w: invalid JSON format", causepay.ErrInvalidKeystore)
	}
	if len(values) != 64 {
		return KeyMaterial{}, fmt.Errorf("%w: invalid key length", causepay.ErrInvalidKeystore)
	}

	keyBytes := make([]byte, len(values))
	for i, v := range values {
		if v < 0 || v > 255 {
			return KeyMaterial{}, fmt.Errorf("%w: byte value out of range", causepay.ErrInvalidKeystore)
		}
		keyBytes[i] = byte(v)
	}
	return KeyMaterial{kind: KindEd25519, ed: solana.PrivateKey(keyBytes)}, nil
}

// Secp256k1FromHex loads a secp256k1 key from a hex string.
func Secp256k1FromHex(hexKey string) (KeyMaterial, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")

	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return KeyMaterial{}, fmt.Errorf("%w: %v", causepay.ErrInvalidKey, err)
	}
	return KeyMaterial{kind: KindSecp256k1, ec: key}, nil
}

// Secp256k1FromMnemonic derives a secp256k1 key from a BIP39 mnemonic.
// Derivation path: m/44'/60'/0'/0/{accountIndex}.
func Secp256k1FromMnemonic(mnemonic string, accountIndex uint32) (KeyMaterial, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return KeyMaterial{}, causepay.ErrInvalidMnemonic
	}

	seed := bip39.NewSeed(mnemonic, "")
	key, err := DeriveSecp256k1(seed, accountIndex)
	if err != nil {
		return KeyMaterial{}, fmt.Errorf("%w: %v", causepay.ErrInvalidMnemonic, err)
	}
	return KeyMaterial{kind: KindSecp256k1, ec: key}, nil
}

// Secp256k1FromKeystore loads a secp256k1 key from an encrypted keystore
// file in the go-ethereum V3 format.
func Secp256k1FromKeystore(path, password string) (KeyMaterial, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return KeyMaterial{}, fmt.Errorf("%w: %v", causepay.ErrInvalidKeystore, err)
	}

	var keyJSON struct {
		Crypto keystore.CryptoJSON `json:"crypto"`
	}
	if err := json.Unmarshal(data, &keyJSON); err != nil {
		return KeyMaterial{}, fmt.Errorf("%w: invalid JSON format", causepay.ErrInvalidKeystore)
	}

	keyBytes, err := keystore.DecryptDataV3(keyJSON.Crypto, password)
	if err != nil {
		return KeyMaterial{}, fmt.Errorf("%w: decryption failed", causepay.ErrInvalidKeystore)
	}

	key, err := crypto.ToECDSA(keyBytes)
	if err != nil {
		return KeyMaterial{}, fmt.Errorf("%w: invalid private key", causepay.ErrInvalidKeystore)
	}
	return KeyMaterial{kind: KindSecp256k1, ec: key}, nil
}

// FromEnv loads a key from the named environment variable: base58 ed25519
// keys or hex secp256k1 keys, distinguished by the kind argument. This is
// the production path; key files are for local development.
func FromEnv(varName string, kind KeyKind) (KeyMaterial, error) {
	value, ok := os.LookupEnv(varName)
	if !ok || value == "" {
		return KeyMaterial{}, fmt.Errorf("%w: environment variable %s not set", causepay.ErrInvalidKey, varName)
	}

	switch kind {
	case KindEd25519:
		return Ed25519FromBase58(value)
	case KindSecp256k1:
		return Secp256k1FromHex(value)
	default:
		return KeyMaterial{}, fmt.Errorf("%w: unknown key kind %q", causepay.ErrInvalidKey, kind)
	}
}

// GenerateEd25519 creates a fresh ed25519 vault key.
func GenerateEd25519() (KeyMaterial, error) {
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return KeyMaterial{}, err
	}
	return KeyMaterial{kind: KindEd25519, ed: key}, nil
}

// DeriveSecp256k1 derives a secp256k1 key from a BIP39 seed along the
// BIP44 path m/44'/60'/0'/0/{index}. Key-generation tooling uses it
// directly; services should go through Secp256k1FromMnemonic.
func DeriveSecp256k1(seed []byte, index uint32) (*ecdsa.PrivateKey, error) {
	masterKey, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, err
	}

	key, err := masterKey.NewChildKey(bip32.FirstHardenedChild + 44)
	if err != nil {
		return nil, err
	}
	key, err = key.NewChildKey(bip32.FirstHardenedChild + 60)
	if err != nil {
		return nil, err
	}
	key, err = key.NewChildKey(bip32.FirstHardenedChild + 0)
	if err != nil {
		return nil, err
	}
	key, err = key.NewChildKey(0)
	if err != nil {
		return nil, err
	}
	key, err = key.NewChildKey(index)
	if err != nil {
		return nil, err
	}

	return crypto.ToECDSA(key.Key)
}
