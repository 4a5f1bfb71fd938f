// Package main generates vault key material for local development:
// ed25519 keys in env-variable and keygen-file form, and BIP39 mnemonics
// with their derived secp256k1 keys. Production vaults load keys from the
// environment; this tool only prepares those values.
package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"github.com/tyler-smith/go-bip39"

	"github.com/causepay/causepay-go/vault"
)

func main() {
	keyType := flag.String("type", "ed25519", "key type: ed25519 or secp256k1")
	outFile := flag.String("out", "", "write an ed25519 keygen JSON file to this path")
	accountIndex := flag.Uint("index", 0, "secp256k1 derivation account index")
	flag.Parse()

	var err error
	switch *keyType {
	case "ed25519":
		err = generateEd25519(*outFile)
	case "secp256k1":
		err = generateSecp256k1(uint32(*accountIndex))
	default:
		err = fmt.Errorf("unknown key type %q", *keyType)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "genkeys:", err)
		os.Exit(1)
	}
}

func generateEd25519(outFile string) error {
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return err
	}

	fmt.Println("type:        ed25519")
	fmt.Println("address:    ", key.PublicKey().String())
	fmt.Println("private key:", base58.Encode(key))
	fmt.Println()
	fmt.Println("export CAUSEPAY_VAULT_KEY=" + base58.Encode(key))

	if outFile == "" {
		return nil
	}
	values := make([]int, len(key))
	for i, b := range key {
		values[i] = int(b)
	}
	data, err := json.Marshal(values)
	if err != nil {
		return err
	}
	if err := os.WriteFile(outFile, data, 0o600); err != nil {
		return err
	}

	// Round-trip the file so a broken write is caught here, not at boot.
	if _, err := vault.Ed25519FromKeygenFile(outFile); err != nil {
		return fmt.Errorf("verify %s: %w", outFile, err)
	}
	fmt.Println("keygen file:", outFile)
	return nil
}

func generateSecp256k1(index uint32) error {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return err
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return err
	}

	key, err := vault.Secp256k1FromMnemonic(mnemonic, index)
	if err != nil {
		return err
	}
	// Re-derive the raw key only to print it; the vault API never exposes it.
	seed := bip39.NewSeed(mnemonic, "")
	raw, err := deriveForPrint(seed, index)
	if err != nil {
		return err
	}

	fmt.Println("type:       secp256k1")
	fmt.Println("mnemonic:  ", mnemonic)
	fmt.Println("path:       m/44'/60'/0'/0/" + fmt.Sprint(index))
	fmt.Println("address:   ", key.Address())
	fmt.Println()
	fmt.Println("export CAUSEPAY_VAULT_KEY=0x" + raw)
	return nil
}

func deriveForPrint(seed []byte, index uint32) (string, error) {
	key, err := vault.DeriveSecp256k1(seed, index)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(crypto.FromECDSA(key)), nil
}
