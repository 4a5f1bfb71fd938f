package executor

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"time"

	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// TokenProvider generates short-lived bearer tokens for executor requests.
// It is immutable after construction and safe for concurrent use; the
// parsed signing key is cached to avoid repeated PEM parsing.
type TokenProvider struct {
	keyID      string
	privateKey *ecdsa.PrivateKey
	ttl        time.Duration
}

// requestClaims binds a token to one request method and path.
type requestClaims struct {
	*jwt.Claims
	URI string `json:"uri"`
}

// NewTokenProvider parses a PEM-encoded ECDSA private key and returns a
// provider issuing tokens valid for ttl.
func NewTokenProvider(keyID, keyPEM string, ttl time.Duration) (*TokenProvider, error) {
	if keyID == "" {
		return nil, fmt.Errorf("key id must not be empty")
	}

	block, _ := pem.Decode([]byte(keyPEM))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block: invalid PEM format")
	}

	privateKey, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		// Try PKCS8 before giving up.
		parsed, pkcs8Err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if pkcs8Err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		ecKey, ok := parsed.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("unsupported key type: expected ECDSA")
		}
		privateKey = ecKey
	}

	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &TokenProvider{keyID: keyID, privateKey: privateKey, ttl: ttl}, nil
}

// BearerToken returns a signed JWT authorizing one request.
func (p *TokenProvider) BearerToken(method, path string) (string, error) {
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.ES256, Key: p.privateKey},
		(&jose.SignerOptions{}).WithHeader("kid", p.keyID),
	)
	if err != nil {
		return "", fmt.Errorf("create signer: %w", err)
	}

	now := time.Now()
	claims := requestClaims{
		Claims: &jwt.Claims{
			Issuer:    p.keyID,
			Subject:   p.keyID,
			NotBefore: jwt.NewNumericDate(now),
			Expiry:    jwt.NewNumericDate(now.Add(p.ttl)),
		},
		URI: fmt.Sprintf("%s %s", method, path),
	}

	token, err := jwt.Signed(signer).Claims(claims).CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}
