package circle

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var errNoEntitySecret = errors.New("entity secret is not configured")

// entitySecretCipher produces a fresh entitySecretCiphertext for every mutating W3S call.
// The entity public key is fetched once and cached.
type entitySecretCipher struct {
	secret      string
	fetchPubKey func(ctx context.Context) (string, error)

	mu     sync.Mutex
	pubKey *rsa.PublicKey
}

func newEntitySecretCipher(secret string, fetch func(ctx context.Context) (string, error)) *entitySecretCipher {
	return &entitySecretCipher{
		secret:      strings.TrimSpace(secret),
		fetchPubKey: fetch,
	}
}

// Ciphertext returns base64(RSA-OAEP-SHA256(entitySecret)). OAEP is randomized,
// so Circle never sees the same ciphertext twice.
func (e *entitySecretCipher) Ciphertext(ctx context.Context) (string, error) {
	if e.secret == "" {
		return "", errNoEntitySecret
	}

	secret, err := hex.DecodeString(strings.TrimPrefix(e.secret, "0x"))
	if err != nil {
		return "", fmt.Errorf("entity secret must be hex: %w", err)
	}
	if len(secret) != 32 {
		return "", fmt.Errorf("entity secret must be 32 bytes, got %d", len(secret))
	}

	pub, err := e.publicKey(ctx)
	if err != nil {
		return "", err
	}

	encrypted, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, secret, nil)
	if err != nil {
		return "", fmt.Errorf("encrypt entity secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(encrypted), nil
}

func (e *entitySecretCipher) publicKey(ctx context.Context) (*rsa.PublicKey, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pubKey != nil {
		return e.pubKey, nil
	}

	raw, err := e.fetchPubKey(ctx)
	if err != nil {
		return nil, err
	}
	pub, err := parseRSAPublicKey(raw)
	if err != nil {
		return nil, err
	}
	e.pubKey = pub
	return pub, nil
}

// parseRSAPublicKey accepts PKIX or PKCS#1 PEM blocks
func parseRSAPublicKey(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("entity public key is not PEM encoded")
	}

	if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("entity public key is not RSA")
		}
		return rsaKey, nil
	}

	key, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse entity public key: %w", err)
	}
	return key, nil
}
