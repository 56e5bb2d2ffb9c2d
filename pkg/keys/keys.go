// Package keys implements the asymmetric signing and validation keys
// behind id tokens. Two algorithms are supported, ES256 (NIST P-256
// ECDSA) and Ed25519, modeled as a closed variant; adding an algorithm
// is a code change, not configuration.
package keys

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
)

var (
	ErrUnsupportedKey = errors.New("unsupported key")
	ErrInvalidJwk     = errors.New("invalid jwk")
)

// Algorithm selects the signature scheme of a key pair.
type Algorithm string

const (
	ES256 Algorithm = "ES256"
	EdDSA Algorithm = "EdDSA"
)

// SigningKey is the private half used to mint id tokens.
type SigningKey struct {
	alg Algorithm
	ec  *ecdsa.PrivateKey
	ed  ed25519.PrivateKey
}

// ValidationKey is the public half used to verify id tokens.
type ValidationKey struct {
	alg Algorithm
	ec  *ecdsa.PublicKey
	ed  ed25519.PublicKey
}

// Algorithm reports the signature scheme of the key.
func (k *SigningKey) Algorithm() Algorithm { return k.alg }

func (k *ValidationKey) Algorithm() Algorithm { return k.alg }

// ParseSigningKeyPEM reads a PKCS#8 "PRIVATE KEY" block holding either
// a P-256 ECDSA key or an Ed25519 key.
func ParseSigningKeyPEM(pemStr string) (*SigningKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrUnsupportedKey)
	}
	if block.Type != "PRIVATE KEY" {
		return nil, fmt.Errorf("%w: expected PRIVATE KEY, got %s", ErrUnsupportedKey, block.Type)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedKey, err)
	}
	switch key := parsed.(type) {
	case *ecdsa.PrivateKey:
		if key.Curve != elliptic.P256() {
			return nil, fmt.Errorf("%w: unsupported curve %s", ErrUnsupportedKey, key.Curve.Params().Name)
		}
		return &SigningKey{alg: ES256, ec: key}, nil
	case ed25519.PrivateKey:
		return &SigningKey{alg: EdDSA, ed: key}, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, parsed)
	}
}

// ParseValidationKeyPEM reads an SPKI "PUBLIC KEY" block holding
// either a P-256 ECDSA key or an Ed25519 key.
func ParseValidationKeyPEM(pemStr string) (*ValidationKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrUnsupportedKey)
	}
	if block.Type != "PUBLIC KEY" {
		return nil, fmt.Errorf("%w: expected PUBLIC KEY, got %s", ErrUnsupportedKey, block.Type)
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedKey, err)
	}
	switch key := parsed.(type) {
	case *ecdsa.PublicKey:
		if key.Curve != elliptic.P256() {
			return nil, fmt.Errorf("%w: unsupported curve %s", ErrUnsupportedKey, key.Curve.Params().Name)
		}
		return &ValidationKey{alg: ES256, ec: key}, nil
	case ed25519.PublicKey:
		return &ValidationKey{alg: EdDSA, ed: key}, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, parsed)
	}
}

// ValidationKey derives the public verification key of a signing key.
func (k *SigningKey) ValidationKey() *ValidationKey {
	switch k.alg {
	case ES256:
		return &ValidationKey{alg: ES256, ec: &k.ec.PublicKey}
	default:
		return &ValidationKey{alg: EdDSA, ed: k.ed.Public().(ed25519.PublicKey)}
	}
}

// KeyID derives the deterministic key id: base64url (no padding) of
// SHA-256 over the compressed SEC1 point (ES256) or the raw 32-byte
// public key (Ed25519). Identical key material always yields an
// identical kid.
func (k *ValidationKey) KeyID() string {
	var raw []byte
	switch k.alg {
	case ES256:
		raw = elliptic.MarshalCompressed(elliptic.P256(), k.ec.X, k.ec.Y)
	default:
		raw = []byte(k.ed)
	}
	sum := sha256.Sum256(raw)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// cryptoKey exposes the material in the form golang-jwt expects.
func (k *SigningKey) cryptoKey() any {
	if k.alg == ES256 {
		return k.ec
	}
	return k.ed
}

func (k *ValidationKey) cryptoKey() any {
	if k.alg == ES256 {
		return k.ec
	}
	return k.ed
}
