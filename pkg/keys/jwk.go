package keys

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
)

// JWK is the subset of RFC 7517/7518 needed for the two supported key
// types, plus the kid stamped on export.
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
	Kid string `json:"kid,omitempty"`
}

// JWK exports the public key with its kid.
func (k *ValidationKey) JWK() JWK {
	switch k.alg {
	case ES256:
		return JWK{
			Kty: "EC",
			Crv: "P-256",
			X:   base64.RawURLEncoding.EncodeToString(k.ec.X.FillBytes(make([]byte, 32))),
			Y:   base64.RawURLEncoding.EncodeToString(k.ec.Y.FillBytes(make([]byte, 32))),
			Kid: k.KeyID(),
		}
	default:
		return JWK{
			Kty: "OKP",
			Crv: "Ed25519",
			X:   base64.RawURLEncoding.EncodeToString(k.ed),
			Kid: k.KeyID(),
		}
	}
}

// ValidationKeyFromJWK dispatches on kty+crv: EC/P-256 becomes ES256,
// OKP/Ed25519 becomes EdDSA. Anything else is rejected.
func ValidationKeyFromJWK(jwk JWK) (*ValidationKey, error) {
	switch {
	case jwk.Kty == "EC" && jwk.Crv == "P-256":
		x, err := base64.RawURLEncoding.DecodeString(jwk.X)
		if err != nil {
			return nil, fmt.Errorf("%w: bad x coordinate: %v", ErrInvalidJwk, err)
		}
		y, err := base64.RawURLEncoding.DecodeString(jwk.Y)
		if err != nil {
			return nil, fmt.Errorf("%w: bad y coordinate: %v", ErrInvalidJwk, err)
		}
		if len(x) != 32 || len(y) != 32 {
			return nil, fmt.Errorf("%w: P-256 coordinates must be 32 bytes", ErrInvalidJwk)
		}
		pub := &ecdsa.PublicKey{
			Curve: elliptic.P256(),
			X:     new(big.Int).SetBytes(x),
			Y:     new(big.Int).SetBytes(y),
		}
		if !pub.Curve.IsOnCurve(pub.X, pub.Y) {
			return nil, fmt.Errorf("%w: point is not on P-256", ErrInvalidJwk)
		}
		return &ValidationKey{alg: ES256, ec: pub}, nil

	case jwk.Kty == "OKP" && jwk.Crv == "Ed25519":
		x, err := base64.RawURLEncoding.DecodeString(jwk.X)
		if err != nil {
			return nil, fmt.Errorf("%w: bad x value: %v", ErrInvalidJwk, err)
		}
		if len(x) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("%w: Ed25519 key must be %d bytes", ErrInvalidJwk, ed25519.PublicKeySize)
		}
		return &ValidationKey{alg: EdDSA, ed: ed25519.PublicKey(x)}, nil

	default:
		return nil, fmt.Errorf("%w: unsupported kty %q crv %q", ErrInvalidJwk, jwk.Kty, jwk.Crv)
	}
}

// JwksResponse is the body served at /jwks and /blindjwks. Keys stay
// raw so the caller can dispatch on kty before committing to a type.
type JwksResponse struct {
	Keys []json.RawMessage `json:"keys"`
}

// RawKeyID extracts the kid of a raw JWK without parsing the rest.
func RawKeyID(raw json.RawMessage) (string, error) {
	var probe struct {
		Kid string `json:"kid"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidJwk, err)
	}
	return probe.Kid, nil
}
