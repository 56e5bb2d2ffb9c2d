package blindrsa

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
)

var ErrInvalidJwk = errors.New("blindrsa: invalid jwk")

// Bytes marshals as a base64url (no padding) JSON string.
type Bytes []byte

func (b Bytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(base64.RawURLEncoding.EncodeToString(b))
}

func (b *Bytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return err
	}
	*b = raw
	return nil
}

// BlindedToken is what the client sends to the signer: the blinded
// message and the options the signature must honor.
type BlindedToken struct {
	BlindMsg Bytes   `json:"blind_msg"`
	Opts     Options `json:"blind_opts"`
}

// BlindSignature is the signer's response, stamped with the kid of the
// key that produced it.
type BlindSignature struct {
	Blind Bytes  `json:"blind_signature"`
	KeyID string `json:"key_id"`
}

// Signature is the unblinded signature inside an anonymous token.
type Signature struct {
	Bytes Bytes  `json:"bytes"`
	KeyID string `json:"key_id"`
}

// AnonymousToken is the final unlinkable tuple: the random message,
// the randomizer shared with verifiers, the signature and the options
// it was produced under.
type AnonymousToken struct {
	Message    Bytes     `json:"message"`
	Randomizer [32]byte  `json:"-"`
	Signature  Signature `json:"signature"`
	Options    Options   `json:"options"`
}

type anonymousTokenWire struct {
	Message    Bytes     `json:"message"`
	Randomizer Bytes     `json:"randomizer"`
	Signature  Signature `json:"signature"`
	Options    Options   `json:"options"`
}

func (t AnonymousToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(anonymousTokenWire{
		Message:    t.Message,
		Randomizer: t.Randomizer[:],
		Signature:  t.Signature,
		Options:    t.Options,
	})
}

func (t *AnonymousToken) UnmarshalJSON(data []byte) error {
	var w anonymousTokenWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if len(w.Randomizer) != RandomizerLen {
		return fmt.Errorf("blindrsa: randomizer must be %d bytes", RandomizerLen)
	}
	t.Message = w.Message
	copy(t.Randomizer[:], w.Randomizer)
	t.Signature = w.Signature
	t.Options = w.Options
	return nil
}

// EncodeBase64URL renders the token as base64url(JSON) for transport.
func (t *AnonymousToken) EncodeBase64URL() (string, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeAnonymousToken parses the base64url(JSON) transport form.
func DecodeAnonymousToken(s string) (*AnonymousToken, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	var tok AnonymousToken
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

// JWK is the RFC 7517 representation of the RSA public key, with kid
// derived from the PKCS#1 DER encoding.
type JWK struct {
	Kty string `json:"kty"`
	N   string `json:"n"`
	E   string `json:"e"`
	Kid string `json:"kid,omitempty"`
}

// JWK exports the public key.
func (pk *PublicKey) JWK() JWK {
	return JWK{
		Kty: "RSA",
		N:   base64.RawURLEncoding.EncodeToString(pk.key.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pk.key.E)).Bytes()),
		Kid: pk.KeyID(),
	}
}

// PublicKeyFromJWK imports an RSA public JWK. When the JWK carries a
// kid it must match the kid recomputed from the key material.
func PublicKeyFromJWK(jwk JWK) (*PublicKey, error) {
	if jwk.Kty != "RSA" {
		return nil, fmt.Errorf("%w: unsupported kty %q", ErrInvalidJwk, jwk.Kty)
	}
	nBytes, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("%w: bad modulus: %v", ErrInvalidJwk, err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("%w: bad exponent: %v", ErrInvalidJwk, err)
	}
	var e int
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	if e <= 1 {
		return nil, fmt.Errorf("%w: invalid exponent", ErrInvalidJwk)
	}
	pk := &PublicKey{key: &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}}
	if jwk.Kid != "" && jwk.Kid != pk.KeyID() {
		return nil, fmt.Errorf("%w: kid does not match key material", ErrInvalidJwk)
	}
	return pk, nil
}

// MarshalPKCS1DER exposes the DER encoding the kid is derived from.
func (pk *PublicKey) MarshalPKCS1DER() []byte {
	return x509.MarshalPKCS1PublicKey(pk.key)
}
