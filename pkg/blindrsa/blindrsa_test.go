package blindrsa

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"errors"
	"testing"
)

// One 2048-bit key shared by the tests; RSA keygen is the slow part.
var testKey = mustGenerateKey()

func mustGenerateKey() *KeyPair {
	kp, err := GenerateKey(2048)
	if err != nil {
		panic(err)
	}
	return kp
}

func randomMessage(t *testing.T) []byte {
	t.Helper()
	msg := make([]byte, 32)
	if _, err := rand.Read(msg); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return msg
}

func TestBlindSignRoundTrip(t *testing.T) {
	pk := testKey.PublicKey()
	msg := randomMessage(t)

	res, err := pk.Blind(msg, DefaultOptions())
	if err != nil {
		t.Fatalf("blind: %v", err)
	}

	sig, err := testKey.BlindSign(&res.BlindedToken)
	if err != nil {
		t.Fatalf("blind sign: %v", err)
	}
	if sig.KeyID != pk.KeyID() {
		t.Fatalf("signature kid %q != public key kid %q", sig.KeyID, pk.KeyID())
	}

	tok, err := pk.Finalize(sig, res, msg)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := pk.Verify(tok); err != nil {
		t.Fatalf("verify: %v", err)
	}

	// transport round trip
	encoded, err := tok.EncodeBase64URL()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeAnonymousToken(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := pk.Verify(decoded); err != nil {
		t.Fatalf("verify after transport: %v", err)
	}
}

func TestVerifyRejectsMutations(t *testing.T) {
	pk := testKey.PublicKey()
	msg := randomMessage(t)

	res, err := pk.Blind(msg, DefaultOptions())
	if err != nil {
		t.Fatalf("blind: %v", err)
	}
	sig, err := testKey.BlindSign(&res.BlindedToken)
	if err != nil {
		t.Fatalf("blind sign: %v", err)
	}
	tok, err := pk.Finalize(sig, res, msg)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}

	mutate := func(mod func(*AnonymousToken)) *AnonymousToken {
		cp := *tok
		cp.Message = bytes.Clone(tok.Message)
		cp.Signature.Bytes = bytes.Clone(tok.Signature.Bytes)
		mod(&cp)
		return &cp
	}

	if err := pk.Verify(mutate(func(c *AnonymousToken) { c.Message[0] ^= 1 })); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("mutated message accepted: %v", err)
	}
	if err := pk.Verify(mutate(func(c *AnonymousToken) { c.Signature.Bytes[0] ^= 1 })); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("mutated signature accepted: %v", err)
	}
	if err := pk.Verify(mutate(func(c *AnonymousToken) { c.Randomizer[0] ^= 1 })); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("mutated randomizer accepted: %v", err)
	}
	if err := pk.Verify(mutate(func(c *AnonymousToken) { c.Signature.KeyID = "someone-else" })); !errors.Is(err, ErrKeyIDMismatch) {
		t.Errorf("kid mismatch not detected first: %v", err)
	}
}

func TestDeterministicOptions(t *testing.T) {
	pk := testKey.PublicKey()
	msg := randomMessage(t)

	opts := Options{Hash: Sha256, Deterministic: true}
	res, err := pk.Blind(msg, opts)
	if err != nil {
		t.Fatalf("blind: %v", err)
	}
	sig, err := testKey.BlindSign(&res.BlindedToken)
	if err != nil {
		t.Fatalf("blind sign: %v", err)
	}
	tok, err := pk.Finalize(sig, res, msg)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := pk.Verify(tok); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestOptionConstraints(t *testing.T) {
	pk := testKey.PublicKey()
	msg := randomMessage(t)

	salt := 48
	bad := Options{Hash: Sha384, Deterministic: true, SaltLen: &salt}
	if _, err := pk.Blind(msg, bad); !errors.Is(err, ErrInvalidOptions) {
		t.Errorf("deterministic with salt accepted: %v", err)
	}

	bad = Options{Hash: Sha384, Deterministic: false}
	if _, err := pk.Blind(msg, bad); !errors.Is(err, ErrInvalidOptions) {
		t.Errorf("probabilistic without salt accepted: %v", err)
	}

	bad = Options{Hash: "Md5", Deterministic: true}
	if _, err := pk.Blind(msg, bad); !errors.Is(err, ErrInvalidOptions) {
		t.Errorf("unknown hash accepted: %v", err)
	}
}

func TestJWKRoundTrip(t *testing.T) {
	pk := testKey.PublicKey()
	jwk := pk.JWK()
	if jwk.Kty != "RSA" {
		t.Fatalf("kty = %q", jwk.Kty)
	}
	if jwk.Kid != pk.KeyID() {
		t.Fatalf("jwk kid %q != %q", jwk.Kid, pk.KeyID())
	}

	raw, err := json.Marshal(jwk)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back JWK
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	imported, err := PublicKeyFromJWK(back)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !imported.Equal(pk) {
		t.Fatal("imported key differs from original")
	}
	if imported.KeyID() != pk.KeyID() {
		t.Fatal("kid changed across JWK round trip")
	}
}

func TestJWKRejectsTamperedKid(t *testing.T) {
	jwk := testKey.PublicKey().JWK()
	jwk.Kid = "tampered"
	if _, err := PublicKeyFromJWK(jwk); !errors.Is(err, ErrInvalidJwk) {
		t.Fatalf("tampered kid accepted: %v", err)
	}
}

func TestGenerateKeyRejectsOddSizes(t *testing.T) {
	if _, err := GenerateKey(1024); !errors.Is(err, ErrUnsupportedKeySize) {
		t.Fatalf("1024-bit key accepted: %v", err)
	}
}

func TestBlindSignRejectsWrongLength(t *testing.T) {
	bt := &BlindedToken{BlindMsg: []byte{1, 2, 3}, Opts: DefaultOptions()}
	if _, err := testKey.BlindSign(bt); !errors.Is(err, ErrInvalidBlindedMsg) {
		t.Fatalf("short blinded message accepted: %v", err)
	}
}
