// Package blindrsa implements RSA blind signatures (RSABSSA): the
// signer produces a valid PSS signature over a message it never sees,
// and the final (message, signature) pair cannot be linked back to the
// signing request. Both deterministic and probabilistic PSS flavors
// are supported with a pluggable hash.
package blindrsa

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
)

// DefaultKeyBits is the RSA modulus size used when none is configured.
const DefaultKeyBits = 2048

// RandomizerLen is the length of the message randomizer prepended to
// every message before hashing.
const RandomizerLen = 32

var (
	ErrKeyIDMismatch      = errors.New("blindrsa: key_id mismatch")
	ErrInvalidSignature   = errors.New("blindrsa: invalid signature")
	ErrInvalidBlindedMsg  = errors.New("blindrsa: invalid blinded message")
	ErrUnsupportedKeySize = errors.New("blindrsa: unsupported key size")
)

var bigOne = big.NewInt(1)

// KeyPair is the signer's RSA private key.
type KeyPair struct {
	key *rsa.PrivateKey
}

// PublicKey is the verification key distributed through blind JWKS.
type PublicKey struct {
	key *rsa.PublicKey
}

// GenerateKey creates a fresh RSA key pair. bits must be 2048 or 4096;
// zero selects DefaultKeyBits.
func GenerateKey(bits int) (*KeyPair, error) {
	if bits == 0 {
		bits = DefaultKeyBits
	}
	if bits != 2048 && bits != 4096 {
		return nil, fmt.Errorf("%w: %d bits", ErrUnsupportedKeySize, bits)
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, err
	}
	return &KeyPair{key: key}, nil
}

// ParsePrivateKeyPEM reads a PKCS#8 or PKCS#1 RSA private key, for
// deployments pinning a static key instead of rotating.
func ParsePrivateKeyPEM(pemStr string) (*KeyPair, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, errors.New("blindrsa: no PEM block found")
	}
	if parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		if key, ok := parsed.(*rsa.PrivateKey); ok {
			return &KeyPair{key: key}, nil
		}
		return nil, errors.New("blindrsa: not an RSA private key")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	return &KeyPair{key: key}, nil
}

// PublicKey exposes the verification half.
func (kp *KeyPair) PublicKey() *PublicKey {
	return &PublicKey{key: &kp.key.PublicKey}
}

// BlindSign signs a blinded message. The signer only ever sees the
// blinded bytes; nothing else from the request is logged or retained.
func (kp *KeyPair) BlindSign(bt *BlindedToken) (*BlindSignature, error) {
	k := kp.key.Size()
	if len(bt.BlindMsg) != k {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidBlindedMsg, k, len(bt.BlindMsg))
	}
	if _, err := bt.Opts.saltLength(); err != nil {
		return nil, err
	}

	z := new(big.Int).SetBytes(bt.BlindMsg)
	if z.Cmp(kp.key.N) >= 0 {
		return nil, ErrInvalidBlindedMsg
	}
	s := new(big.Int).Exp(z, kp.key.D, kp.key.N)

	return &BlindSignature{
		Blind: s.FillBytes(make([]byte, k)),
		KeyID: kp.PublicKey().KeyID(),
	}, nil
}

// KeyID is base64url (no padding) of SHA-256 over the PKCS#1 DER
// encoding of the public key.
func (pk *PublicKey) KeyID() string {
	der := x509.MarshalPKCS1PublicKey(pk.key)
	sum := sha256.Sum256(der)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Equal reports whether both keys hold the same modulus and exponent.
func (pk *PublicKey) Equal(other *PublicKey) bool {
	if pk == nil || other == nil {
		return pk == other
	}
	return pk.key.Equal(other.key)
}

// BlindResult is the client-side outcome of blinding a message. The
// secret must never be exposed to the signer; the randomizer is kept
// from the signer but shared with verifiers inside the anonymous token.
type BlindResult struct {
	BlindedToken BlindedToken
	// secret is the inverse of the blinding factor, needed to finalize.
	secret *big.Int
	// Randomizer is prepended to the message before hashing.
	Randomizer [RandomizerLen]byte
}

// Blind prepares a message for blind signing: prepend a fresh 32-byte
// randomizer, apply the EMSA-PSS encoding, then multiply by r^e for a
// random invertible r. The signer receives only the blinded integer.
func (pk *PublicKey) Blind(message []byte, opts Options) (*BlindResult, error) {
	ch, err := opts.Hash.cryptoHash()
	if err != nil {
		return nil, err
	}
	saltLen, err := opts.saltLength()
	if err != nil {
		return nil, err
	}

	var randomizer [RandomizerLen]byte
	if _, err := rand.Read(randomizer[:]); err != nil {
		return nil, err
	}

	em, err := encodeMessage(pk.key, ch, saltLen, randomizer, message)
	if err != nil {
		return nil, err
	}
	m := new(big.Int).SetBytes(em)
	if new(big.Int).GCD(nil, nil, m, pk.key.N).Cmp(bigOne) != 0 {
		return nil, errors.New("blindrsa: message is not invertible, retry")
	}

	r, rInv, err := blindingFactor(pk.key.N)
	if err != nil {
		return nil, err
	}

	e := big.NewInt(int64(pk.key.E))
	z := new(big.Int).Exp(r, e, pk.key.N)
	z.Mul(z, m)
	z.Mod(z, pk.key.N)

	return &BlindResult{
		BlindedToken: BlindedToken{
			BlindMsg: z.FillBytes(make([]byte, pk.key.Size())),
			Opts:     opts,
		},
		secret:     rInv,
		Randomizer: randomizer,
	}, nil
}

// Finalize unblinds the signature, verifies it against the original
// message and packages the result as an anonymous token.
func (pk *PublicKey) Finalize(sig *BlindSignature, res *BlindResult, message []byte) (*AnonymousToken, error) {
	k := pk.key.Size()
	if len(sig.Blind) != k {
		return nil, ErrInvalidSignature
	}

	z := new(big.Int).SetBytes(sig.Blind)
	s := z.Mul(z, res.secret)
	s.Mod(s, pk.key.N)
	final := s.FillBytes(make([]byte, k))

	tok := &AnonymousToken{
		Message:    message,
		Randomizer: res.Randomizer,
		Signature: Signature{
			Bytes: final,
			KeyID: sig.KeyID,
		},
		Options: res.BlindedToken.Opts,
	}
	if err := pk.Verify(tok); err != nil {
		return nil, err
	}
	return tok, nil
}

// Verify checks the anonymous token against this public key. The kid
// must match before any cryptographic verification is attempted.
func (pk *PublicKey) Verify(tok *AnonymousToken) error {
	if tok.Signature.KeyID != pk.KeyID() {
		return ErrKeyIDMismatch
	}
	ch, err := tok.Options.Hash.cryptoHash()
	if err != nil {
		return err
	}
	saltLen, err := tok.Options.saltLength()
	if err != nil {
		return err
	}

	hs := ch.New()
	hs.Write(tok.Randomizer[:])
	hs.Write(tok.Message)
	digest := hs.Sum(nil)

	pssOpts := &rsa.PSSOptions{SaltLength: saltLen, Hash: ch}
	if saltLen == 0 {
		// deterministic: the salt is empty, which auto-detection handles
		pssOpts.SaltLength = rsa.PSSSaltLengthAuto
	}
	if err := rsa.VerifyPSS(pk.key, ch, digest, tok.Signature.Bytes, pssOpts); err != nil {
		return ErrInvalidSignature
	}
	return nil
}

// encodeMessage hashes randomizer||message and applies EMSA-PSS.
func encodeMessage(key *rsa.PublicKey, ch crypto.Hash, saltLen int, randomizer [RandomizerLen]byte, message []byte) ([]byte, error) {
	hs := ch.New()
	hs.Write(randomizer[:])
	hs.Write(message)
	digest := hs.Sum(nil)

	salt := make([]byte, saltLen)
	if saltLen > 0 {
		if _, err := rand.Read(salt); err != nil {
			return nil, err
		}
	}
	return emsaPSSEncode(digest, key.N.BitLen()-1, salt, ch)
}

// blindingFactor draws a random r invertible mod n and returns r and
// its inverse.
func blindingFactor(n *big.Int) (r, rInv *big.Int, err error) {
	for {
		r, err = rand.Int(rand.Reader, n)
		if err != nil {
			return nil, nil, err
		}
		if r.Sign() == 0 {
			continue
		}
		rInv = new(big.Int).ModInverse(r, n)
		if rInv != nil {
			return r, rInv, nil
		}
	}
}
