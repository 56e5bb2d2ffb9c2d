package blindrsa

import (
	"crypto"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"errors"
	"fmt"
)

var ErrInvalidOptions = errors.New("invalid blind options")

// Hash names the digest used for message hashing, PSS encoding and
// MGF1. The wire names match the options carried in blinded tokens.
type Hash string

const (
	Sha256 Hash = "Sha256"
	Sha384 Hash = "Sha384"
	Sha512 Hash = "Sha512"
)

func (h Hash) cryptoHash() (crypto.Hash, error) {
	switch h {
	case Sha256:
		return crypto.SHA256, nil
	case Sha384:
		return crypto.SHA384, nil
	case Sha512:
		return crypto.SHA512, nil
	default:
		return 0, fmt.Errorf("%w: unknown hash %q", ErrInvalidOptions, h)
	}
}

// Options selects the PSS flavor of a blind signature. Constraints:
// deterministic implies no salt (salt_len absent, treated as zero);
// non-deterministic requires salt_len > 0.
type Options struct {
	Hash          Hash `json:"hash"`
	Deterministic bool `json:"deterministic"`
	SaltLen       *int `json:"salt_len,omitempty"`
}

// DefaultOptions is SHA-384, non-deterministic, salt length equal to
// the hash output size.
func DefaultOptions() Options {
	saltLen := crypto.SHA384.Size()
	return Options{Hash: Sha384, Deterministic: false, SaltLen: &saltLen}
}

// saltLength validates the deterministic/salt_len constraints and
// returns the effective salt length.
func (o Options) saltLength() (int, error) {
	if o.Deterministic {
		if o.SaltLen != nil && *o.SaltLen != 0 {
			return 0, fmt.Errorf("%w: salt_len must be absent for deterministic signatures", ErrInvalidOptions)
		}
		return 0, nil
	}
	if o.SaltLen == nil || *o.SaltLen <= 0 {
		return 0, fmt.Errorf("%w: salt_len must be positive for non-deterministic signatures", ErrInvalidOptions)
	}
	return *o.SaltLen, nil
}
