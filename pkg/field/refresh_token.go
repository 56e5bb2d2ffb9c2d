package field

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
)

// RefreshTokenLen is the exact length of every refresh token.
const RefreshTokenLen = 256

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// RefreshToken is the opaque long-lived credential returned at login:
// exactly 256 alphanumeric characters.
type RefreshToken struct {
	value string
}

func NewRefreshToken(s string) (RefreshToken, error) {
	if len(s) != RefreshTokenLen {
		return RefreshToken{}, fmt.Errorf("%w: refresh token must be %d characters", ErrInvalidField, RefreshTokenLen)
	}
	for _, r := range s {
		if !isAlphanumeric(r) {
			return RefreshToken{}, fmt.Errorf("%w: refresh token must be alphanumeric", ErrInvalidField)
		}
	}
	return RefreshToken{value: s}, nil
}

// GenerateRefreshToken draws a fresh 256-character alphanumeric token
// from a cryptographic source.
func GenerateRefreshToken() (RefreshToken, error) {
	buf := make([]byte, RefreshTokenLen)
	max := big.NewInt(int64(len(alphanumeric)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return RefreshToken{}, err
		}
		buf[i] = alphanumeric[n.Int64()]
	}
	return RefreshToken{value: string(buf)}, nil
}

func isAlphanumeric(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}

func (t RefreshToken) String() string { return t.value }

func (t RefreshToken) MarshalJSON() ([]byte, error) { return json.Marshal(t.value) }

func (t *RefreshToken) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := NewRefreshToken(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// GenerateRandomPassword returns a fresh alphanumeric password of the
// given length, used when a user is created without a password.
func GenerateRandomPassword(length int) (Password, error) {
	buf := make([]byte, length)
	max := big.NewInt(int64(len(alphanumeric)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return Password{}, err
		}
		buf[i] = alphanumeric[n.Int64()]
	}
	return NewPassword(string(buf))
}
