// Package field defines the validated value types shared between the
// token server, the client library and the validator. Every type wraps
// a raw string (or bool) behind a constructor that enforces its
// predicate; JSON serialization is always the raw underlying value.
package field

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidField is wrapped by every constructor failure in this package.
var ErrInvalidField = errors.New("invalid field")

// Username identifies a user account. Must be non-empty.
type Username struct {
	value string
}

func NewUsername(s string) (Username, error) {
	if s == "" {
		return Username{}, fmt.Errorf("%w: username must be non-empty", ErrInvalidField)
	}
	return Username{value: s}, nil
}

func (u Username) String() string { return u.value }

func (u Username) MarshalJSON() ([]byte, error) { return json.Marshal(u.value) }

func (u *Username) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := NewUsername(s)
	if err != nil {
		return err
	}
	*u = v
	return nil
}

// ClientId identifies a client application allowed to connect to the
// token server; it is also what ends up in the aud claim.
type ClientId struct {
	value string
}

func NewClientId(s string) (ClientId, error) {
	if s == "" {
		return ClientId{}, fmt.Errorf("%w: client_id must be non-empty", ErrInvalidField)
	}
	return ClientId{value: s}, nil
}

func (c ClientId) String() string { return c.value }

func (c ClientId) MarshalJSON() ([]byte, error) { return json.Marshal(c.value) }

func (c *ClientId) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := NewClientId(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Issuer is the token issuer, an absolute http(s) URL such as
// "https://auth.example.com/v1.0".
type Issuer struct {
	value string
}

func NewIssuer(s string) (Issuer, error) {
	if s == "" {
		return Issuer{}, fmt.Errorf("%w: issuer must be non-empty", ErrInvalidField)
	}
	u, err := url.Parse(s)
	if err != nil {
		return Issuer{}, fmt.Errorf("%w: issuer is not a URL: %v", ErrInvalidField, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" || u.Opaque != "" {
		return Issuer{}, fmt.Errorf("%w: issuer must be an absolute http(s) URL", ErrInvalidField)
	}
	return Issuer{value: s}, nil
}

func (i Issuer) String() string { return i.value }

func (i Issuer) MarshalJSON() ([]byte, error) { return json.Marshal(i.value) }

func (i *Issuer) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := NewIssuer(s)
	if err != nil {
		return err
	}
	*i = v
	return nil
}

// SubscriberId identifies a user across tokens; generated as UUID v4
// at user creation. Non-empty.
type SubscriberId struct {
	value string
}

func NewSubscriberId(s string) (SubscriberId, error) {
	if s == "" {
		return SubscriberId{}, fmt.Errorf("%w: subscriber_id must be non-empty", ErrInvalidField)
	}
	return SubscriberId{value: s}, nil
}

func (s SubscriberId) String() string { return s.value }

func (s SubscriberId) MarshalJSON() ([]byte, error) { return json.Marshal(s.value) }

func (s *SubscriberId) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	v, err := NewSubscriberId(raw)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// IdToken is a compact JWT: three non-empty base64url segments joined
// with dots. The signature is not checked here.
type IdToken struct {
	value string
}

func NewIdToken(s string) (IdToken, error) {
	if s == "" {
		return IdToken{}, fmt.Errorf("%w: id_token must be non-empty", ErrInvalidField)
	}
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return IdToken{}, fmt.Errorf("%w: id_token must have three segments", ErrInvalidField)
	}
	for _, p := range parts {
		if p == "" {
			return IdToken{}, fmt.Errorf("%w: id_token has an empty segment", ErrInvalidField)
		}
	}
	return IdToken{value: s}, nil
}

func (t IdToken) String() string { return t.value }

func (t IdToken) MarshalJSON() ([]byte, error) { return json.Marshal(t.value) }

func (t *IdToken) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := NewIdToken(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Password is an opaque user secret. Non-empty; never logged.
type Password struct {
	value string
}

func NewPassword(s string) (Password, error) {
	if s == "" {
		return Password{}, fmt.Errorf("%w: password must be non-empty", ErrInvalidField)
	}
	return Password{value: s}, nil
}

func (p Password) String() string { return p.value }

func (p Password) MarshalJSON() ([]byte, error) { return json.Marshal(p.value) }

func (p *Password) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := NewPassword(s)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// EncodedHash is the PHC-format Argon2id hash persisted for a user.
// Opaque here; the hashing package owns its structure.
type EncodedHash struct {
	value string
}

func NewEncodedHash(s string) (EncodedHash, error) {
	if s == "" {
		return EncodedHash{}, fmt.Errorf("%w: encoded hash must be non-empty", ErrInvalidField)
	}
	return EncodedHash{value: s}, nil
}

func (h EncodedHash) String() string { return h.value }

func (h EncodedHash) MarshalJSON() ([]byte, error) { return json.Marshal(h.value) }

func (h *EncodedHash) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := NewEncodedHash(s)
	if err != nil {
		return err
	}
	*h = v
	return nil
}

// IsAdmin is the admin flag carried in the iad claim.
type IsAdmin struct {
	value bool
}

func NewIsAdmin(v bool) IsAdmin { return IsAdmin{value: v} }

func (a IsAdmin) Get() bool { return a.value }

func (a IsAdmin) MarshalJSON() ([]byte, error) { return json.Marshal(a.value) }

func (a *IsAdmin) UnmarshalJSON(b []byte) error {
	var v bool
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	a.value = v
	return nil
}
