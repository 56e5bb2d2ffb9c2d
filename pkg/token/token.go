// Package token defines the token payloads exchanged between the
// server and its clients: the decoded body of a signed id token and
// the UI metadata echoed next to it.
package token

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nocturnelabs/token-server/pkg/field"
)

var (
	ErrMalformed = errors.New("malformed id token")
	ErrNoKeyID   = errors.New("no key id in id token header")
	ErrNoSubject = errors.New("no subject in id token")
	ErrNoIssuer  = errors.New("no issuer in id token")
)

// TokenBody carries the signed JWT along with the fields decoded from
// its payload. Refresh is populated only at first issuance.
type TokenBody struct {
	ID           field.IdToken       `json:"id"`
	Refresh      *field.RefreshToken `json:"refresh,omitempty"`
	IssuedAt     int64               `json:"issued_at"`
	ExpiresAt    int64               `json:"expires_at"`
	AllowedApps  []string            `json:"allowed_apps"`
	Issuer       string              `json:"issuer"`
	SubscriberID string              `json:"subscriber_id"`
}

// TokenMeta is echoed back to the client as UI hints. It is not
// trusted for authorization decisions.
type TokenMeta struct {
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

// New decodes the payload of the just-signed id token into a TokenBody
// and, when refreshRequired, attaches a freshly generated refresh
// token.
func New(id field.IdToken, refreshRequired bool) (*TokenBody, error) {
	var payload struct {
		Iat int64           `json:"iat"`
		Exp int64           `json:"exp"`
		Iss string          `json:"iss"`
		Sub string          `json:"sub"`
		Aud field.Audiences `json:"aud"`
	}
	if err := decodeSegment(id.String(), 1, &payload); err != nil {
		return nil, err
	}
	if payload.Sub == "" {
		return nil, ErrNoSubject
	}
	if payload.Iss == "" {
		return nil, ErrNoIssuer
	}

	body := &TokenBody{
		ID:           id,
		IssuedAt:     payload.Iat,
		ExpiresAt:    payload.Exp,
		AllowedApps:  payload.Aud.Strings(),
		Issuer:       payload.Iss,
		SubscriberID: payload.Sub,
	}
	if refreshRequired {
		refresh, err := field.GenerateRefreshToken()
		if err != nil {
			return nil, err
		}
		body.Refresh = &refresh
	}
	return body, nil
}

// HeaderKeyID extracts the kid field from a compact JWT header without
// verifying the token.
func HeaderKeyID(id field.IdToken) (string, error) {
	var header struct {
		Kid string `json:"kid"`
	}
	if err := decodeSegment(id.String(), 0, &header); err != nil {
		return "", err
	}
	if header.Kid == "" {
		return "", ErrNoKeyID
	}
	return header.Kid, nil
}

func decodeSegment(compact string, index int, out any) error {
	parts := strings.Split(compact, ".")
	if len(parts) != 3 {
		return ErrMalformed
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[index])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
