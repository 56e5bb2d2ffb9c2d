package client

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nocturnelabs/token-server/pkg/blindrsa"
	"github.com/nocturnelabs/token-server/pkg/keys"
)

// BlindMessageBytes is the length of the random message the client
// asks the server to blind-sign.
const BlindMessageBytes = 32

type blindSignRequest struct {
	BlindedTokenMessage blindrsa.Bytes   `json:"blinded_token_message"`
	BlindedTokenOptions blindrsa.Options `json:"blinded_token_options"`
}

type blindSignResponse struct {
	BlindSignature blindrsa.BlindSignature `json:"blind_signature"`
	ExpiresAt      int64                   `json:"expires_at"`
	Message        string                  `json:"message"`
}

// UpdateBlindValidationKeyIfStale fetches /blindjwks and, when the
// hosted key differs from the stored one (or none is stored), replaces
// it and reports true.
func (c *Client) UpdateBlindValidationKeyIfStale(ctx context.Context) (bool, error) {
	var jwks keys.JwksResponse
	if err := c.http.GetJSON(ctx, c.endpoint(endpointBlindJwks), &jwks); err != nil {
		return false, err
	}
	if len(jwks.Keys) == 0 {
		return false, ErrInvalidJwk
	}

	var jwk blindrsa.JWK
	if err := json.Unmarshal(jwks.Keys[0], &jwk); err != nil {
		return false, ErrInvalidJwk
	}
	if jwk.Kid == "" {
		return false, ErrInvalidJwk
	}
	fetched, err := blindrsa.PublicKeyFromJWK(jwk)
	if err != nil {
		return false, ErrInvalidJwk
	}

	current := c.blindKey.get()
	if current != nil && current.Equal(fetched) {
		log.Debug().Msg("blind validation key is up-to-date")
		return false, nil
	}

	c.blindKey.set(*fetched)
	log.Info().Str("kid", fetched.KeyID()).Msg("blind validation key updated")
	return true, nil
}

// RequestBlindSignatureWithIDToken draws a fresh 32-byte message,
// blinds it under the stored RSA key, has the server blind-sign it
// with the current id token as bearer, unblinds the response, verifies
// the result locally and stores the anonymous token with its expiry.
func (c *Client) RequestBlindSignatureWithIDToken(ctx context.Context) error {
	body := c.idToken.get()
	if body == nil {
		return ErrNoIdToken
	}
	pk := c.blindKey.get()
	if pk == nil {
		return ErrNoBlindValidationKey
	}

	msg := make([]byte, BlindMessageBytes)
	if _, err := rand.Read(msg); err != nil {
		return err
	}

	blindResult, err := pk.Blind(msg, blindrsa.DefaultOptions())
	if err != nil {
		return ErrBlindRequestFailed
	}

	req := blindSignRequest{
		BlindedTokenMessage: blindResult.BlindedToken.BlindMsg,
		BlindedTokenOptions: blindResult.BlindedToken.Opts,
	}
	var res blindSignResponse
	if err := c.http.PostJSONWithBearer(ctx, c.endpoint(endpointBlindSign), &req, body.ID.String(), &res); err != nil {
		return err
	}

	anonymous, err := pk.Finalize(&res.BlindSignature, blindResult, msg)
	if err != nil {
		return ErrUnblindFailed
	}

	c.anonymousToken.set(*anonymous)
	c.blindExpiresAt.set(res.ExpiresAt)

	return c.verifyAnonymousToken()
}

// verifyAnonymousToken checks the stored anonymous token against the
// stored blind key and its expiry.
func (c *Client) verifyAnonymousToken() error {
	anonymous := c.anonymousToken.get()
	if anonymous == nil {
		return ErrNoAnonymousToken
	}
	pk := c.blindKey.get()
	if pk == nil {
		return ErrNoBlindValidationKey
	}
	expiresAt := c.blindExpiresAt.get()
	if expiresAt == nil {
		return ErrInvalidBlindKeyExpiry
	}
	if *expiresAt <= time.Now().Unix() {
		return ErrInvalidBlindKeyExpiry
	}
	if err := pk.Verify(anonymous); err != nil {
		return ErrInvalidBlindSignature
	}
	return nil
}

// AnonymousToken returns the stored anonymous token.
func (c *Client) AnonymousToken() (*blindrsa.AnonymousToken, error) {
	anonymous := c.anonymousToken.get()
	if anonymous == nil {
		return nil, ErrNoAnonymousToken
	}
	cp := *anonymous
	return &cp, nil
}

// BlindRemainingSecondsUntilExpiration is the time left until the
// blind key rotation invalidates the stored anonymous token.
func (c *Client) BlindRemainingSecondsUntilExpiration() (int64, error) {
	expiresAt := c.blindExpiresAt.get()
	if expiresAt == nil {
		return 0, ErrInvalidBlindKeyExpiry
	}
	return *expiresAt - time.Now().Unix(), nil
}
