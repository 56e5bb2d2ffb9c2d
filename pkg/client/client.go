// Package client is the twin client library of the token server: it
// logs in, refreshes, validates its own id token offline against the
// published JWKS, and obtains anonymous tokens through blind signing.
package client

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nocturnelabs/token-server/pkg/blindrsa"
	"github.com/nocturnelabs/token-server/pkg/field"
	"github.com/nocturnelabs/token-server/pkg/keys"
	"github.com/nocturnelabs/token-server/pkg/token"
)

// Endpoint paths relative to the token API base.
const (
	endpointTokens    = "tokens"
	endpointRefresh   = "refresh"
	endpointJwks      = "jwks"
	endpointCreate    = "create_user"
	endpointDelete    = "delete_user"
	endpointBlindJwks = "blindjwks"
	endpointBlindSign = "blindsign"
)

// Config carries the credentials and the token API base URL, e.g.
// "http://localhost:3000/v1.0".
type Config struct {
	Username string
	Password string
	ClientID string
	TokenAPI *url.URL
}

// slot is one independently locked piece of client state. A slot is
// written only after the operation producing its value fully
// succeeded, and the lock is never held across a network call.
type slot[T any] struct {
	mu sync.RWMutex
	v  *T
}

func (s *slot[T]) get() *T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v
}

func (s *slot[T]) set(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v = &v
}

// Client is the stateful token client. All methods are safe for
// concurrent use; concurrent refreshes may both succeed with the last
// writer winning the stored slot.
type Client struct {
	cfg  Config
	http HTTPClient

	idToken        slot[token.TokenBody]
	refreshToken   slot[field.RefreshToken]
	validationKey  slot[keys.ValidationKey]
	anonymousToken slot[blindrsa.AnonymousToken]
	blindKey       slot[blindrsa.PublicKey]
	blindExpiresAt slot[int64]
}

// New builds a client; httpClient nil selects the default transport.
func New(cfg Config, httpClient HTTPClient) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(0)
	}
	return &Client{cfg: cfg, http: httpClient}
}

func (c *Client) endpoint(path string) *url.URL {
	return c.cfg.TokenAPI.JoinPath(path)
}

// Wire formats shared with the server.

type authenticationRequest struct {
	Auth     credential `json:"auth"`
	ClientID string     `json:"client_id"`
}

type credential struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authenticationResponse struct {
	Token    token.TokenBody `json:"token"`
	Metadata token.TokenMeta `json:"metadata"`
	Message  string          `json:"message"`
}

type refreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
	ClientID     string `json:"client_id,omitempty"`
}

type createUserRequest struct {
	Auth credential `json:"auth"`
}

type deleteUserRequest struct {
	Username string `json:"username"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// Login authenticates with username/password, fetches the matching
// validation key from /jwks and verifies the received id token before
// any state is stored; a failure at any step leaves the prior state
// untouched.
func (c *Client) Login(ctx context.Context) error {
	req := authenticationRequest{
		Auth:     credential{Username: c.cfg.Username, Password: c.cfg.Password},
		ClientID: c.cfg.ClientID,
	}
	var res authenticationResponse
	if err := c.http.PostJSON(ctx, c.endpoint(endpointTokens), &req, &res); err != nil {
		return err
	}

	vk, err := c.fetchValidationKey(ctx, res.Token.ID)
	if err != nil {
		return err
	}
	if _, err := c.verify(&res.Token, vk); err != nil {
		return err
	}

	if res.Token.Refresh != nil {
		c.refreshToken.set(*res.Token.Refresh)
	}
	c.idToken.set(res.Token)
	c.validationKey.set(*vk)

	log.Info().Msg("login succeeded")
	return nil
}

// Refresh redeems the stored refresh token for a new id token. The
// refresh-token slot is replaced only when the response carries a new
// one; a failed refresh discards nothing.
func (c *Client) Refresh(ctx context.Context) error {
	stored := c.refreshToken.get()
	if stored == nil {
		return ErrNoRefreshToken
	}

	req := refreshTokenRequest{RefreshToken: stored.String(), ClientID: c.cfg.ClientID}
	var res authenticationResponse
	if err := c.http.PostJSON(ctx, c.endpoint(endpointRefresh), &req, &res); err != nil {
		return err
	}

	vk, err := c.fetchValidationKey(ctx, res.Token.ID)
	if err != nil {
		return err
	}
	if _, err := c.verify(&res.Token, vk); err != nil {
		return err
	}

	if res.Token.Refresh != nil {
		c.refreshToken.set(*res.Token.Refresh)
	}
	c.idToken.set(res.Token)
	c.validationKey.set(*vk)

	log.Debug().Msg("id token refreshed")
	return nil
}

// fetchValidationKey fetches /jwks and selects the key whose kid
// matches the id token's header.
func (c *Client) fetchValidationKey(ctx context.Context, id field.IdToken) (*keys.ValidationKey, error) {
	kid, err := token.HeaderKeyID(id)
	if err != nil {
		return nil, ErrNoKeyIdInIdToken
	}

	var jwks keys.JwksResponse
	if err := c.http.GetJSON(ctx, c.endpoint(endpointJwks), &jwks); err != nil {
		return nil, err
	}

	for _, raw := range jwks.Keys {
		rawKid, err := keys.RawKeyID(raw)
		if err != nil || rawKid != kid {
			continue
		}
		var jwk keys.JWK
		if err := json.Unmarshal(raw, &jwk); err != nil {
			return nil, ErrInvalidJwk
		}
		vk, err := keys.ValidationKeyFromJWK(jwk)
		if err != nil {
			return nil, ErrInvalidJwk
		}
		log.Debug().Str("kid", kid).Msg("validation key selected from jwks")
		return vk, nil
	}
	return nil, &NoJwkMatchedError{Kid: kid}
}

// verify validates a token body against the given key with the
// client's issuer and client id pinned.
func (c *Client) verify(body *token.TokenBody, vk *keys.ValidationKey) (*keys.Claims, error) {
	iss, err := field.NewIssuer(c.cfg.TokenAPI.String())
	if err != nil {
		return nil, err
	}
	aud, err := field.NewAudiences(c.cfg.ClientID)
	if err != nil {
		return nil, err
	}
	claims, err := vk.Validate(body.ID, &keys.ValidationOptions{
		AllowedIssuers:   map[field.Issuer]struct{}{iss: {}},
		AllowedAudiences: &aud,
	})
	if err != nil {
		return nil, ErrInvalidIdToken
	}
	return claims, nil
}

// verifyStored validates the stored id token with the stored key.
func (c *Client) verifyStored() (*keys.Claims, error) {
	body := c.idToken.get()
	if body == nil {
		return nil, ErrNoIdToken
	}
	vk := c.validationKey.get()
	if vk == nil {
		return nil, ErrNoValidationKey
	}
	return c.verify(body, vk)
}

// Token returns the stored token body.
func (c *Client) Token() (*token.TokenBody, error) {
	body := c.idToken.get()
	if body == nil {
		return nil, ErrNoIdToken
	}
	cp := *body
	return &cp, nil
}

// RemainingSecondsUntilExpiration re-verifies the stored id token and
// returns the seconds left until its exp claim.
func (c *Client) RemainingSecondsUntilExpiration() (int64, error) {
	claims, err := c.verifyStored()
	if err != nil {
		return 0, err
	}
	if claims.ExpiresAt == nil {
		return 0, ErrNoExpInIdToken
	}
	return claims.ExpiresAt.Unix() - time.Now().Unix(), nil
}

// IsAdmin reports the iad claim of the verified stored token.
func (c *Client) IsAdmin() (bool, error) {
	claims, err := c.verifyStored()
	if err != nil {
		return false, err
	}
	return claims.IsAdmin, nil
}

// CreateUser creates a user under the admin privilege.
func (c *Client) CreateUser(ctx context.Context, username, password string) (string, error) {
	if err := c.requireAdmin(); err != nil {
		return "", err
	}
	body, err := c.Token()
	if err != nil {
		return "", err
	}

	req := createUserRequest{Auth: credential{Username: username, Password: password}}
	var res messageResponse
	if err := c.http.PostJSONWithBearer(ctx, c.endpoint(endpointCreate), &req, body.ID.String(), &res); err != nil {
		return "", err
	}
	return res.Message, nil
}

// DeleteUser deletes a user under the admin privilege.
func (c *Client) DeleteUser(ctx context.Context, username string) (string, error) {
	if err := c.requireAdmin(); err != nil {
		return "", err
	}
	body, err := c.Token()
	if err != nil {
		return "", err
	}

	req := deleteUserRequest{Username: username}
	var res messageResponse
	if err := c.http.PostJSONWithBearer(ctx, c.endpoint(endpointDelete), &req, body.ID.String(), &res); err != nil {
		return "", err
	}
	return res.Message, nil
}

func (c *Client) requireAdmin() error {
	isAdmin, err := c.IsAdmin()
	if err != nil {
		return err
	}
	if !isAdmin {
		return ErrNotAllowed
	}
	return nil
}
