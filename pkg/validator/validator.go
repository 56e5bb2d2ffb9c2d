// Package validator validates id tokens offline for third-party
// services: it tracks one or more issuers, refetches their JWKS when
// RefetchAllJwks or RefetchAllBlindJwks is called (it runs no refetch
// schedule of its own), and indexes validation keys by kid so a token
// can only ever be checked against the key its header names.
package validator

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nocturnelabs/token-server/pkg/blindrsa"
	"github.com/nocturnelabs/token-server/pkg/client"
	"github.com/nocturnelabs/token-server/pkg/field"
	"github.com/nocturnelabs/token-server/pkg/keys"
	"github.com/nocturnelabs/token-server/pkg/token"
)

const (
	endpointJwks      = "jwks"
	endpointBlindJwks = "blindjwks"

	// JwksRefetchTimeout bounds a single JWKS fetch.
	JwksRefetchTimeout = 3 * time.Second

	// DefaultStaleBlindKeyWindow is how long the previous RSA key
	// generation keeps verifying after a rotation.
	DefaultStaleBlindKeyWindow = time.Hour
)

var (
	ErrValidationFailed = errors.New("failed to validate token")
	ErrEmptyJwks        = errors.New("empty jwks response")
)

// HTTPClient is the minimal transport the validator needs.
type HTTPClient interface {
	GetJSON(ctx context.Context, u *url.URL, out any) error
}

// IssuerConfig describes one trusted issuer: its token API base URL,
// the iss value its tokens carry and the client ids it may address.
type IssuerConfig struct {
	TokenAPI  *url.URL
	Issuer    field.Issuer
	ClientIDs []string
}

// Config configures the validator.
type Config struct {
	Issuers []IssuerConfig
	// StaleBlindKeyWindow, zero selects the default.
	StaleBlindKeyWindow time.Duration
}

// issuerState is the per-issuer key cache. The maps are replaced
// wholesale under the lock (build-new-then-swap); readers never see a
// partial update.
type issuerState struct {
	tokenAPI *url.URL
	opts     keys.ValidationOptions

	mu   sync.RWMutex
	keys map[string]*keys.ValidationKey

	blindMu        sync.RWMutex
	blindCurrent   map[string]*blindrsa.PublicKey
	blindStale     map[string]*blindrsa.PublicKey
	blindUpdatedAt time.Time
}

// Validator validates id tokens and anonymous tokens across issuers.
type Validator struct {
	issuers    []*issuerState
	http       HTTPClient
	staleAlive time.Duration

	// now is swappable for stale-window tests.
	now func() time.Time
}

// New builds the validator and performs an initial JWKS fetch for
// every issuer; fetch failures are logged per issuer and retried on
// the next refetch. httpClient nil selects a default transport with
// the refetch timeout.
func New(ctx context.Context, cfg Config, httpClient HTTPClient) (*Validator, error) {
	if len(cfg.Issuers) == 0 {
		return nil, errors.New("validator: at least one issuer is required")
	}
	if httpClient == nil {
		httpClient = client.NewHTTPClient(JwksRefetchTimeout)
	}
	staleAlive := cfg.StaleBlindKeyWindow
	if staleAlive <= 0 {
		staleAlive = DefaultStaleBlindKeyWindow
	}

	states := make([]*issuerState, 0, len(cfg.Issuers))
	for _, ic := range cfg.Issuers {
		aud := field.AudiencesOf()
		if len(ic.ClientIDs) > 0 {
			cids := make([]field.ClientId, 0, len(ic.ClientIDs))
			for _, s := range ic.ClientIDs {
				cid, err := field.NewClientId(s)
				if err != nil {
					return nil, err
				}
				cids = append(cids, cid)
			}
			aud = field.AudiencesOf(cids...)
		}
		state := &issuerState{
			tokenAPI: ic.TokenAPI,
			opts: keys.ValidationOptions{
				AllowedIssuers: map[field.Issuer]struct{}{ic.Issuer: {}},
			},
			keys: make(map[string]*keys.ValidationKey),
		}
		if aud.Len() > 0 {
			audCopy := aud
			state.opts.AllowedAudiences = &audCopy
		}
		states = append(states, state)
	}

	v := &Validator{issuers: states, http: httpClient, staleAlive: staleAlive, now: time.Now}
	v.RefetchAllJwks(ctx)
	return v, nil
}

// Validate checks the id token against every issuer concurrently,
// selecting each issuer's key by the token header's kid, and returns
// all successful claim sets. A kid present nowhere, or failures
// everywhere, yield ErrValidationFailed. The kid indexing is what
// defeats key-trap setups: a token signed with an arbitrary key is
// never tried against unrelated trusted keys.
func (v *Validator) Validate(ctx context.Context, idToken string) ([]*keys.Claims, error) {
	id, err := field.NewIdToken(idToken)
	if err != nil {
		return nil, ErrValidationFailed
	}
	kid, err := token.HeaderKeyID(id)
	if err != nil {
		return nil, ErrValidationFailed
	}

	results := make(chan *keys.Claims, len(v.issuers))
	var wg sync.WaitGroup
	for _, state := range v.issuers {
		wg.Add(1)
		go func(state *issuerState) {
			defer wg.Done()
			state.mu.RLock()
			vk := state.keys[kid]
			state.mu.RUnlock()
			if vk == nil {
				results <- nil
				return
			}
			claims, err := vk.Validate(id, &state.opts)
			if err != nil {
				log.Debug().Err(err).Str("kid", kid).Msg("id token rejected by issuer")
				results <- nil
				return
			}
			results <- claims
		}(state)
	}
	wg.Wait()
	close(results)

	var ok []*keys.Claims
	for claims := range results {
		if claims != nil {
			ok = append(ok, claims)
		}
	}
	if len(ok) == 0 {
		return nil, ErrValidationFailed
	}
	return ok, nil
}

// RefetchAllJwks refreshes every issuer's validation-key map. A
// failing issuer keeps its previous map and is logged; the others are
// unaffected.
func (v *Validator) RefetchAllJwks(ctx context.Context) {
	var wg sync.WaitGroup
	for _, state := range v.issuers {
		wg.Add(1)
		go func(state *issuerState) {
			defer wg.Done()
			if err := v.refetchJwks(ctx, state); err != nil {
				log.Error().Err(err).Str("token_api", state.tokenAPI.String()).Msg("failed to refetch jwks, keeping previous keys")
			}
		}(state)
	}
	wg.Wait()
}

func (v *Validator) refetchJwks(ctx context.Context, state *issuerState) error {
	var res keys.JwksResponse
	if err := v.http.GetJSON(ctx, state.tokenAPI.JoinPath(endpointJwks), &res); err != nil {
		return err
	}
	if len(res.Keys) == 0 {
		return ErrEmptyJwks
	}

	// build-new-then-swap: an unparseable key aborts this issuer only
	fresh := make(map[string]*keys.ValidationKey, len(res.Keys))
	for _, raw := range res.Keys {
		var jwk keys.JWK
		if err := json.Unmarshal(raw, &jwk); err != nil {
			return err
		}
		vk, err := keys.ValidationKeyFromJWK(jwk)
		if err != nil {
			return err
		}
		fresh[vk.KeyID()] = vk
	}

	state.mu.Lock()
	state.keys = fresh
	state.mu.Unlock()

	log.Info().Str("token_api", state.tokenAPI.String()).Int("keys", len(fresh)).Msg("validation keys updated from jwks endpoint")
	return nil
}
