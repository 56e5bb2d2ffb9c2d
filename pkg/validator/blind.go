package validator

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/nocturnelabs/token-server/pkg/blindrsa"
	"github.com/nocturnelabs/token-server/pkg/keys"
)

// ValidateAnonymousToken decodes a base64url anonymous token and
// verifies it: the current RSA key of each issuer is tried first; a
// kid only found in an issuer's stale map is still accepted while the
// stale window since the last rotation has not elapsed.
func (v *Validator) ValidateAnonymousToken(tok string) error {
	anonymous, err := blindrsa.DecodeAnonymousToken(tok)
	if err != nil {
		return ErrValidationFailed
	}
	kid := anonymous.Signature.KeyID

	for _, state := range v.issuers {
		state.blindMu.RLock()
		current := state.blindCurrent[kid]
		stale := state.blindStale[kid]
		updatedAt := state.blindUpdatedAt
		state.blindMu.RUnlock()

		if current != nil {
			if current.Verify(anonymous) == nil {
				return nil
			}
			continue
		}
		if stale != nil && v.now().Sub(updatedAt) < v.staleAlive {
			if stale.Verify(anonymous) == nil {
				log.Debug().Str("kid", kid).Msg("anonymous token accepted under stale blind key")
				return nil
			}
		}
	}
	return ErrValidationFailed
}

// RefetchAllBlindJwks refreshes every issuer's blind-key map. When the
// fetched key set differs from the current one, the old current map
// becomes the stale generation and the stale window restarts.
func (v *Validator) RefetchAllBlindJwks(ctx context.Context) {
	var wg sync.WaitGroup
	for _, state := range v.issuers {
		wg.Add(1)
		go func(state *issuerState) {
			defer wg.Done()
			if err := v.refetchBlindJwks(ctx, state); err != nil {
				log.Error().Err(err).Str("token_api", state.tokenAPI.String()).Msg("failed to refetch blind jwks, keeping previous keys")
			}
		}(state)
	}
	wg.Wait()
}

func (v *Validator) refetchBlindJwks(ctx context.Context, state *issuerState) error {
	var res keys.JwksResponse
	if err := v.http.GetJSON(ctx, state.tokenAPI.JoinPath(endpointBlindJwks), &res); err != nil {
		return err
	}
	if len(res.Keys) == 0 {
		return ErrEmptyJwks
	}

	fresh := make(map[string]*blindrsa.PublicKey, len(res.Keys))
	for _, raw := range res.Keys {
		var jwk blindrsa.JWK
		if err := json.Unmarshal(raw, &jwk); err != nil {
			return err
		}
		pk, err := blindrsa.PublicKeyFromJWK(jwk)
		if err != nil {
			return err
		}
		fresh[pk.KeyID()] = pk
	}

	state.blindMu.Lock()
	defer state.blindMu.Unlock()
	if sameKeySet(state.blindCurrent, fresh) {
		return nil
	}
	if state.blindCurrent != nil {
		state.blindStale = state.blindCurrent
	}
	state.blindCurrent = fresh
	state.blindUpdatedAt = v.now()

	log.Info().Str("token_api", state.tokenAPI.String()).Int("keys", len(fresh)).Msg("blind validation keys rotated from blind jwks endpoint")
	return nil
}

func sameKeySet(a, b map[string]*blindrsa.PublicKey) bool {
	if len(a) != len(b) {
		return false
	}
	for kid := range b {
		if _, ok := a[kid]; !ok {
			return false
		}
	}
	return len(a) != 0
}
