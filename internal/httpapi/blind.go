package httpapi

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/nocturnelabs/token-server/pkg/blindrsa"
	"github.com/nocturnelabs/token-server/pkg/keys"
)

// HandleBlindJwks handles GET /blindjwks: the current RSA public key.
func (s *Server) HandleBlindJwks(w http.ResponseWriter, r *http.Request) {
	jwk := s.Blind.PublicKey().JWK()
	writeJSON(w, http.StatusOK, struct {
		Keys []blindrsa.JWK `json:"keys"`
	}{Keys: []blindrsa.JWK{jwk}})
}

// HandleBlindSign handles POST /blindsign. The caller authenticates
// either with inline credentials (which take precedence) or a bearer
// id token whose subject must resolve to an existing user. Only the
// blinded message is ever processed or logged; the unblinded signature
// and the randomizer never reach the server.
func (s *Server) HandleBlindSign(w http.ResponseWriter, r *http.Request) {
	var req blindSignRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid request")
		return
	}

	if req.Auth != nil {
		log.Ctx(r.Context()).Debug().Msg("blind signing authenticated with credentials")
		if _, apiErr := s.authenticate(r, *req.Auth); apiErr != nil {
			s.writeAPIError(w, r, apiErr)
			return
		}
		if _, apiErr := s.resolveClientID(req.ClientID); apiErr != nil {
			s.writeAPIError(w, r, apiErr)
			return
		}
	} else {
		log.Ctx(r.Context()).Debug().Msg("blind signing authenticated with id token")
		if _, _, apiErr := s.verifyBearer(r); apiErr != nil {
			s.writeAPIError(w, r, apiErr)
			return
		}
	}

	blinded := &blindrsa.BlindedToken{
		BlindMsg: req.BlindedTokenMessage,
		Opts:     req.BlindedTokenOptions,
	}
	signature, err := s.Blind.BlindSign(blinded)
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("blind signing failed")
		writeError(w, r, http.StatusInternalServerError, "Signature creation failed")
		return
	}

	writeJSON(w, http.StatusOK, blindSignResponse{
		BlindSignature: signature,
		ExpiresAt:      s.Blind.ExpiresAt(),
		Message:        "ok",
	})
}

// HandleJwks handles GET /jwks: the signing key's public JWK.
func (s *Server) HandleJwks(w http.ResponseWriter, r *http.Request) {
	jwk := s.SigningKey.ValidationKey().JWK()
	writeJSON(w, http.StatusOK, struct {
		Keys []keys.JWK `json:"keys"`
	}{Keys: []keys.JWK{jwk}})
}
