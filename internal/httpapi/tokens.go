package httpapi

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/nocturnelabs/token-server/internal/store"
	"github.com/nocturnelabs/token-server/pkg/token"
)

// HandleTokens handles POST /tokens: password login issuing a fresh id token
// plus refresh token. Each call mints new tokens; there is no
// idempotence.
func (s *Server) HandleTokens(w http.ResponseWriter, r *http.Request) {
	var req tokensRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid request")
		return
	}

	user, apiErr := s.authenticate(r, req.Auth)
	if apiErr != nil {
		s.writeAPIError(w, r, apiErr)
		return
	}

	clientID, apiErr := s.resolveClientID(req.ClientID)
	if apiErr != nil {
		s.writeAPIError(w, r, apiErr)
		return
	}

	body, err := s.SigningKey.Authorize(user.SubscriberID, clientID, s.Issuer, user.IsAdmin, true)
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("failed to issue id token")
		writeError(w, r, http.StatusInternalServerError, "Token creation failed")
		return
	}

	info, err := store.NewRefreshTokenInfo(body)
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("failed to derive refresh token info")
		writeError(w, r, http.StatusInternalServerError, "Token creation failed")
		return
	}
	if err := s.Tokens.AddAndPrune(r.Context(), info); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("failed to store refresh token")
		writeError(w, r, http.StatusInternalServerError, "Token creation failed")
		return
	}

	log.Ctx(r.Context()).Info().Str("username", user.Username.String()).Msg("login succeeded")
	writeJSON(w, http.StatusOK, tokensResponse{
		Token:    body,
		Metadata: token.TokenMeta{Username: user.Username.String(), IsAdmin: user.IsAdmin},
		Message:  "ok. login.",
	})
}

// HandleRefresh handles POST /refresh: redeem a refresh token for a new id
// token without a new refresh token.
func (s *Server) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid request")
		return
	}

	clientID, apiErr := s.resolveClientID(req.ClientID)
	if apiErr != nil {
		s.writeAPIError(w, r, apiErr)
		return
	}

	entry, err := s.Tokens.PruneAndFind(r.Context(), req.RefreshToken, clientID)
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("refresh token lookup failed")
		writeError(w, r, http.StatusInternalServerError, "Token creation failed")
		return
	}
	if entry == nil {
		writeError(w, r, http.StatusUnauthorized, "Unauthorized")
		return
	}

	user, err := s.Users.FindBySubscriberID(r.Context(), entry.SubscriberID)
	if err != nil || user == nil {
		log.Ctx(r.Context()).Error().Err(err).Str("sub", entry.SubscriberID.String()).Msg("no user behind refresh token")
		writeError(w, r, http.StatusInternalServerError, "Token creation failed")
		return
	}

	body, err := s.SigningKey.Authorize(user.SubscriberID, clientID, s.Issuer, user.IsAdmin, false)
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("failed to issue id token")
		writeError(w, r, http.StatusInternalServerError, "Token creation failed")
		return
	}

	log.Ctx(r.Context()).Info().Str("username", user.Username.String()).Msg("id token refreshed")
	writeJSON(w, http.StatusOK, tokensResponse{
		Token:    body,
		Metadata: token.TokenMeta{Username: user.Username.String(), IsAdmin: user.IsAdmin},
		Message:  "ok. id_token is refreshed.",
	})
}

// authenticate checks the password credential against the stored user.
func (s *Server) authenticate(r *http.Request, cred passwordCredential) (*store.User, *apiError) {
	user, err := s.Users.FindByUsername(r.Context(), cred.Username)
	if err != nil {
		return nil, internalError("Token creation failed")
	}
	if user == nil {
		log.Ctx(r.Context()).Warn().Str("username", cred.Username.String()).Msg("login attempt for unregistered user")
		return nil, &apiError{code: http.StatusUnauthorized, message: "Unauthorized"}
	}

	ok, err := user.VerifyPassword(cred.Password)
	if err != nil {
		return nil, internalError("Something failed in authentication")
	}
	if !ok {
		return nil, &apiError{code: http.StatusUnauthorized, message: "Unauthorized"}
	}
	log.Ctx(r.Context()).Debug().Str("username", cred.Username.String()).Msg("password verified")
	return user, nil
}
