// Package httpapi exposes the token service over HTTP: login, refresh,
// JWKS publication, blind signing and admin user management, all under
// the /v1.0 prefix.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/nocturnelabs/token-server/internal/blindsigner"
	"github.com/nocturnelabs/token-server/internal/store"
	"github.com/nocturnelabs/token-server/pkg/blindrsa"
	"github.com/nocturnelabs/token-server/pkg/field"
	"github.com/nocturnelabs/token-server/pkg/keys"
	"github.com/nocturnelabs/token-server/pkg/token"
)

// DefaultClientID is stamped into aud when no audiences policy is
// configured.
const DefaultClientID = "none"

// Server holds dependencies for the HTTP handlers.
type Server struct {
	Users  *store.UserStore
	Tokens *store.RefreshTokenStore

	SigningKey *keys.SigningKey
	Issuer     field.Issuer
	// Audiences is the allowed client-id policy; nil accepts any client.
	Audiences *field.Audiences

	Blind *blindsigner.Rotator

	AuthRateLimitConfig RateLimitInfo
}

// DefaultAuthRateLimitConfig bounds the credential-bearing endpoints
// (/tokens, /refresh, /blindsign) per client IP.
var DefaultAuthRateLimitConfig = RateLimitInfo{
	WindowSeconds: 60,
	MaxRequests:   60,
	Burst:         20,
}

// Request bodies.

type passwordCredential struct {
	Username field.Username `json:"username"`
	Password field.Password `json:"password"`
}

type optionalCredential struct {
	Username *field.Username `json:"username,omitempty"`
	Password *field.Password `json:"password,omitempty"`
}

type tokensRequest struct {
	Auth     passwordCredential `json:"auth"`
	ClientID *field.ClientId    `json:"client_id,omitempty"`
}

type refreshRequest struct {
	RefreshToken field.RefreshToken `json:"refresh_token"`
	ClientID     *field.ClientId    `json:"client_id,omitempty"`
}

type createUserRequest struct {
	Auth passwordCredential `json:"auth"`
}

type updateUserRequest struct {
	Auth optionalCredential `json:"auth"`
}

type deleteUserRequest struct {
	Username field.Username `json:"username"`
}

type listUsersRequest struct {
	Page *int `json:"page,omitempty"`
}

type blindSignRequest struct {
	BlindedTokenMessage blindrsa.Bytes      `json:"blinded_token_message"`
	BlindedTokenOptions blindrsa.Options    `json:"blinded_token_options"`
	Auth                *passwordCredential `json:"auth,omitempty"`
	ClientID            *field.ClientId     `json:"client_id,omitempty"`
}

// Response bodies.

type tokensResponse struct {
	Token    *token.TokenBody `json:"token"`
	Metadata token.TokenMeta  `json:"metadata"`
	Message  string           `json:"message"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type userSummary struct {
	Username     string `json:"username"`
	SubscriberID string `json:"subscriber_id"`
	IsAdmin      bool   `json:"is_admin"`
}

type listUsersResponse struct {
	Users      []userSummary `json:"users"`
	Page       int           `json:"page"`
	TotalPages int           `json:"total_pages"`
	TotalUsers int           `json:"total_users"`
	Message    string        `json:"message"`
}

type blindSignResponse struct {
	BlindSignature *blindrsa.BlindSignature `json:"blind_signature"`
	ExpiresAt      int64                    `json:"expires_at"`
	Message        string                   `json:"message"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

// errorResponse is the standardized error body with correlation ID.
type errorResponse struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// writeError writes an error response with the request's correlation
// ID attached.
func writeError(w http.ResponseWriter, r *http.Request, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error:         message,
		CorrelationID: GetCorrelationID(r.Context()),
	})
}

// decodeJSON parses the request body.
func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// apiError pairs an HTTP status with its client-facing message.
type apiError struct {
	code    int
	message string
}

func internalError(message string) *apiError {
	return &apiError{code: http.StatusInternalServerError, message: message}
}

func (s *Server) writeAPIError(w http.ResponseWriter, r *http.Request, e *apiError) {
	writeError(w, r, e.code, e.message)
}

// resolveClientID applies the audiences policy: with a policy set the
// request must name an allowed client id; without one the fixed
// default id is used.
func (s *Server) resolveClientID(requested *field.ClientId) (field.ClientId, *apiError) {
	if s.Audiences == nil {
		cid, err := field.NewClientId(DefaultClientID)
		if err != nil {
			return field.ClientId{}, internalError("Token creation failed")
		}
		return cid, nil
	}
	if requested == nil {
		return field.ClientId{}, &apiError{code: http.StatusBadRequest, message: "Invalid request"}
	}
	if !s.Audiences.Contains(*requested) {
		return field.ClientId{}, &apiError{code: http.StatusUnauthorized, message: "Unauthorized"}
	}
	return *requested, nil
}
