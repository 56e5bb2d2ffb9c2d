package httpapi

import (
	"net/http"
	"strings"

	"github.com/nocturnelabs/token-server/internal/store"
	"github.com/nocturnelabs/token-server/pkg/field"
	"github.com/nocturnelabs/token-server/pkg/keys"
)

// bearerIdToken extracts the compact JWT from the Authorization header.
func bearerIdToken(r *http.Request) (field.IdToken, *apiError) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return field.IdToken{}, &apiError{code: http.StatusUnauthorized, message: "Missing token"}
	}
	scheme, rest, found := strings.Cut(header, " ")
	if !found || scheme != "Bearer" {
		return field.IdToken{}, &apiError{code: http.StatusUnauthorized, message: "Missing token"}
	}
	id, err := field.NewIdToken(strings.TrimSpace(rest))
	if err != nil {
		return field.IdToken{}, &apiError{code: http.StatusUnauthorized, message: "Missing token"}
	}
	return id, nil
}

// serverValidationOptions pin tokens to this server's issuer and, when
// configured, its audiences policy.
func (s *Server) serverValidationOptions() *keys.ValidationOptions {
	return &keys.ValidationOptions{
		AllowedIssuers:   map[field.Issuer]struct{}{s.Issuer: {}},
		AllowedAudiences: s.Audiences,
	}
}

// verifyBearer validates the bearer id token and resolves its subject
// to a stored user.
func (s *Server) verifyBearer(r *http.Request) (*keys.Claims, *store.User, *apiError) {
	id, apiErr := bearerIdToken(r)
	if apiErr != nil {
		return nil, nil, apiErr
	}

	claims, err := s.SigningKey.Validate(id, s.serverValidationOptions())
	if err != nil {
		return nil, nil, &apiError{code: http.StatusBadRequest, message: "Invalid token"}
	}

	sub, err := field.NewSubscriberId(claims.Subject)
	if err != nil {
		return nil, nil, &apiError{code: http.StatusBadRequest, message: "Invalid token"}
	}
	user, err := s.Users.FindBySubscriberID(r.Context(), sub)
	if err != nil {
		return nil, nil, internalError("Something failed in authentication")
	}
	if user == nil {
		return nil, nil, &apiError{code: http.StatusUnauthorized, message: "Unauthorized"}
	}
	return claims, user, nil
}

// requireAdmin additionally demands iad=true in the token and
// is_admin=true on the stored user.
func (s *Server) requireAdmin(r *http.Request) (*store.User, *apiError) {
	claims, user, apiErr := s.verifyBearer(r)
	if apiErr != nil {
		return nil, apiErr
	}
	if !claims.IsAdmin {
		return nil, &apiError{code: http.StatusUnauthorized, message: "Unauthorized"}
	}
	if !user.IsAdmin {
		return nil, &apiError{code: http.StatusBadRequest, message: "Invalid token"}
	}
	return user, nil
}
