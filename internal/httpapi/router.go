package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// Routes builds the HTTP router: /health at the root plus the token
// API nested under /v1.0. Credential-bearing endpoints sit behind the
// stricter auth rate limit.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(CorrelationMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Route("/v1.0", func(r chi.Router) {
		// public key material
		r.Get("/jwks", s.HandleJwks)
		r.Get("/blindjwks", s.HandleBlindJwks)

		// credential-bearing endpoints, rate limited per client IP
		r.Group(func(r chi.Router) {
			r.Use(AuthRateLimitMiddleware(s.AuthRateLimitConfig))

			r.Post("/tokens", s.HandleTokens)
			r.Post("/refresh", s.HandleRefresh)
			r.Post("/blindsign", s.HandleBlindSign)
		})

		// user management under bearer tokens
		r.Post("/create_user", s.HandleCreateUser)
		r.Post("/update_user", s.HandleUpdateUser)
		r.Post("/delete_user", s.HandleDeleteUser)
		r.Post("/list_users", s.HandleListUsers)
	})

	log.Info().Msg("HTTP routes registered")
	return r
}
