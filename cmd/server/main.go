package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nocturnelabs/token-server/internal/blindsigner"
	"github.com/nocturnelabs/token-server/internal/config"
	"github.com/nocturnelabs/token-server/internal/db"
	"github.com/nocturnelabs/token-server/internal/httpapi"
	"github.com/nocturnelabs/token-server/internal/store"
	"github.com/nocturnelabs/token-server/pkg/keys"
)

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "token-server").Logger()
	if env("ENV", "") == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	cfg, err := config.Load(env("CONFIG_FILE", ""))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	issuer, err := cfg.Issuer()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid token issuer")
	}
	audiences, err := cfg.Audiences()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid client_ids")
	}
	if audiences == nil {
		log.Warn().Msg("no client_ids configured; any client can connect")
	}

	pemBytes, err := os.ReadFile(cfg.SigningKeyPath)
	if err != nil {
		log.Fatal().Err(err).Str("signing_key_path", cfg.SigningKeyPath).Msg("failed to read signing key")
	}
	signingKey, err := keys.ParseSigningKeyPEM(string(pemBytes))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse signing key")
	}
	log.Info().
		Str("alg", string(signingKey.Algorithm())).
		Str("kid", signingKey.ValidationKey().KeyID()).
		Msg("signing key loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.Open(ctx, cfg.DBFilePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer pool.Close()

	users := store.NewUserStore(pool)
	tokens := store.NewRefreshTokenStore(pool)
	if err := store.Bootstrap(ctx, users); err != nil {
		log.Fatal().Err(err).Msg("failed to bootstrap admin user")
	}

	rotator, err := blindsigner.New(cfg.BlindKeyBits, time.Duration(cfg.BlindRotationPeriodMin)*time.Minute)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to generate blind signing key")
	}
	go rotator.Run(ctx)

	server := &httpapi.Server{
		Users:               users,
		Tokens:              tokens,
		SigningKey:          signingKey,
		Issuer:              issuer,
		Audiences:           audiences,
		Blind:               rotator,
		AuthRateLimitConfig: httpapi.DefaultAuthRateLimitConfig,
	}

	addr := fmt.Sprintf("%s:%d", cfg.ListenAddress, cfg.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Str("issuer", issuer.String()).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server is down")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
