package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsAndEnvOverrides(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != DefaultListenAddress || cfg.Port != DefaultPort || cfg.DBFilePath != DefaultDBFilePath {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}

	t.Setenv("PORT", "8080")
	t.Setenv("TOKEN_ISSUER", "http://localhost:8080/v1.0")
	t.Setenv("SIGNING_KEY_PATH", "/tmp/key.pem")
	t.Setenv("CLIENT_IDS", "a,b")

	cfg, err = Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 8080 || cfg.TokenIssuer != "http://localhost:8080/v1.0" || cfg.ClientIDs != "a,b" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	aud, err := cfg.Audiences()
	if err != nil {
		t.Fatalf("audiences: %v", err)
	}
	if aud == nil || aud.Len() != 2 {
		t.Fatalf("audiences = %+v", aud)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"listen_address":"0.0.0.0","port":9000,"signing_key_path":"key.pem","token_issuer":"https://auth.example.com/v1.0"}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != "0.0.0.0" || cfg.Port != 9000 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRejectsMissingFields(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}

	cfg.SigningKeyPath = "key.pem"
	cfg.TokenIssuer = "not a url"
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for bad issuer, got %v", err)
	}
}
