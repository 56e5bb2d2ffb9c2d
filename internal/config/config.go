// Package config loads server configuration from an optional JSON file
// with environment-variable overrides on top, validated after both are
// applied.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/nocturnelabs/token-server/pkg/field"
)

const (
	DefaultListenAddress = "127.0.0.1"
	DefaultPort          = 3000
	DefaultDBFilePath    = "./users.db"

	DefaultBlindKeyBits           = 2048
	DefaultBlindRotationPeriodMin = 24 * 60
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the recognized option set.
type Config struct {
	ListenAddress  string `json:"listen_address"`
	Port           int    `json:"port"`
	SigningKeyPath string `json:"signing_key_path"`
	TokenIssuer    string `json:"token_issuer"`
	// ClientIDs is comma-separated; empty accepts any client.
	ClientIDs  string `json:"client_ids"`
	DBFilePath string `json:"db_file_path"`

	BlindKeyBits           int `json:"blind_key_bits"`
	BlindRotationPeriodMin int `json:"blind_rotation_period_mins"`
}

func defaultConfig() *Config {
	return &Config{
		ListenAddress:          DefaultListenAddress,
		Port:                   DefaultPort,
		DBFilePath:             DefaultDBFilePath,
		BlindKeyBits:           DefaultBlindKeyBits,
		BlindRotationPeriodMin: DefaultBlindRotationPeriodMin,
	}
}

// Load reads the optional JSON file at path, then applies environment
// overrides. Validation is left to Validate so callers can layer their
// own overrides first.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LISTEN_ADDRESS"); v != "" {
		cfg.ListenAddress = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("SIGNING_KEY_PATH"); v != "" {
		cfg.SigningKeyPath = v
	}
	if v := os.Getenv("TOKEN_ISSUER"); v != "" {
		cfg.TokenIssuer = v
	}
	if v := os.Getenv("CLIENT_IDS"); v != "" {
		cfg.ClientIDs = v
	}
	if v := os.Getenv("DB_FILE_PATH"); v != "" {
		cfg.DBFilePath = v
	}
}

// Validate checks the combined configuration.
func (c *Config) Validate() error {
	if c.SigningKeyPath == "" {
		return fmt.Errorf("%w: signing_key_path is required", ErrInvalidConfig)
	}
	if c.TokenIssuer == "" {
		return fmt.Errorf("%w: token_issuer is required", ErrInvalidConfig)
	}
	if _, err := field.NewIssuer(c.TokenIssuer); err != nil {
		return fmt.Errorf("%w: token_issuer: %v", ErrInvalidConfig, err)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	return nil
}

// Issuer returns the validated issuer.
func (c *Config) Issuer() (field.Issuer, error) {
	return field.NewIssuer(c.TokenIssuer)
}

// Audiences returns the configured client-id policy, or nil when any
// client is accepted.
func (c *Config) Audiences() (*field.Audiences, error) {
	if c.ClientIDs == "" {
		return nil, nil
	}
	aud, err := field.NewAudiences(c.ClientIDs)
	if err != nil {
		return nil, err
	}
	return &aud, nil
}
