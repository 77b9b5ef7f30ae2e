package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	AuthModeHeader = "header"
	AuthModeJWT    = "jwt"
)

type Config struct {
	HTTPAddr    string
	PostgresDSN string
	LogLevel    string

	AuthMode      string
	JWTSigningKey string
	JWTIssuer     string
	AdminAPIKey   string

	LedgerPrivateKeySeedHex string
	RelayPrivateKeySeedHex  string
	PolicyBundlePath        string

	RateLimitRequests      int
	RateLimitWindowSeconds int
	RateLimitFailClosed    bool
	RateLimitMaxKeys       int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

var defaults = map[string]any{
	"HTTP_ADDR":                 ":8080",
	"LOG_LEVEL":                 "info",
	"RATE_LIMIT_REQUESTS":       0,
	"RATE_LIMIT_WINDOW_SECONDS": 60,
	"RATE_LIMIT_FAIL_CLOSED":    false,
	"RATE_LIMIT_MAX_KEYS":       10000,
	"REDIS_DB":                  0,
}

var keys = []string{
	"HTTP_ADDR", "POSTGRES_DSN", "LOG_LEVEL",
	"AUTH_MODE", "JWT_SIGNING_KEY", "JWT_ISSUER", "ADMIN_API_KEY",
	"LEDGER_PRIVATE_KEY_SEED_HEX", "RELAY_PRIVATE_KEY_SEED_HEX", "POLICY_BUNDLE_PATH",
	"RATE_LIMIT_REQUESTS", "RATE_LIMIT_WINDOW_SECONDS", "RATE_LIMIT_FAIL_CLOSED", "RATE_LIMIT_MAX_KEYS",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
}

// FromEnv reads the process environment.
func FromEnv() Config {
	return FromViper(NewViper())
}

// NewViper returns a viper instance with defaults and environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for _, key := range keys {
		_ = v.BindEnv(key)
	}
	v.AutomaticEnv()
	return v
}

func FromViper(v *viper.Viper) Config {
	return Config{
		HTTPAddr:                v.GetString("HTTP_ADDR"),
		PostgresDSN:             strings.TrimSpace(v.GetString("POSTGRES_DSN")),
		LogLevel:                v.GetString("LOG_LEVEL"),
		AuthMode:                strings.ToLower(strings.TrimSpace(v.GetString("AUTH_MODE"))),
		JWTSigningKey:           v.GetString("JWT_SIGNING_KEY"),
		JWTIssuer:               strings.TrimSpace(v.GetString("JWT_ISSUER")),
		AdminAPIKey:             strings.TrimSpace(v.GetString("ADMIN_API_KEY")),
		LedgerPrivateKeySeedHex: strings.TrimSpace(v.GetString("LEDGER_PRIVATE_KEY_SEED_HEX")),
		RelayPrivateKeySeedHex:  strings.TrimSpace(v.GetString("RELAY_PRIVATE_KEY_SEED_HEX")),
		PolicyBundlePath:        strings.TrimSpace(v.GetString("POLICY_BUNDLE_PATH")),
		RateLimitRequests:       v.GetInt("RATE_LIMIT_REQUESTS"),
		RateLimitWindowSeconds:  v.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
		RateLimitFailClosed:     v.GetBool("RATE_LIMIT_FAIL_CLOSED"),
		RateLimitMaxKeys:        v.GetInt("RATE_LIMIT_MAX_KEYS"),
		RedisAddr:               strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:           v.GetString("REDIS_PASSWORD"),
		RedisDB:                 v.GetInt("REDIS_DB"),
	}
}

// Validate reports settings that cannot produce a working server.
func (c Config) Validate() error {
	switch c.AuthMode {
	case "":
		return fmt.Errorf("AUTH_MODE is required (%q or %q)", AuthModeHeader, AuthModeJWT)
	case AuthModeHeader:
	case AuthModeJWT:
		if c.JWTSigningKey == "" {
			return fmt.Errorf("JWT_SIGNING_KEY is required when AUTH_MODE=%s", AuthModeJWT)
		}
	default:
		return fmt.Errorf("AUTH_MODE must be %q or %q, got %q", AuthModeHeader, AuthModeJWT, c.AuthMode)
	}
	if c.RateLimitRequests < 0 || c.RateLimitWindowSeconds < 0 {
		return fmt.Errorf("rate limit settings must not be negative")
	}
	if c.RateLimitRequests > 0 && c.RateLimitWindowSeconds == 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW_SECONDS is required when RATE_LIMIT_REQUESTS is set")
	}
	return nil
}
