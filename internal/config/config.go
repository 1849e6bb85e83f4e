// Package config defines all configuration for the trader-analytics service.
// Config is env-var-first (this service runs from a container, not a local
// YAML file): a local .env is loaded for development convenience, then
// every field is read through viper's automatic env binding.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the top-level configuration, one field group per component.
type Config struct {
	ClickHouse ClickHouseConfig
	API        APIConfig
	Chain      ChainConfig
	Auth       AuthConfig
	Store      StoreConfig
	Logging    LoggingConfig
}

// ClickHouseConfig points at the analytics database.
type ClickHouseConfig struct {
	URL      string
	User     string
	Password string
	Database string
}

// APIConfig controls the HTTP/WS server.
type APIConfig struct {
	Port           int
	GammaURL       string
	AccessCode     string   // optional gate; empty disables the check
	AllowedOrigins []string // CORS/WS-origin allowlist; when empty, CORS allows any origin and WS upgrades allow same-host/localhost only
}

// ChainConfig points at the Polygon RPC/WS endpoints used by WSSubscriber.
type ChainConfig struct {
	WSURL          string
	RPCURL         string
	WebhookSecret  string // RINDEXER_WEBHOOK_SECRET; empty disables signature check
}

// AuthConfig holds the JWT signing secret. Required — see Validate.
type AuthConfig struct {
	JWTSecret string
}

// StoreConfig sets where the local SQLite user/trader-list database lives.
type StoreConfig struct {
	UserDBPath string
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads configuration from the environment (and a local .env file, if
// present — a no-op in production where the env is already populated).
func Load() (*Config, error) {
	_ = godotenv.Load() // best-effort; absence of .env is not an error

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("API_PORT", 3001)
	v.SetDefault("GAMMA_API_URL", "https://gamma-api.polymarket.com")
	v.SetDefault("USER_DB_PATH", "data/users.db")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("CLICKHOUSE_DB", "poly_dearboard")

	cfg := &Config{
		ClickHouse: ClickHouseConfig{
			URL:      v.GetString("CLICKHOUSE_URL"),
			User:     v.GetString("CLICKHOUSE_USER"),
			Password: v.GetString("CLICKHOUSE_PASSWORD"),
			Database: v.GetString("CLICKHOUSE_DB"),
		},
		API: APIConfig{
			Port:           v.GetInt("API_PORT"),
			GammaURL:       v.GetString("GAMMA_API_URL"),
			AccessCode:     v.GetString("ACCESS_CODE"),
			AllowedOrigins: v.GetStringSlice("ALLOWED_ORIGINS"),
		},
		Chain: ChainConfig{
			WSURL:         v.GetString("POLYGON_WS_URL"),
			RPCURL:        v.GetString("POLYGON_RPC_URL"),
			WebhookSecret: v.GetString("RINDEXER_WEBHOOK_SECRET"),
		},
		Auth: AuthConfig{
			JWTSecret: v.GetString("JWT_SECRET"),
		},
		Store: StoreConfig{
			UserDBPath: v.GetString("USER_DB_PATH"),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
	}

	return cfg, nil
}

// Validate checks all required fields. A missing JWT_SECRET is fatal —
// sign-in issues tokens that must stay unforgeable across restarts.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.ClickHouse.URL == "" {
		return fmt.Errorf("CLICKHOUSE_URL is required")
	}
	if c.Chain.WSURL == "" {
		return fmt.Errorf("POLYGON_WS_URL is required")
	}
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("POLYGON_RPC_URL is required")
	}
	if c.API.Port <= 0 {
		return fmt.Errorf("API_PORT must be > 0")
	}
	return nil
}

// JWTExpiry is the fixed access-token lifetime used by internal/auth.
const JWTExpiry = 7 * 24 * time.Hour
