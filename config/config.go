// Package config loads process configuration from the environment, after
// reading an optional .env file.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env       string
	HTTP      HTTPConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Security  SecurityConfig
	Providers Providers
	// AppReturnURLs are the app deep links a callback may hand a one-time
	// code back to.
	AppReturnURLs []string
}

type DatabaseConfig struct {
	Type string `env:"DB_TYPE" envDefault:"sqlite"`
	Path string `env:"DB_PATH" envDefault:"data/stonetify.db"`
	DSN  string `env:"DATABASE_URL"`
}

// RedisConfig is optional. With no address the stores stay in process memory.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	Prefix   string `env:"REDIS_PREFIX" envDefault:"stonetify:"`
}

func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

type SecurityConfig struct {
	SessionSecret            string        `env:"SESSION_SECRET"`
	SessionTTL               time.Duration `env:"SESSION_TTL" envDefault:"720h"`
	StateTTL                 time.Duration `env:"OAUTH_STATE_TTL" envDefault:"5m"`
	OneTimeCodeTTL           time.Duration `env:"ONE_TIME_CODE_TTL" envDefault:"60s"`
	TokenHistoryLimit        int           `env:"TOKEN_HISTORY_LIMIT" envDefault:"5"`
	TokenMaxRotationsPerHour int           `env:"TOKEN_MAX_ROTATIONS_PER_HOUR" envDefault:"12"`
	AccessTokenExpiryBuffer  time.Duration `env:"ACCESS_TOKEN_EXPIRY_BUFFER" envDefault:"5s"`
	SweepInterval            time.Duration `env:"SWEEP_INTERVAL" envDefault:"3m"`
	AuditRetentionDays       int           `env:"AUDIT_RETENTION_DAYS" envDefault:"90"`
}

// Load reads the whole configuration. Unparseable values fall back to their
// defaults.
func Load() Config {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}
	http := loadHTTPConfig()
	return Config{
		Env:           env,
		HTTP:          http,
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Security:      loadSecurityConfig(),
		Providers:     loadProviders(http.PublicBaseURL),
		AppReturnURLs: splitList(envOr("APP_RETURN_URLS", "stonetify://oauth")),
	}
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Type: strings.ToLower(envOr("DB_TYPE", "sqlite")),
		Path: envOr("DB_PATH", "data/stonetify.db"),
		DSN:  os.Getenv("DATABASE_URL"),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:     os.Getenv("REDIS_ADDR"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       envInt("REDIS_DB", 0),
		Prefix:   envOr("REDIS_PREFIX", "stonetify:"),
	}
}

func loadSecurityConfig() SecurityConfig {
	return SecurityConfig{
		SessionSecret:            os.Getenv("SESSION_SECRET"),
		SessionTTL:               envDuration("SESSION_TTL", 720*time.Hour),
		StateTTL:                 envDuration("OAUTH_STATE_TTL", 5*time.Minute),
		OneTimeCodeTTL:           envDuration("ONE_TIME_CODE_TTL", 60*time.Second),
		TokenHistoryLimit:        envInt("TOKEN_HISTORY_LIMIT", 5),
		TokenMaxRotationsPerHour: envInt("TOKEN_MAX_ROTATIONS_PER_HOUR", 12),
		AccessTokenExpiryBuffer:  envDuration("ACCESS_TOKEN_EXPIRY_BUFFER", 5*time.Second),
		SweepInterval:            envDuration("SWEEP_INTERVAL", 3*time.Minute),
		AuditRetentionDays:       envInt("AUDIT_RETENTION_DAYS", 90),
	}
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// splitList parses a comma separated list, dropping blanks.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
