package config

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

func init() {
	_ = godotenv.Load()
}

type HTTPConfig struct {
	Port            string        `env:"PORT" envDefault:"8080"`
	PublicBaseURL   string        `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`
	UpstreamTimeout time.Duration `env:"HTTP_UPSTREAM_TIMEOUT" envDefault:"12s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RateLimitRPM    int           `env:"RATE_LIMIT_RPM" envDefault:"60"`
}

func loadHTTPConfig() HTTPConfig {
	cfg := HTTPConfig{
		Port:            "8080",
		PublicBaseURL:   "http://localhost:8080",
		UpstreamTimeout: 12 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		RateLimitRPM:    60,
	}

	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}

	if v := os.Getenv("PUBLIC_BASE_URL"); v != "" {
		cfg.PublicBaseURL = strings.TrimRight(v, "/")
	}

	if v := os.Getenv("HTTP_UPSTREAM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.UpstreamTimeout = d
		}
	}

	if v := os.Getenv("HTTP_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ShutdownTimeout = d
		}
	}

	if v := os.Getenv("RATE_LIMIT_RPM"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitRPM = i
		}
	}

	return cfg
}

// UpstreamClient is used for every call to a provider token endpoint or API.
func (c HTTPConfig) UpstreamClient() *http.Client {
	return &http.Client{
		Timeout: c.UpstreamTimeout,
	}
}
