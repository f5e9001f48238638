package config

import (
	"go.uber.org/zap"

	"stonetify/models"
	"stonetify/utils"
)

// PrintOAuthConfigSummary logs which providers are usable, with secrets masked.
// It returns the providers that are missing a client id or secret.
func PrintOAuthConfigSummary(logger *zap.Logger, cfg Config) []models.Provider {
	var missing []models.Provider
	for _, p := range models.Providers {
		pc := cfg.Providers[p]
		if !pc.Configured() {
			missing = append(missing, p)
			logger.Warn("oauth provider not configured",
				zap.String("provider", p.String()),
				zap.Bool("client_id_set", pc.ClientID != ""),
				zap.Bool("client_secret_set", pc.ClientSecret != ""),
			)
			continue
		}
		logger.Info("oauth provider configured",
			zap.String("provider", p.String()),
			zap.String("client_id", utils.MaskValue(pc.ClientID)),
			zap.String("client_secret", utils.MaskValue(pc.ClientSecret)),
			zap.String("redirect_uri", pc.DefaultRedirectURI),
			zap.Int("additional_redirect_uris", len(pc.AdditionalRedirectURIs)),
		)
	}

	if cfg.Security.SessionSecret == "" {
		logger.Warn("SESSION_SECRET is not set")
	}
	if _, err := utils.LoadEncryptionKey(); err != nil {
		logger.Warn("encryption key unavailable", zap.Error(err))
	}
	if cfg.Redis.Enabled() {
		logger.Info("shared state backend", zap.String("redis_addr", cfg.Redis.Addr))
	} else {
		logger.Info("shared state backend", zap.String("backend", "memory"))
	}
	return missing
}
