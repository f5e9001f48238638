package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"stonetify/models"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "PUBLIC_BASE_URL", "HTTP_UPSTREAM_TIMEOUT", "DB_TYPE", "REDIS_ADDR",
		"TOKEN_HISTORY_LIMIT", "TOKEN_MAX_ROTATIONS_PER_HOUR", "KAKAO_REDIRECT_URI",
		"KAKAO_ADDITIONAL_REDIRECT_URIS", "APP_RETURN_URLS",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	require.Equal(t, "8080", cfg.HTTP.Port)
	require.Equal(t, 12*time.Second, cfg.HTTP.UpstreamTimeout)
	require.Equal(t, "sqlite", cfg.Database.Type)
	require.False(t, cfg.Redis.Enabled())
	require.Equal(t, 5, cfg.Security.TokenHistoryLimit)
	require.Equal(t, 12, cfg.Security.TokenMaxRotationsPerHour)
	require.Equal(t, 5*time.Minute, cfg.Security.StateTTL)
	require.Equal(t, 60*time.Second, cfg.Security.OneTimeCodeTTL)
	require.Equal(t, 5*time.Second, cfg.Security.AccessTokenExpiryBuffer)
	require.Equal(t, []string{"stonetify://oauth"}, cfg.AppReturnURLs)

	kakao, ok := cfg.Providers.Get(models.ProviderKakao)
	require.True(t, ok)
	require.Equal(t, "http://localhost:8080/auth/kakao/callback", kakao.DefaultRedirectURI)
	require.Equal(t, "https://kauth.kakao.com/oauth/token", kakao.TokenURL)
	require.Empty(t, kakao.AdditionalRedirectURIs)

	spotify, ok := cfg.Providers.Get(models.ProviderSpotify)
	require.True(t, ok)
	require.Equal(t, "https://api.spotify.com/v1", spotify.APIBaseURL)
	require.Contains(t, spotify.Scopes, "user-modify-playback-state")
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PUBLIC_BASE_URL", "https://api.stonetify.app/")
	t.Setenv("HTTP_UPSTREAM_TIMEOUT", "3s")
	t.Setenv("TOKEN_HISTORY_LIMIT", "9")
	t.Setenv("TOKEN_MAX_ROTATIONS_PER_HOUR", "not-a-number")
	t.Setenv("NAVER_CLIENT_ID", "naver-client")
	t.Setenv("NAVER_CLIENT_SECRET", "naver-secret")
	t.Setenv("NAVER_ADDITIONAL_REDIRECT_URIS", "stonetify://naver, exp://localhost:8081/--/naver ,")
	t.Setenv("SPOTIFY_API_BASE_URL", "http://127.0.0.1:9999/v1/")
	t.Setenv("APP_RETURN_URLS", "stonetify://oauth,exp://localhost:8081/--/oauth")

	cfg := Load()
	require.Equal(t, 3*time.Second, cfg.HTTP.UpstreamTimeout)
	require.Equal(t, 3*time.Second, cfg.HTTP.UpstreamClient().Timeout)
	require.Equal(t, 9, cfg.Security.TokenHistoryLimit)
	require.Equal(t, 12, cfg.Security.TokenMaxRotationsPerHour)
	require.Len(t, cfg.AppReturnURLs, 2)

	naver := cfg.Providers[models.ProviderNaver]
	require.True(t, naver.Configured())
	require.Equal(t, "https://api.stonetify.app/auth/naver/callback", naver.DefaultRedirectURI)
	require.Equal(t, []string{"stonetify://naver", "exp://localhost:8081/--/naver"}, naver.AdditionalRedirectURIs)
	require.Equal(t, "http://127.0.0.1:9999/v1", cfg.Providers[models.ProviderSpotify].APIBaseURL)
}

func TestPrintOAuthConfigSummaryReportsMissing(t *testing.T) {
	t.Setenv("KAKAO_CLIENT_ID", "kakao-client-id")
	t.Setenv("KAKAO_CLIENT_SECRET", "kakao-client-secret")
	t.Setenv("NAVER_CLIENT_ID", "")
	t.Setenv("NAVER_CLIENT_SECRET", "")
	t.Setenv("SPOTIFY_CLIENT_ID", "")
	t.Setenv("SPOTIFY_CLIENT_SECRET", "")

	missing := PrintOAuthConfigSummary(zap.NewNop(), Load())
	require.Equal(t, []models.Provider{models.ProviderNaver, models.ProviderSpotify}, missing)
}
