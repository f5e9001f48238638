package config

import (
	"os"
	"strings"

	"stonetify/models"
)

// ProviderConfig holds the OAuth client registration and endpoints for one
// upstream provider. Endpoints can be overridden so tests can point them at a
// local server.
type ProviderConfig struct {
	Provider               models.Provider
	ClientID               string
	ClientSecret           string
	DefaultRedirectURI     string
	AdditionalRedirectURIs []string
	AuthURL                string
	TokenURL               string
	ProfileURL             string
	UnlinkURL              string
	APIBaseURL             string
	Scopes                 []string
}

func (p ProviderConfig) Configured() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

type Providers map[models.Provider]ProviderConfig

func (p Providers) Get(provider models.Provider) (ProviderConfig, bool) {
	cfg, ok := p[provider]
	return cfg, ok
}

type providerDefaults struct {
	authURL    string
	tokenURL   string
	profileURL string
	unlinkURL  string
	apiBaseURL string
	scopes     string
}

var defaultEndpoints = map[models.Provider]providerDefaults{
	models.ProviderKakao: {
		authURL:    "https://kauth.kakao.com/oauth/authorize",
		tokenURL:   "https://kauth.kakao.com/oauth/token",
		profileURL: "https://kapi.kakao.com/v2/user/me",
		unlinkURL:  "https://kapi.kakao.com/v1/user/unlink",
		scopes:     "profile_nickname,account_email",
	},
	models.ProviderNaver: {
		authURL:    "https://nid.naver.com/oauth2.0/authorize",
		tokenURL:   "https://nid.naver.com/oauth2.0/token",
		profileURL: "https://openapi.naver.com/v1/nid/me",
		unlinkURL:  "https://nid.naver.com/oauth2.0/token",
	},
	models.ProviderSpotify: {
		authURL:    "https://accounts.spotify.com/authorize",
		tokenURL:   "https://accounts.spotify.com/api/token",
		profileURL: "https://api.spotify.com/v1/me",
		apiBaseURL: "https://api.spotify.com/v1",
		scopes: "user-read-email,user-read-private,user-read-playback-state," +
			"user-modify-playback-state,user-read-currently-playing,streaming",
	},
}

func loadProviders(publicBaseURL string) Providers {
	out := make(Providers, len(models.Providers))
	for _, p := range models.Providers {
		out[p] = loadProvider(p, publicBaseURL)
	}
	return out
}

// loadProvider reads <PROVIDER>_CLIENT_ID, _CLIENT_SECRET, _REDIRECT_URI,
// _ADDITIONAL_REDIRECT_URIS and the endpoint overrides.
func loadProvider(p models.Provider, publicBaseURL string) ProviderConfig {
	prefix := strings.ToUpper(string(p)) + "_"
	def := defaultEndpoints[p]

	return ProviderConfig{
		Provider:               p,
		ClientID:               os.Getenv(prefix + "CLIENT_ID"),
		ClientSecret:           os.Getenv(prefix + "CLIENT_SECRET"),
		DefaultRedirectURI:     envOr(prefix+"REDIRECT_URI", publicBaseURL+"/auth/"+string(p)+"/callback"),
		AdditionalRedirectURIs: splitList(os.Getenv(prefix + "ADDITIONAL_REDIRECT_URIS")),
		AuthURL:                envOr(prefix+"AUTH_URL", def.authURL),
		TokenURL:               envOr(prefix+"TOKEN_URL", def.tokenURL),
		ProfileURL:             envOr(prefix+"PROFILE_URL", def.profileURL),
		UnlinkURL:              envOr(prefix+"UNLINK_URL", def.unlinkURL),
		APIBaseURL:             strings.TrimRight(envOr(prefix+"API_BASE_URL", def.apiBaseURL), "/"),
		Scopes:                 splitList(envOr(prefix+"SCOPES", def.scopes)),
	}
}
