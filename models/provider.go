package models

import (
	"fmt"
	"strings"
)

// Provider is a closed set of upstream OAuth providers. Parse strings at the
// HTTP boundary with ParseProvider; never construct a Provider from raw input.
type Provider string

const (
	ProviderKakao   Provider = "kakao"
	ProviderNaver   Provider = "naver"
	ProviderSpotify Provider = "spotify"
)

// Providers lists every supported provider.
var Providers = []Provider{ProviderKakao, ProviderNaver, ProviderSpotify}

func ParseProvider(s string) (Provider, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(s))) {
	case ProviderKakao:
		return ProviderKakao, nil
	case ProviderNaver:
		return ProviderNaver, nil
	case ProviderSpotify:
		return ProviderSpotify, nil
	default:
		return "", fmt.Errorf("unsupported provider %q", s)
	}
}

func (p Provider) Valid() bool {
	switch p {
	case ProviderKakao, ProviderNaver, ProviderSpotify:
		return true
	default:
		return false
	}
}

// IsSocialLogin reports whether the provider can be used to sign in.
// Spotify is linked to an existing account, never used to sign in.
func (p Provider) IsSocialLogin() bool {
	switch p {
	case ProviderKakao, ProviderNaver:
		return true
	case ProviderSpotify:
		return false
	default:
		return false
	}
}

func (p Provider) String() string {
	return string(p)
}
