// Package upstream talks to the Kakao, Naver and Spotify OAuth endpoints.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"stonetify/config"
	"stonetify/models"
	"stonetify/oautherr"
)

// TokenResult is a token endpoint response. RefreshToken is empty when the
// provider did not issue a new one.
type TokenResult struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	ExpiresAt    time.Time
	ExpiresIn    int64
}

type ExchangeParams struct {
	Provider     models.Provider
	Code         string
	CodeVerifier string
	RedirectURI  string
	State        string
}

// Client wraps one oauth2.Config per provider and a shared HTTP client whose
// timeout bounds every upstream call.
type Client struct {
	providers config.Providers
	http      *http.Client
}

func New(providers config.Providers, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 12 * time.Second}
	}
	return &Client{providers: providers, http: httpClient}
}

func (c *Client) Provider(provider models.Provider) (config.ProviderConfig, error) {
	pc, ok := c.providers.Get(provider)
	if !ok || !pc.Configured() {
		return config.ProviderConfig{}, oautherr.MissingConfig("upstream", provider.String()+" OAuth client is not configured")
	}
	return pc, nil
}

func (c *Client) oauthConfig(provider models.Provider, redirectURI string) (*oauth2.Config, error) {
	pc, err := c.Provider(provider)
	if err != nil {
		return nil, err
	}
	style := oauth2.AuthStyleInParams
	if provider == models.ProviderSpotify {
		style = oauth2.AuthStyleInHeader
	}
	if redirectURI == "" {
		redirectURI = pc.DefaultRedirectURI
	}
	return &oauth2.Config{
		ClientID:     pc.ClientID,
		ClientSecret: pc.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       scopesFor(provider, pc.Scopes),
		Endpoint: oauth2.Endpoint{
			AuthURL:   pc.AuthURL,
			TokenURL:  pc.TokenURL,
			AuthStyle: style,
		},
	}, nil
}

// scopesFor joins Kakao scopes with commas in a single element; the other
// providers take the standard space separated list.
func scopesFor(provider models.Provider, scopes []string) []string {
	if provider == models.ProviderKakao && len(scopes) > 0 {
		return []string{strings.Join(scopes, ",")}
	}
	return scopes
}

func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.http)
}

// AuthCodeURL builds the provider authorize URL. A non-empty codeChallenge
// adds S256 PKCE parameters.
func (c *Client) AuthCodeURL(provider models.Provider, state, redirectURI, codeChallenge string) (string, error) {
	cfg, err := c.oauthConfig(provider, redirectURI)
	if err != nil {
		return "", err
	}
	var opts []oauth2.AuthCodeOption
	if codeChallenge != "" {
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", codeChallenge),
			oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		)
	}
	return cfg.AuthCodeURL(state, opts...), nil
}

// Exchange trades an authorization code for tokens.
func (c *Client) Exchange(ctx context.Context, p ExchangeParams) (*TokenResult, error) {
	const op = "upstream.Exchange"
	if p.Code == "" {
		return nil, oautherr.Validation(op, "code is required")
	}
	cfg, err := c.oauthConfig(p.Provider, p.RedirectURI)
	if err != nil {
		return nil, err
	}

	var opts []oauth2.AuthCodeOption
	if p.CodeVerifier != "" {
		opts = append(opts, oauth2.SetAuthURLParam("code_verifier", p.CodeVerifier))
	}
	if p.State != "" && p.Provider == models.ProviderNaver {
		opts = append(opts, oauth2.SetAuthURLParam("state", p.State))
	}

	tok, err := cfg.Exchange(c.withHTTPClient(ctx), p.Code, opts...)
	if err != nil {
		return nil, classify(op, err)
	}
	return toResult(tok, ""), nil
}

// Refresh redeems refreshToken for a new access token.
func (c *Client) Refresh(ctx context.Context, provider models.Provider, refreshToken string) (*TokenResult, error) {
	const op = "upstream.Refresh"
	if refreshToken == "" {
		return nil, oautherr.ReauthRequired(op, errors.New("no refresh token on file"))
	}
	cfg, err := c.oauthConfig(provider, "")
	if err != nil {
		return nil, err
	}

	tok, err := cfg.TokenSource(c.withHTTPClient(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, classify(op, err)
	}
	return toResult(tok, refreshToken), nil
}

// toResult drops a refresh token equal to previous; x/oauth2 echoes the old
// refresh token back when the provider does not rotate it.
func toResult(tok *oauth2.Token, previous string) *TokenResult {
	res := &TokenResult{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
		ExpiresAt:   tok.Expiry,
		ExpiresIn:   tok.ExpiresIn,
	}
	if tok.RefreshToken != previous {
		res.RefreshToken = tok.RefreshToken
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		res.Scope = scope
	}
	if res.ExpiresIn == 0 && !tok.Expiry.IsZero() {
		res.ExpiresIn = int64(time.Until(tok.Expiry).Round(time.Second).Seconds())
	}
	return res
}

// classify maps token endpoint failures. invalid_grant means the grant is
// dead and the user must re-link; anything else is a dependency failure the
// caller may retry.
func classify(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode == "invalid_grant" {
			return oautherr.ReauthRequired(op, err)
		}
		return oautherr.Dependency(op, fmt.Errorf("token endpoint: %w", err))
	}
	return oautherr.Dependency(op, err)
}
