package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"stonetify/models"
	"stonetify/oautherr"
)

// Profile is the provider-side identity of a linked account.
type Profile struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// APIError is a non-2xx response from a provider API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream API error: %d - %s", e.Status, e.Body)
}

// IsUnauthorized reports whether err carries a 401 from a provider API,
// meaning the access token was rejected.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// Do sends req with a bearer token and returns the body of a 2xx response.
// A 204 returns a nil body.
func (c *Client) Do(req *http.Request, accessToken string) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if req.Body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	return body, nil
}

// Profile fetches the account behind accessToken.
func (c *Client) Profile(ctx context.Context, provider models.Provider, accessToken string) (*Profile, error) {
	const op = "upstream.Profile"
	pc, err := c.Provider(provider)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pc.ProfileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	body, err := c.Do(req, accessToken)
	if err != nil {
		return nil, oautherr.Dependency(op, err)
	}

	profile, err := parseProfile(provider, body)
	if err != nil {
		return nil, oautherr.Dependency(op, err)
	}
	if profile.ID == "" {
		return nil, oautherr.Dependency(op, errors.New("profile response has no id"))
	}
	return profile, nil
}

func parseProfile(provider models.Provider, body []byte) (*Profile, error) {
	switch provider {
	case models.ProviderKakao:
		var r struct {
			ID           json.Number `json:"id"`
			KakaoAccount struct {
				Email   string `json:"email"`
				Profile struct {
					Nickname string `json:"nickname"`
				} `json:"profile"`
			} `json:"kakao_account"`
			Properties struct {
				Nickname string `json:"nickname"`
			} `json:"properties"`
		}
		if err := json.Unmarshal(body, &r); err != nil {
			return nil, fmt.Errorf("failed to parse kakao profile: %w", err)
		}
		name := r.KakaoAccount.Profile.Nickname
		if name == "" {
			name = r.Properties.Nickname
		}
		return &Profile{ID: r.ID.String(), Email: r.KakaoAccount.Email, Name: name}, nil

	case models.ProviderNaver:
		var r struct {
			ResultCode string `json:"resultcode"`
			Message    string `json:"message"`
			Response   struct {
				ID       string `json:"id"`
				Email    string `json:"email"`
				Name     string `json:"name"`
				Nickname string `json:"nickname"`
			} `json:"response"`
		}
		if err := json.Unmarshal(body, &r); err != nil {
			return nil, fmt.Errorf("failed to parse naver profile: %w", err)
		}
		if r.ResultCode != "" && r.ResultCode != "00" {
			return nil, fmt.Errorf("naver profile error: %s %s", r.ResultCode, r.Message)
		}
		name := r.Response.Name
		if name == "" {
			name = r.Response.Nickname
		}
		return &Profile{ID: r.Response.ID, Email: r.Response.Email, Name: name}, nil

	case models.ProviderSpotify:
		var r struct {
			ID          string `json:"id"`
			Email       string `json:"email"`
			DisplayName string `json:"display_name"`
		}
		if err := json.Unmarshal(body, &r); err != nil {
			return nil, fmt.Errorf("failed to parse spotify profile: %w", err)
		}
		return &Profile{ID: r.ID, Email: r.Email, Name: r.DisplayName}, nil

	default:
		return nil, fmt.Errorf("unsupported provider %q", provider)
	}
}

// Unlink asks the provider to drop the app's grant. Spotify has no such
// endpoint, so it is a no-op there.
func (c *Client) Unlink(ctx context.Context, provider models.Provider, accessToken string) error {
	const op = "upstream.Unlink"
	pc, err := c.Provider(provider)
	if err != nil {
		return err
	}
	if accessToken == "" || pc.UnlinkURL == "" {
		return nil
	}

	var req *http.Request
	switch provider {
	case models.ProviderKakao:
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, pc.UnlinkURL, nil)
	case models.ProviderNaver:
		form := url.Values{}
		form.Set("grant_type", "delete")
		form.Set("client_id", pc.ClientID)
		form.Set("client_secret", pc.ClientSecret)
		form.Set("access_token", accessToken)
		form.Set("service_provider", "NAVER")
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, pc.UnlinkURL, strings.NewReader(form.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", op, err)
	}

	if _, err := c.Do(req, accessToken); err != nil {
		return oautherr.Dependency(op, err)
	}
	return nil
}
