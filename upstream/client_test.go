package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stonetify/config"
	"stonetify/models"
	"stonetify/oautherr"
)

type fakeProvider struct {
	server    *httptest.Server
	lastForm  url.Values
	lastAuth  string
	tokenResp func(form url.Values) (int, any)
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	f := &fakeProvider{}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		f.lastForm = r.PostForm
		f.lastAuth = r.Header.Get("Authorization")
		status, body := f.tokenResp(r.PostForm)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	})
	mux.HandleFunc("/kakao/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good-access" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"id":4242,"kakao_account":{"email":"a@kakao.com","profile":{"nickname":"Kim"}}}`))
	})
	mux.HandleFunc("/naver/me", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"resultcode":"00","message":"success","response":{"id":"nv-1","email":"b@naver.com","nickname":"Lee"}}`))
	})
	mux.HandleFunc("/spotify/me", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"sp-1","email":"c@example.com","display_name":"Park"}`))
	})
	mux.HandleFunc("/kakao/unlink", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":4242}`))
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeProvider) client() *Client {
	providers := config.Providers{}
	for _, p := range models.Providers {
		providers[p] = config.ProviderConfig{
			Provider:           p,
			ClientID:           string(p) + "-client",
			ClientSecret:       string(p) + "-secret",
			DefaultRedirectURI: "stonetify://" + string(p),
			AuthURL:            f.server.URL + "/authorize",
			TokenURL:           f.server.URL + "/token",
			ProfileURL:         f.server.URL + "/" + string(p) + "/me",
			Scopes:             []string{"a", "b"},
		}
	}
	kakao := providers[models.ProviderKakao]
	kakao.UnlinkURL = f.server.URL + "/kakao/unlink"
	providers[models.ProviderKakao] = kakao
	return New(providers, &http.Client{Timeout: 2 * time.Second})
}

func TestExchangeSendsFormAndPKCE(t *testing.T) {
	f := newFakeProvider(t)
	f.tokenResp = func(url.Values) (int, any) {
		return http.StatusOK, map[string]any{
			"access_token":  "a1",
			"refresh_token": "r1",
			"token_type":    "bearer",
			"expires_in":    3600,
			"scope":         "profile",
		}
	}

	res, err := f.client().Exchange(context.Background(), ExchangeParams{
		Provider:     models.ProviderKakao,
		Code:         "the-code",
		CodeVerifier: "verifier",
		RedirectURI:  "stonetify://kakao",
	})
	require.NoError(t, err)
	require.Equal(t, "a1", res.AccessToken)
	require.Equal(t, "r1", res.RefreshToken)
	require.Equal(t, "profile", res.Scope)
	require.InDelta(t, 3600, res.ExpiresIn, 5)
	require.WithinDuration(t, time.Now().Add(time.Hour), res.ExpiresAt, 5*time.Second)

	require.Equal(t, "authorization_code", f.lastForm.Get("grant_type"))
	require.Equal(t, "the-code", f.lastForm.Get("code"))
	require.Equal(t, "verifier", f.lastForm.Get("code_verifier"))
	require.Equal(t, "stonetify://kakao", f.lastForm.Get("redirect_uri"))
	// kakao authenticates the client in the form body
	require.Equal(t, "kakao-secret", f.lastForm.Get("client_secret"))
	require.Empty(t, f.lastAuth)
}

func TestSpotifyUsesBasicAuth(t *testing.T) {
	f := newFakeProvider(t)
	f.tokenResp = func(url.Values) (int, any) {
		return http.StatusOK, map[string]any{"access_token": "a1", "refresh_token": "r1", "expires_in": 3600}
	}

	_, err := f.client().Exchange(context.Background(), ExchangeParams{Provider: models.ProviderSpotify, Code: "c"})
	require.NoError(t, err)
	require.Contains(t, f.lastAuth, "Basic ")
	require.Empty(t, f.lastForm.Get("client_secret"))
}

func TestRefreshDetectsRotation(t *testing.T) {
	f := newFakeProvider(t)
	rotate := false
	f.tokenResp = func(form url.Values) (int, any) {
		body := map[string]any{"access_token": "a2", "expires_in": 3600}
		if rotate {
			body["refresh_token"] = "r2"
		}
		return http.StatusOK, body
	}
	c := f.client()

	res, err := c.Refresh(context.Background(), models.ProviderNaver, "r1")
	require.NoError(t, err)
	require.Equal(t, "refresh_token", f.lastForm.Get("grant_type"))
	require.Equal(t, "r1", f.lastForm.Get("refresh_token"))
	require.Equal(t, "a2", res.AccessToken)
	require.Empty(t, res.RefreshToken)

	rotate = true
	res, err = c.Refresh(context.Background(), models.ProviderNaver, "r1")
	require.NoError(t, err)
	require.Equal(t, "r2", res.RefreshToken)
}

func TestRefreshClassifiesErrors(t *testing.T) {
	f := newFakeProvider(t)
	c := f.client()

	f.tokenResp = func(url.Values) (int, any) {
		return http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "expired"}
	}
	_, err := c.Refresh(context.Background(), models.ProviderKakao, "r1")
	require.True(t, oautherr.IsReauthRequired(err), err)

	f.tokenResp = func(url.Values) (int, any) {
		return http.StatusServiceUnavailable, map[string]any{"error": "server_error"}
	}
	_, err = c.Refresh(context.Background(), models.ProviderKakao, "r1")
	require.True(t, oautherr.IsDependency(err), err)

	_, err = c.Refresh(context.Background(), models.ProviderKakao, "")
	require.True(t, oautherr.IsReauthRequired(err))
}

func TestRefreshTimeoutIsDependency(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer slow.Close()

	c := New(config.Providers{models.ProviderKakao: {
		Provider: models.ProviderKakao, ClientID: "id", ClientSecret: "secret", TokenURL: slow.URL,
	}}, &http.Client{Timeout: 50 * time.Millisecond})

	_, err := c.Refresh(context.Background(), models.ProviderKakao, "r1")
	require.True(t, oautherr.IsDependency(err), err)
}

func TestUnconfiguredProvider(t *testing.T) {
	c := New(config.Providers{}, nil)
	_, err := c.Refresh(context.Background(), models.ProviderKakao, "r1")
	require.ErrorIs(t, err, oautherr.ErrMissingConfig)
}

func TestAuthCodeURL(t *testing.T) {
	f := newFakeProvider(t)
	raw, err := f.client().AuthCodeURL(models.ProviderKakao, "st", "stonetify://kakao", "challenge")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	require.Equal(t, "st", q.Get("state"))
	require.Equal(t, "kakao-client", q.Get("client_id"))
	require.Equal(t, "challenge", q.Get("code_challenge"))
	require.Equal(t, "S256", q.Get("code_challenge_method"))
	require.Equal(t, "a,b", q.Get("scope"))

	raw, err = f.client().AuthCodeURL(models.ProviderSpotify, "st", "", "")
	require.NoError(t, err)
	u, err = url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "a b", u.Query().Get("scope"))
	require.Equal(t, "stonetify://spotify", u.Query().Get("redirect_uri"))
	require.Empty(t, u.Query().Get("code_challenge"))
}

func TestProfiles(t *testing.T) {
	f := newFakeProvider(t)
	c := f.client()
	ctx := context.Background()

	p, err := c.Profile(ctx, models.ProviderKakao, "good-access")
	require.NoError(t, err)
	require.Equal(t, &Profile{ID: "4242", Email: "a@kakao.com", Name: "Kim"}, p)

	_, err = c.Profile(ctx, models.ProviderKakao, "bad-access")
	require.True(t, oautherr.IsDependency(err))
	require.True(t, IsUnauthorized(err))

	p, err = c.Profile(ctx, models.ProviderNaver, "x")
	require.NoError(t, err)
	require.Equal(t, &Profile{ID: "nv-1", Email: "b@naver.com", Name: "Lee"}, p)

	p, err = c.Profile(ctx, models.ProviderSpotify, "x")
	require.NoError(t, err)
	require.Equal(t, "Park", p.Name)

	require.NoError(t, c.Unlink(ctx, models.ProviderKakao, "good-access"))
	require.NoError(t, c.Unlink(ctx, models.ProviderSpotify, "x"))
}
