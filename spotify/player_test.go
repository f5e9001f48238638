package spotify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stonetify/config"
	"stonetify/docstore"
	"stonetify/kvstore"
	"stonetify/models"
	"stonetify/oautherr"
	"stonetify/tokens"
	"stonetify/upstream"
	"stonetify/utils"
)

type fakeSpotify struct {
	server       *httptest.Server
	tokenCalls   atomic.Int32
	tokenStatus  int
	devices      []Device
	lastPlayURL  string
	lastPlayBody map[string]any
	nothing      bool
}

func newFakeSpotify(t *testing.T) *fakeSpotify {
	t.Helper()
	f := &fakeSpotify{tokenStatus: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.tokenStatus)
		if f.tokenStatus != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Refresh token revoked"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"fresh","token_type":"Bearer","expires_in":3600}`))
	})

	authed := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer fresh" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":{"status":401,"message":"The access token expired"}}`))
				return
			}
			h(w, r)
		}
	}
	mux.HandleFunc("/v1/me/player/devices", authed(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"devices": f.devices})
	}))
	mux.HandleFunc("/v1/me/player/play", authed(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		f.lastPlayURL = r.URL.String()
		raw, _ := io.ReadAll(r.Body)
		f.lastPlayBody = map[string]any{}
		_ = json.Unmarshal(raw, &f.lastPlayBody)
		w.WriteHeader(http.StatusNoContent)
	}))
	mux.HandleFunc("/v1/me/player/pause", authed(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	mux.HandleFunc("/v1/me/player/next", authed(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"status":404,"message":"Player command failed: No active device found","reason":"NO_ACTIVE_DEVICE"}}`))
	}))
	mux.HandleFunc("/v1/me/player/currently-playing", authed(func(w http.ResponseWriter, r *http.Request) {
		if f.nothing {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_, _ = w.Write([]byte(`{"is_playing":true,"progress_ms":1200,"item":{"id":"4uLU6hMCjMI75M1A2tKUQC","uri":"spotify:track:4uLU6hMCjMI75M1A2tKUQC","name":"Song","duration_ms":200000,"artists":[{"name":"Band"}]}}`))
	}))

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

// newTestPlayer links U to Spotify with a stored access token the fake API
// rejects, so the first call of every test goes through a forced refresh.
func newTestPlayer(t *testing.T, f *fakeSpotify) (*Player, *tokens.Model) {
	t.Helper()
	require.NoError(t, utils.SetEncryptionKey("0123456789abcdef0123456789abcdef"))
	t.Cleanup(utils.ResetEncryptionKey)

	model := tokens.NewModel(docstore.NewMemoryStore(), tokens.Options{})
	expires := time.Now().Add(time.Hour)
	stale, refresh := "stale", "r1"
	_, err := model.Upsert(context.Background(), "U", models.ProviderSpotify, models.TokenUpdate{
		AccessToken:  &stale,
		RefreshToken: &refresh,
		ExpiresAt:    &expires,
	})
	require.NoError(t, err)

	client := upstream.New(config.Providers{models.ProviderSpotify: {
		Provider:     models.ProviderSpotify,
		ClientID:     "spotify-client",
		ClientSecret: "spotify-secret",
		AuthURL:      f.server.URL + "/authorize",
		TokenURL:     f.server.URL + "/token",
		ProfileURL:   f.server.URL + "/v1/me",
		APIBaseURL:   f.server.URL + "/v1/",
	}}, &http.Client{Timeout: 2 * time.Second})
	svc := tokens.NewService(model, client, kvstore.NewMemoryStore(), tokens.ServiceOptions{})
	return NewPlayer(client, svc), model
}

func TestResolveDevice(t *testing.T) {
	devices := []Device{
		{ID: "phone"},
		{ID: "speaker", IsActive: true},
		{ID: "locked", IsRestricted: true},
	}
	tests := []struct {
		name      string
		devices   []Device
		requested string
		want      string
		found     bool
	}{
		{"requested present", devices, "phone", "phone", true},
		{"requested missing falls back to active", devices, "gone", "speaker", true},
		{"restricted requested falls back", devices, "locked", "speaker", true},
		{"no request uses active", devices, "", "speaker", true},
		{"no active uses first", []Device{{ID: "a"}, {ID: "b"}}, "gone", "a", true},
		{"none usable", []Device{{ID: "locked", IsRestricted: true}}, "", "", false},
		{"empty list", nil, "x", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := ResolveDevice(tt.devices, tt.requested)
			require.Equal(t, tt.found, ok)
			require.Equal(t, tt.want, d.ID)
		})
	}
}

func TestDevicesRefreshesRejectedToken(t *testing.T) {
	f := newFakeSpotify(t)
	f.devices = []Device{{ID: "speaker", Name: "Living room", IsActive: true}}
	p, _ := newTestPlayer(t, f)

	devices, err := p.Devices(context.Background(), "U")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	require.Equal(t, int32(1), f.tokenCalls.Load())

	// the refreshed token is cached
	_, err = p.Devices(context.Background(), "U")
	require.NoError(t, err)
	require.Equal(t, int32(1), f.tokenCalls.Load())
}

func TestPlayFallsBackToActiveDevice(t *testing.T) {
	f := newFakeSpotify(t)
	f.devices = []Device{{ID: "phone"}, {ID: "speaker", IsActive: true}}
	p, _ := newTestPlayer(t, f)

	res, err := p.Play(context.Background(), "U", PlayRequest{
		DeviceID: "vanished",
		URIs:     []string{"4uLU6hMCjMI75M1A2tKUQC", "spotify:track:7ouMYWpwJ422jRcDASZB7P"},
	})
	require.NoError(t, err)
	require.Equal(t, &PlayResult{DeviceID: "speaker", FellBack: true}, res)
	require.Contains(t, f.lastPlayURL, "device_id=speaker")
	require.Equal(t, []any{"spotify:track:4uLU6hMCjMI75M1A2tKUQC", "spotify:track:7ouMYWpwJ422jRcDASZB7P"}, f.lastPlayBody["uris"])
}

func TestPlayValidation(t *testing.T) {
	f := newFakeSpotify(t)
	p, _ := newTestPlayer(t, f)
	ctx := context.Background()

	tests := []struct {
		name string
		req  PlayRequest
	}{
		{"short track id", PlayRequest{URIs: []string{"abc"}}},
		{"wrong uri kind", PlayRequest{URIs: []string{"spotify:album:4uLU6hMCjMI75M1A2tKUQC"}}},
		{"bad context", PlayRequest{ContextURI: "https://open.spotify.com/album/x"}},
		{"long device id", PlayRequest{DeviceID: string(make([]byte, 65))}},
		{"uris and context", PlayRequest{URIs: []string{"4uLU6hMCjMI75M1A2tKUQC"}, ContextURI: "spotify:album:4uLU6hMCjMI75M1A2tKUQC"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Play(ctx, "U", tt.req)
			require.ErrorIs(t, err, oautherr.ErrValidation)
		})
	}
	require.Equal(t, int32(0), f.tokenCalls.Load())
}

func TestPlayWithoutDevices(t *testing.T) {
	f := newFakeSpotify(t)
	p, _ := newTestPlayer(t, f)

	_, err := p.Play(context.Background(), "U", PlayRequest{ContextURI: "spotify:playlist:37i9dQZF1DXcBWIGoYBM5M"})
	require.ErrorIs(t, err, oautherr.ErrNotFound)
}

func TestPauseNextAndCurrentlyPlaying(t *testing.T) {
	f := newFakeSpotify(t)
	p, _ := newTestPlayer(t, f)
	ctx := context.Background()

	require.NoError(t, p.Pause(ctx, "U", ""))

	err := p.Next(ctx, "U", "speaker")
	require.ErrorIs(t, err, oautherr.ErrNotFound)

	cp, err := p.CurrentlyPlaying(ctx, "U")
	require.NoError(t, err)
	require.True(t, cp.IsPlaying)
	require.Equal(t, "Song", cp.Item.Name)

	f.nothing = true
	cp, err = p.CurrentlyPlaying(ctx, "U")
	require.NoError(t, err)
	require.Nil(t, cp)
}

func TestRevokedRefreshSurfacesReauth(t *testing.T) {
	f := newFakeSpotify(t)
	f.tokenStatus = http.StatusBadRequest
	p, model := newTestPlayer(t, f)

	_, err := p.Devices(context.Background(), "U")
	require.ErrorIs(t, err, oautherr.ErrReauthRequired)

	rec, err := model.GetByUser(context.Background(), "U", models.ProviderSpotify)
	require.NoError(t, err)
	require.True(t, rec.Revoked)
	require.Nil(t, rec.RefreshTokenEnc)
}
