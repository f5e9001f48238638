// Package spotify proxies playback control to the Spotify Web API on behalf
// of a linked user. Access tokens come from the token service, which refreshes
// them as needed; a rejected token is refreshed once and the call retried.
package spotify

import (
	"bytes"
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
	"stonetify/upstream"
	"stonetify/utils"
)

// TokenSource runs fn with a live Spotify access token for userID.
type TokenSource interface {
	WithAccessToken(ctx context.Context, userID string, provider models.Provider, fn func(accessToken string) error) error
}

type Device struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	IsActive      bool   `json:"is_active"`
	IsRestricted  bool   `json:"is_restricted"`
	VolumePercent *int   `json:"volume_percent"`
}

type PlayRequest struct {
	DeviceID   string   `json:"device_id,omitempty"`
	URIs       []string `json:"uris,omitempty"`
	ContextURI string   `json:"context_uri,omitempty"`
	PositionMS int      `json:"position_ms,omitempty"`
}

type PlayResult struct {
	DeviceID string `json:"deviceId"`
	// FellBack is set when the requested device was unavailable.
	FellBack bool `json:"fellBack"`
}

type Track struct {
	ID         string   `json:"id"`
	URI        string   `json:"uri"`
	Name       string   `json:"name"`
	DurationMS int      `json:"duration_ms"`
	Artists    []Artist `json:"artists"`
	Album      struct {
		Name string `json:"name"`
	} `json:"album"`
}

type Artist struct {
	Name string `json:"name"`
}

type CurrentlyPlaying struct {
	IsPlaying  bool    `json:"is_playing"`
	ProgressMS int     `json:"progress_ms"`
	Item       *Track  `json:"item"`
	Device     *Device `json:"device,omitempty"`
}

type Player struct {
	client *upstream.Client
	tokens TokenSource
}

func NewPlayer(client *upstream.Client, tokens TokenSource) *Player {
	return &Player{client: client, tokens: tokens}
}

func (p *Player) baseURL() (string, error) {
	pc, err := p.client.Provider(models.ProviderSpotify)
	if err != nil {
		return "", err
	}
	if pc.APIBaseURL == "" {
		return "", oautherr.MissingConfig("spotify", "Spotify API base URL is not configured")
	}
	return strings.TrimSuffix(pc.APIBaseURL, "/"), nil
}

// call sends one Web API request. body may be nil.
func (p *Player) call(ctx context.Context, userID, op, method, path string, query url.Values, body any) ([]byte, error) {
	base, err := p.baseURL()
	if err != nil {
		return nil, err
	}
	endpoint := base + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("%s: failed to encode body: %w", op, err)
		}
	}

	var out []byte
	err = p.tokens.WithAccessToken(ctx, userID, models.ProviderSpotify, func(accessToken string) error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, reqErr := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if reqErr != nil {
			return fmt.Errorf("%s: failed to create request: %w", op, reqErr)
		}
		resp, doErr := p.client.Do(req, accessToken)
		out = resp
		return doErr
	})
	if err != nil {
		return nil, classify(op, err)
	}
	return out, nil
}

func classify(op string, err error) error {
	if _, ok := oautherr.As(err); ok {
		return err
	}
	var apiErr *upstream.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusNotFound:
			return oautherr.New(oautherr.KindNotFound, op, "no active Spotify device")
		case http.StatusTooManyRequests:
			return oautherr.RateLimited(op, "Spotify API rate limit reached")
		}
	}
	return oautherr.Dependency(op, err)
}

func (p *Player) Devices(ctx context.Context, userID string) ([]Device, error) {
	body, err := p.call(ctx, userID, "spotify.Devices", http.MethodGet, "/me/player/devices", nil, nil)
	if err != nil {
		return nil, err
	}
	var r struct {
		Devices []Device `json:"devices"`
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &r); err != nil {
			return nil, oautherr.Dependency("spotify.Devices", fmt.Errorf("failed to parse devices: %w", err))
		}
	}
	if r.Devices == nil {
		r.Devices = []Device{}
	}
	return r.Devices, nil
}

// ResolveDevice picks the requested device when it is listed, else the
// active device, else the first usable one.
func ResolveDevice(devices []Device, requested string) (Device, bool) {
	var usable []Device
	for _, d := range devices {
		if d.ID != "" && !d.IsRestricted {
			usable = append(usable, d)
		}
	}
	if requested != "" {
		for _, d := range usable {
			if d.ID == requested {
				return d, true
			}
		}
	}
	for _, d := range usable {
		if d.IsActive {
			return d, true
		}
	}
	if len(usable) > 0 {
		return usable[0], true
	}
	return Device{}, false
}

func (p *Player) Play(ctx context.Context, userID string, req PlayRequest) (*PlayResult, error) {
	const op = "spotify.Play"
	if v := utils.Merge(
		utils.ValidateDeviceID(req.DeviceID),
		utils.ValidateSpotifyTrackURIs(req.URIs),
		utils.ValidateSpotifyContextURI(req.ContextURI),
	); v.HasErrors() {
		return nil, oautherr.Validation(op, "%s", v.Error())
	}
	if len(req.URIs) > 0 && req.ContextURI != "" {
		return nil, oautherr.Validation(op, "uris and context_uri are mutually exclusive")
	}
	if req.PositionMS < 0 {
		return nil, oautherr.Validation(op, "position_ms cannot be negative")
	}

	devices, err := p.Devices(ctx, userID)
	if err != nil {
		return nil, err
	}
	device, ok := ResolveDevice(devices, req.DeviceID)
	if !ok {
		return nil, oautherr.New(oautherr.KindNotFound, op, "no available Spotify device")
	}

	body := map[string]any{}
	if len(req.URIs) > 0 {
		uris := make([]string, len(req.URIs))
		for i, u := range req.URIs {
			uris[i], _ = utils.NormalizeSpotifyTrackURI(u)
		}
		body["uris"] = uris
	}
	if req.ContextURI != "" {
		body["context_uri"] = req.ContextURI
	}
	if req.PositionMS > 0 {
		body["position_ms"] = req.PositionMS
	}

	query := url.Values{"device_id": {device.ID}}
	if _, err := p.call(ctx, userID, op, http.MethodPut, "/me/player/play", query, body); err != nil {
		return nil, err
	}
	return &PlayResult{DeviceID: device.ID, FellBack: req.DeviceID != "" && req.DeviceID != device.ID}, nil
}

func (p *Player) Pause(ctx context.Context, userID, deviceID string) error {
	const op = "spotify.Pause"
	if v := utils.ValidateDeviceID(deviceID); v.HasErrors() {
		return oautherr.Validation(op, "%s", v.Error())
	}
	_, err := p.call(ctx, userID, op, http.MethodPut, "/me/player/pause", deviceQuery(deviceID), nil)
	return err
}

func (p *Player) Next(ctx context.Context, userID, deviceID string) error {
	const op = "spotify.Next"
	if v := utils.ValidateDeviceID(deviceID); v.HasErrors() {
		return oautherr.Validation(op, "%s", v.Error())
	}
	_, err := p.call(ctx, userID, op, http.MethodPost, "/me/player/next", deviceQuery(deviceID), nil)
	return err
}

func (p *Player) Previous(ctx context.Context, userID, deviceID string) error {
	const op = "spotify.Previous"
	if v := utils.ValidateDeviceID(deviceID); v.HasErrors() {
		return oautherr.Validation(op, "%s", v.Error())
	}
	_, err := p.call(ctx, userID, op, http.MethodPost, "/me/player/previous", deviceQuery(deviceID), nil)
	return err
}

// CurrentlyPlaying returns nil when nothing is playing.
func (p *Player) CurrentlyPlaying(ctx context.Context, userID string) (*CurrentlyPlaying, error) {
	const op = "spotify.CurrentlyPlaying"
	body, err := p.call(ctx, userID, op, http.MethodGet, "/me/player/currently-playing", nil, nil)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, nil
	}
	var cp CurrentlyPlaying
	if err := json.Unmarshal(body, &cp); err != nil {
		return nil, oautherr.Dependency(op, fmt.Errorf("failed to parse currently playing: %w", err))
	}
	return &cp, nil
}

func deviceQuery(deviceID string) url.Values {
	if deviceID == "" {
		return nil
	}
	return url.Values{"device_id": {deviceID}}
}
