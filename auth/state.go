// Package auth implements the OAuth callback handshake: CSRF state, one-time
// code handoff, redirect URI allow-listing, request fingerprints and app
// session tokens.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"stonetify/kvstore"
	"stonetify/models"
	"stonetify/oautherr"
)

const (
	DefaultStateTTL = 5 * time.Minute

	stateBytes     = 32
	stateKeyPrefix = "oauth:state:"
	ownerKeyPrefix = "oauth:owner:"
)

// StateEntry is what an issued state authorizes on callback.
type StateEntry struct {
	State       string            `json:"state"`
	Provider    models.Provider   `json:"provider"`
	UserID      string            `json:"userId,omitempty"`
	Fingerprint string            `json:"fingerprint,omitempty"`
	RedirectURI string            `json:"redirectUri,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ExpiresAt   time.Time         `json:"expiresAt"`
}

type IssueStateParams struct {
	Provider    models.Provider
	UserID      string
	Fingerprint string
	RedirectURI string
	Metadata    map[string]string
}

type ConsumeStateParams struct {
	Provider    models.Provider
	State       string
	UserID      string
	Fingerprint string
}

// StateStore issues single-use OAuth state tokens. An entry is bound either to
// a user id or, for anonymous flows, to a request fingerprint, and each
// (provider, owner) pair holds at most one live state.
type StateStore struct {
	kv  kvstore.Store
	ttl time.Duration
	now func() time.Time
}

func NewStateStore(kv kvstore.Store, ttl time.Duration) *StateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StateStore{kv: kv, ttl: ttl, now: time.Now}
}

func (s *StateStore) SetClock(now func() time.Time) {
	s.now = now
}

func (s *StateStore) TTL() time.Duration {
	return s.ttl
}

func stateKey(state string) string {
	return stateKeyPrefix + state
}

func ownerKey(provider models.Provider, userID, fingerprint string) string {
	if userID != "" {
		return ownerKeyPrefix + string(provider) + ":user:" + userID
	}
	return ownerKeyPrefix + string(provider) + ":fp:" + fingerprint
}

// Issue stores a new state and evicts any state previously issued to the
// same owner for the same provider.
func (s *StateStore) Issue(ctx context.Context, p IssueStateParams) (*StateEntry, error) {
	const op = "auth.IssueState"
	if !p.Provider.Valid() {
		return nil, oautherr.Validation(op, "provider is required")
	}
	if p.UserID == "" && p.Fingerprint == "" {
		return nil, oautherr.Validation(op, "userId or fingerprint is required")
	}

	if _, err := s.kv.SweepExpired(ctx); err != nil {
		return nil, oautherr.Dependency(op, err)
	}

	owner := ownerKey(p.Provider, p.UserID, p.Fingerprint)
	prior, ok, err := s.kv.Get(ctx, owner)
	if err != nil {
		return nil, oautherr.Dependency(op, err)
	}
	if ok {
		if err := s.kv.Delete(ctx, stateKey(string(prior))); err != nil {
			return nil, oautherr.Dependency(op, err)
		}
	}

	state, err := randomToken(stateBytes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	entry := &StateEntry{
		State:       state,
		Provider:    p.Provider,
		UserID:      p.UserID,
		Fingerprint: p.Fingerprint,
		RedirectURI: p.RedirectURI,
		Metadata:    p.Metadata,
		ExpiresAt:   s.now().Add(s.ttl).UTC(),
	}
	if p.UserID != "" {
		// user-bound entries never match on fingerprint
		entry.Fingerprint = ""
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.kv.Set(ctx, stateKey(state), raw, s.ttl); err != nil {
		return nil, oautherr.Dependency(op, err)
	}
	if err := s.kv.Set(ctx, owner, []byte(state), s.ttl); err != nil {
		return nil, oautherr.Dependency(op, err)
	}
	return entry, nil
}

// Consume returns the entry for p.State and deletes it, or nil if the state is
// unknown, expired, for another provider, or owned by someone else. Nothing
// is deleted unless every check passes. Only one concurrent caller can win a
// given state. A non-nil error means the backing store failed.
func (s *StateStore) Consume(ctx context.Context, p ConsumeStateParams) (*StateEntry, error) {
	const op = "auth.ConsumeState"
	if p.State == "" || !p.Provider.Valid() {
		return nil, nil
	}

	if _, err := s.kv.SweepExpired(ctx); err != nil {
		return nil, oautherr.Dependency(op, err)
	}

	raw, ok, err := s.kv.Get(ctx, stateKey(p.State))
	if err != nil {
		return nil, oautherr.Dependency(op, err)
	}
	if !ok {
		return nil, nil
	}

	var entry StateEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, nil
	}
	if !s.matches(&entry, p) {
		return nil, nil
	}

	if _, ok, err = s.kv.Take(ctx, stateKey(p.State)); err != nil {
		return nil, oautherr.Dependency(op, err)
	}
	if !ok {
		return nil, nil
	}

	owner := ownerKey(entry.Provider, entry.UserID, entry.Fingerprint)
	if current, ok, err := s.kv.Get(ctx, owner); err == nil && ok && string(current) == entry.State {
		_ = s.kv.Delete(ctx, owner)
	}
	return &entry, nil
}

func (s *StateStore) matches(entry *StateEntry, p ConsumeStateParams) bool {
	if entry.State != p.State || entry.Provider != p.Provider {
		return false
	}
	if !s.now().Before(entry.ExpiresAt) {
		return false
	}
	if entry.UserID != "" {
		return p.UserID == entry.UserID
	}
	if p.UserID != "" {
		return false
	}
	if entry.Fingerprint != "" && p.Fingerprint != entry.Fingerprint {
		return false
	}
	return true
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
