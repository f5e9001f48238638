package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"stonetify/kvstore"
	"stonetify/models"
	"stonetify/oautherr"
)

const (
	DefaultOneTimeCodeTTL = 60 * time.Second

	codeBytes     = 32
	codeKeyPrefix = "oauth:code:"
)

// OneTimeCode carries a session token from a redirect to the app without the
// token itself ever appearing in a URL.
type OneTimeCode struct {
	Token     string          `json:"token"`
	Provider  models.Provider `json:"provider"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

type OneTimeCodeStore struct {
	kv  kvstore.Store
	ttl time.Duration
	now func() time.Time
}

func NewOneTimeCodeStore(kv kvstore.Store, ttl time.Duration) *OneTimeCodeStore {
	if ttl <= 0 {
		ttl = DefaultOneTimeCodeTTL
	}
	return &OneTimeCodeStore{kv: kv, ttl: ttl, now: time.Now}
}

func (s *OneTimeCodeStore) SetClock(now func() time.Time) {
	s.now = now
}

func (s *OneTimeCodeStore) Issue(ctx context.Context, token string, provider models.Provider) (string, error) {
	const op = "auth.IssueOneTimeCode"
	if token == "" {
		return "", oautherr.Validation(op, "token is required")
	}
	if !provider.Valid() {
		return "", oautherr.Validation(op, "unsupported provider %q", provider)
	}

	if _, err := s.kv.SweepExpired(ctx); err != nil {
		return "", oautherr.Dependency(op, err)
	}

	code, err := randomToken(codeBytes)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	raw, err := json.Marshal(OneTimeCode{
		Token:     token,
		Provider:  provider,
		ExpiresAt: s.now().Add(s.ttl).UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if err := s.kv.Set(ctx, codeKeyPrefix+code, raw, s.ttl); err != nil {
		return "", oautherr.Dependency(op, err)
	}
	return code, nil
}

// Consume deletes code and returns its payload, or nil if the code is unknown,
// already used, or expired.
func (s *OneTimeCodeStore) Consume(ctx context.Context, code string) (*OneTimeCode, error) {
	const op = "auth.ConsumeOneTimeCode"
	if code == "" {
		return nil, nil
	}

	if _, err := s.kv.SweepExpired(ctx); err != nil {
		return nil, oautherr.Dependency(op, err)
	}

	raw, ok, err := s.kv.Take(ctx, codeKeyPrefix+code)
	if err != nil {
		return nil, oautherr.Dependency(op, err)
	}
	if !ok {
		return nil, nil
	}

	var out OneTimeCode
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, nil
	}
	if !s.now().Before(out.ExpiresAt) {
		return nil, nil
	}
	return &out, nil
}
