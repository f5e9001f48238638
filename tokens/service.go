package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"stonetify/kvstore"
	"stonetify/models"
	"stonetify/oautherr"
	"stonetify/upstream"
	"stonetify/utils"
)

const (
	DefaultExpiryBuffer = 5 * time.Second

	cacheKeyPrefix = "oauth:access:"
)

// Upstream is the provider client the service drives.
type Upstream interface {
	Exchange(ctx context.Context, p upstream.ExchangeParams) (*upstream.TokenResult, error)
	Refresh(ctx context.Context, provider models.Provider, refreshToken string) (*upstream.TokenResult, error)
	Profile(ctx context.Context, provider models.Provider, accessToken string) (*upstream.Profile, error)
	Unlink(ctx context.Context, provider models.Provider, accessToken string) error
}

type ServiceOptions struct {
	ExpiryBuffer time.Duration
	Logger       *zap.Logger
}

// Service runs the per-user token lifecycle:
//
//	DISCONNECTED -> exchange -> CONNECTED -> refresh -> CONNECTED
//	CONNECTED -> invalid_grant -> REVOKED until the user links again
//
// Access tokens are cached encrypted in a kvstore until shortly before they
// expire, and concurrent refreshes for the same (user, provider) share one
// upstream call. Writing a refresh result and caching it happen under the
// same per-(user, provider) lock as Revoke, so a revoked link stays revoked.
type Service struct {
	model    *Model
	upstream Upstream
	cache    kvstore.Store
	buffer   time.Duration
	logger   *zap.Logger
	now      func() time.Time
	group    singleflight.Group
	locks    keyedMutex
}

func NewService(model *Model, up Upstream, cache kvstore.Store, opts ServiceOptions) *Service {
	if opts.ExpiryBuffer <= 0 {
		opts.ExpiryBuffer = DefaultExpiryBuffer
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		model:    model,
		upstream: up,
		cache:    cache,
		buffer:   opts.ExpiryBuffer,
		logger:   opts.Logger,
		now:      time.Now,
	}
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// AccessToken is a live access token and its absolute expiry.
type AccessToken struct {
	Token     string    `json:"access_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ExpiresIn is the remaining lifetime in whole seconds.
func (a *AccessToken) ExpiresIn(now time.Time) int64 {
	if a.ExpiresAt.IsZero() {
		return 0
	}
	d := a.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

type ExchangeResult struct {
	Tokens  *upstream.TokenResult
	Profile *upstream.Profile
}

// Exchange redeems an authorization code and looks up who it belongs to. It
// persists nothing, so a social login can resolve its user first.
func (s *Service) Exchange(ctx context.Context, p upstream.ExchangeParams) (*ExchangeResult, error) {
	const op = "tokens.Exchange"
	if !p.Provider.Valid() {
		return nil, oautherr.Validation(op, "unsupported provider %q", p.Provider)
	}
	if p.Code == "" {
		return nil, oautherr.Validation(op, "code is required")
	}

	res, err := s.upstream.Exchange(ctx, p)
	if err != nil {
		if oautherr.IsReauthRequired(err) {
			// invalid_grant on a code means the code is bad, not that a link died
			return nil, oautherr.Validation(op, "authorization code is invalid or expired")
		}
		return nil, err
	}
	profile, err := s.upstream.Profile(ctx, p.Provider, res.AccessToken)
	if err != nil {
		return nil, err
	}
	return &ExchangeResult{Tokens: res, Profile: profile}, nil
}

// Store persists an exchange result for userID. A refresh token is required
// unless a live one is already on file.
func (s *Service) Store(ctx context.Context, userID string, provider models.Provider, ex *ExchangeResult, clientID string) (*models.TokenRecord, error) {
	const op = "tokens.Store"
	existing, err := s.model.GetByUser(ctx, userID, provider)
	if err != nil {
		return nil, err
	}
	res := ex.Tokens
	hasLiveRefresh := existing != nil && !existing.Revoked && existing.RefreshTokenEnc != nil
	if res.RefreshToken == "" && !hasLiveRefresh {
		return nil, oautherr.Validation(op, "%s did not return a refresh token", provider)
	}

	upd := models.TokenUpdate{
		AccessToken: &res.AccessToken,
		TokenType:   optional(res.TokenType),
		Scope:       optional(res.Scope),
		ClientID:    optional(clientID),
	}
	if res.RefreshToken != "" {
		upd.RefreshToken = &res.RefreshToken
	}
	if !res.ExpiresAt.IsZero() {
		upd.ExpiresAt = &res.ExpiresAt
	}
	if ex.Profile != nil {
		upd.ProviderUserID = optional(ex.Profile.ID)
		upd.ProviderEmail = optional(ex.Profile.Email)
		upd.ProviderName = optional(ex.Profile.Name)
	}

	unlock := s.locks.Lock(lockKey(userID, provider))
	defer unlock()
	rec, err := s.model.Upsert(ctx, userID, provider, upd)
	if err != nil {
		return nil, err
	}
	s.cacheToken(ctx, userID, provider, &AccessToken{Token: res.AccessToken, ExpiresAt: res.ExpiresAt})
	return rec, nil
}

type ConnectParams struct {
	UserID       string
	Provider     models.Provider
	Code         string
	CodeVerifier string
	RedirectURI  string
	State        string
	ClientID     string

	// Verify, when set, runs after the exchange and before anything is
	// stored. An error aborts the link.
	Verify func(ctx context.Context, profile *upstream.Profile) error
}

type Connection struct {
	AccessToken *AccessToken
	Profile     *upstream.Profile
	Record      *models.TokenRecord
}

// Connect links provider to an existing user from an authorization code.
func (s *Service) Connect(ctx context.Context, p ConnectParams) (*Connection, error) {
	if p.UserID == "" {
		return nil, oautherr.Validation("tokens.Connect", "userId is required")
	}
	ex, err := s.Exchange(ctx, upstream.ExchangeParams{
		Provider:     p.Provider,
		Code:         p.Code,
		CodeVerifier: p.CodeVerifier,
		RedirectURI:  p.RedirectURI,
		State:        p.State,
	})
	if err != nil {
		return nil, err
	}
	if p.Verify != nil {
		if err := p.Verify(ctx, ex.Profile); err != nil {
			return nil, err
		}
	}
	rec, err := s.Store(ctx, p.UserID, p.Provider, ex, p.ClientID)
	if err != nil {
		return nil, err
	}
	return &Connection{
		AccessToken: &AccessToken{Token: ex.Tokens.AccessToken, ExpiresAt: ex.Tokens.ExpiresAt},
		Profile:     ex.Profile,
		Record:      rec,
	}, nil
}

// AccessToken returns a usable access token, refreshing upstream only when
// the cached one is missing or within the expiry buffer.
func (s *Service) AccessToken(ctx context.Context, userID string, provider models.Provider) (*AccessToken, error) {
	if err := validateOwner("tokens.AccessToken", userID, provider); err != nil {
		return nil, err
	}
	if tok := s.cachedToken(ctx, userID, provider); tok != nil {
		return tok, nil
	}

	key := cacheKey(userID, provider)
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		if tok := s.cachedToken(ctx, userID, provider); tok != nil {
			return tok, nil
		}
		return s.refresh(ctx, userID, provider, false)
	})
	if err != nil {
		return nil, err
	}
	return v.(*AccessToken), nil
}

// ForceRefresh skips every cache and redeems the refresh token upstream.
// Callers use it after a provider API rejected the current access token.
func (s *Service) ForceRefresh(ctx context.Context, userID string, provider models.Provider) (*AccessToken, error) {
	if err := validateOwner("tokens.ForceRefresh", userID, provider); err != nil {
		return nil, err
	}
	s.purge(ctx, userID, provider)

	v, err, _ := s.group.Do("force:"+cacheKey(userID, provider), func() (interface{}, error) {
		return s.refresh(ctx, userID, provider, true)
	})
	if err != nil {
		return nil, err
	}
	return v.(*AccessToken), nil
}

func (s *Service) refresh(ctx context.Context, userID string, provider models.Provider, force bool) (*AccessToken, error) {
	const op = "tokens.refresh"
	rec, err := s.model.GetByUser(ctx, userID, provider)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, oautherr.New(oautherr.KindNotFound, op, provider.String()+" account is not linked")
	}
	if rec.Revoked || rec.RefreshTokenEnc == nil {
		s.purge(ctx, userID, provider)
		return nil, oautherr.ReauthRequired(op, errRevoked)
	}

	plain, err := DecryptToken(rec)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now()
	if !force && plain.AccessToken != nil && rec.ExpiresAt != nil && now.Add(s.buffer).Before(*rec.ExpiresAt) {
		tok := &AccessToken{Token: *plain.AccessToken, ExpiresAt: *rec.ExpiresAt}
		if err := s.cacheIfCurrent(ctx, userID, provider, rec.Version, tok); err != nil {
			return nil, err
		}
		return tok, nil
	}

	res, err := s.upstream.Refresh(ctx, provider, *plain.RefreshToken)
	if err != nil {
		if oautherr.IsReauthRequired(err) {
			s.markRevoked(ctx, userID, provider, err)
			return nil, oautherr.ReauthRequired(op, err)
		}
		return nil, err
	}

	upd := models.TokenUpdate{
		AccessToken: &res.AccessToken,
		TokenType:   optional(res.TokenType),
		Scope:       optional(res.Scope),
	}
	if !res.ExpiresAt.IsZero() {
		upd.ExpiresAt = &res.ExpiresAt
	}
	if res.RefreshToken != "" {
		upd.RefreshToken = &res.RefreshToken
	}
	tok := &AccessToken{Token: res.AccessToken, ExpiresAt: res.ExpiresAt}
	err = s.commit(ctx, userID, provider, rec.Version, upd, tok)
	switch {
	case err == nil:
	case unlinked(err):
		s.logger.Info("discarded refresh for a link removed mid-flight",
			zap.String("user_id", userID),
			zap.String("provider", provider.String()),
		)
		return nil, err
	default:
		// losing a rotation here is recoverable, failing the caller is not
		s.logger.Warn("failed to persist refreshed token",
			zap.String("user_id", userID),
			zap.String("provider", provider.String()),
			zap.Bool("rotated", upd.IsRotation()),
			zap.Error(err),
		)
	}
	return tok, nil
}

// commit persists a refresh result read at version and caches tok. The cache
// is left alone when the record was revoked, deleted or rotated meanwhile.
func (s *Service) commit(ctx context.Context, userID string, provider models.Provider, version int, upd models.TokenUpdate, tok *AccessToken) error {
	unlock := s.locks.Lock(lockKey(userID, provider))
	defer unlock()

	upd.ExpectVersion = &version
	_, err := s.model.Upsert(ctx, userID, provider, upd)
	if unlinked(err) || errors.Is(err, ErrSuperseded) {
		return err
	}
	s.cacheToken(ctx, userID, provider, tok)
	return err
}

// cacheIfCurrent caches tok only if the record is still live at version.
func (s *Service) cacheIfCurrent(ctx context.Context, userID string, provider models.Provider, version int, tok *AccessToken) error {
	unlock := s.locks.Lock(lockKey(userID, provider))
	defer unlock()

	rec, err := s.model.GetByUser(ctx, userID, provider)
	if err != nil {
		return err
	}
	if rec == nil || rec.Revoked {
		return oautherr.ReauthRequired("tokens.refresh", errRevoked)
	}
	if rec.Version == version {
		s.cacheToken(ctx, userID, provider, tok)
	}
	return nil
}

// unlinked reports whether err means the link is gone: revoked or deleted.
func unlinked(err error) bool {
	kind := oautherr.KindOf(err)
	return kind == oautherr.KindReauthRequired || kind == oautherr.KindNotFound
}

func (s *Service) markRevoked(ctx context.Context, userID string, provider models.Provider, cause error) {
	unlock := s.locks.Lock(lockKey(userID, provider))
	defer unlock()

	s.purge(ctx, userID, provider)
	if err := s.model.Revoke(ctx, userID, provider); err != nil {
		s.logger.Error("failed to revoke token after invalid_grant",
			zap.String("user_id", userID),
			zap.String("provider", provider.String()),
			zap.Error(err),
		)
		return
	}
	s.logger.Info("token revoked by provider",
		zap.String("user_id", userID),
		zap.String("provider", provider.String()),
		zap.NamedError("cause", cause),
	)
}

// WithAccessToken runs fn with a live access token. If fn reports that the
// provider rejected the token, the token is force-refreshed and fn runs once
// more.
func (s *Service) WithAccessToken(ctx context.Context, userID string, provider models.Provider, fn func(accessToken string) error) error {
	tok, err := s.AccessToken(ctx, userID, provider)
	if err != nil {
		return err
	}
	err = fn(tok.Token)
	if !upstream.IsUnauthorized(err) {
		return err
	}

	tok, err = s.ForceRefresh(ctx, userID, provider)
	if err != nil {
		return err
	}
	return fn(tok.Token)
}

// Profile fetches the linked account's provider profile.
func (s *Service) Profile(ctx context.Context, userID string, provider models.Provider) (*upstream.Profile, error) {
	var profile *upstream.Profile
	err := s.WithAccessToken(ctx, userID, provider, func(accessToken string) error {
		p, err := s.upstream.Profile(ctx, provider, accessToken)
		profile = p
		return err
	})
	return profile, err
}

// Revoke unlinks provider for userID. With unlink set the provider is also
// asked to drop the grant; that call is best-effort.
func (s *Service) Revoke(ctx context.Context, userID string, provider models.Provider, unlink bool) error {
	rec, err := s.model.GetByUser(ctx, userID, provider)
	if err != nil {
		return err
	}
	if rec != nil && unlink && !rec.Revoked {
		if plain, err := DecryptToken(rec); err == nil && plain.AccessToken != nil {
			if err := s.upstream.Unlink(ctx, provider, *plain.AccessToken); err != nil {
				s.logger.Warn("provider unlink failed",
					zap.String("user_id", userID),
					zap.String("provider", provider.String()),
					zap.Error(err),
				)
			}
		}
	}

	unlock := s.locks.Lock(lockKey(userID, provider))
	defer unlock()
	s.purge(ctx, userID, provider)
	return s.model.Revoke(ctx, userID, provider)
}

// Delete removes every stored record for (userID, provider) and its cached
// access token. It returns how many records were removed.
func (s *Service) Delete(ctx context.Context, userID string, provider models.Provider) (int, error) {
	unlock := s.locks.Lock(lockKey(userID, provider))
	defer unlock()
	s.purge(ctx, userID, provider)
	return s.model.Delete(ctx, userID, provider)
}

// Status summarizes the stored link without calling the provider.
type Status struct {
	Provider       models.Provider `json:"provider"`
	Connected      bool            `json:"connected"`
	Revoked        bool            `json:"revoked"`
	RequiresReauth bool            `json:"requiresReauth"`
	ExpiresAt      *time.Time      `json:"expiresAt,omitempty"`
	Scope          string          `json:"scope,omitempty"`
	Version        int             `json:"version,omitempty"`
	LastRotationAt *time.Time      `json:"lastRotationAt,omitempty"`
	ProviderUser   *ProviderUser   `json:"providerUser,omitempty"`
}

type ProviderUser struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

func (s *Service) Status(ctx context.Context, userID string, provider models.Provider) (*Status, error) {
	rec, err := s.model.GetByUser(ctx, userID, provider)
	if err != nil {
		return nil, err
	}
	st := &Status{Provider: provider}
	if rec == nil {
		return st, nil
	}
	st.Revoked = rec.Revoked
	st.Connected = !rec.Revoked && rec.RefreshTokenEnc != nil
	st.RequiresReauth = !st.Connected
	st.ExpiresAt = rec.ExpiresAt
	st.Scope = rec.Scope
	st.Version = rec.Version
	st.LastRotationAt = rec.LastRotationAt
	if rec.ProviderUserID != "" {
		st.ProviderUser = &ProviderUser{ID: rec.ProviderUserID, Email: rec.ProviderEmail, Name: rec.ProviderName}
	}
	return st, nil
}

func cacheKey(userID string, provider models.Provider) string {
	return cacheKeyPrefix + string(provider) + ":" + userID
}

func (s *Service) cachedToken(ctx context.Context, userID string, provider models.Provider) *AccessToken {
	raw, ok, err := s.cache.Get(ctx, cacheKey(userID, provider))
	if err != nil || !ok {
		return nil
	}
	plain, err := utils.Decrypt(string(raw))
	if err != nil {
		return nil
	}
	var tok AccessToken
	if err := json.Unmarshal([]byte(plain), &tok); err != nil {
		return nil
	}
	if tok.Token == "" || tok.ExpiresAt.IsZero() || !s.now().Add(s.buffer).Before(tok.ExpiresAt) {
		return nil
	}
	return &tok
}

func (s *Service) cacheToken(ctx context.Context, userID string, provider models.Provider, tok *AccessToken) {
	if tok.Token == "" || tok.ExpiresAt.IsZero() {
		return
	}
	ttl := tok.ExpiresAt.Sub(s.now())
	if ttl <= s.buffer {
		return
	}
	raw, err := json.Marshal(tok)
	if err != nil {
		return
	}
	sealed, err := utils.Encrypt(string(raw))
	if err != nil {
		s.logger.Warn("failed to encrypt access token for cache", zap.String("provider", provider.String()), zap.Error(err))
		return
	}
	if err := s.cache.Set(ctx, cacheKey(userID, provider), []byte(sealed), ttl); err != nil {
		s.logger.Warn("failed to cache access token", zap.String("provider", provider.String()), zap.Error(err))
	}
}

func (s *Service) purge(ctx context.Context, userID string, provider models.Provider) {
	if err := s.cache.Delete(ctx, cacheKey(userID, provider)); err != nil {
		s.logger.Warn("failed to purge access token cache", zap.String("provider", provider.String()), zap.Error(err))
	}
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
