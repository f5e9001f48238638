// Package tokens stores encrypted upstream OAuth tokens and runs the
// refresh lifecycle on top of them.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stonetify/docstore"
	"stonetify/models"
	"stonetify/oautherr"
	"stonetify/utils"
)

const (
	CollectionSocial  = "social_tokens"
	CollectionSpotify = "spotify_tokens"

	DefaultHistoryLimit        = 5
	DefaultMaxRotationsPerHour = 12

	rotationWindow = time.Hour
)

// ErrSuperseded is returned by a conditional Upsert when the record moved to
// another version after the caller read it.
var ErrSuperseded = errors.New("token record changed since it was read")

var errRevoked = errors.New("token revoked")

// Options bound refresh-token rotation.
type Options struct {
	HistoryLimit int
	MaxPerHour   int
}

func (o Options) withDefaults() Options {
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = DefaultHistoryLimit
	}
	if o.MaxPerHour <= 0 {
		o.MaxPerHour = DefaultMaxRotationsPerHour
	}
	return o
}

// Model persists one TokenRecord per (user, provider). Spotify records live
// in their own collection. Writes for the same (user, provider) are
// serialized inside the process so concurrent rotations are each counted
// against the rate limit.
type Model struct {
	store docstore.Store
	opts  Options
	now   func() time.Time
	locks keyedMutex
}

func NewModel(store docstore.Store, opts Options) *Model {
	return &Model{
		store: store,
		opts:  opts.withDefaults(),
		now:   time.Now,
	}
}

// SetClock replaces the time source used for timestamps and rotation windows.
func (m *Model) SetClock(now func() time.Time) {
	m.now = now
}

func (m *Model) Options() Options {
	return m.opts
}

func collectionFor(provider models.Provider) string {
	if provider == models.ProviderSpotify {
		return CollectionSpotify
	}
	return CollectionSocial
}

func lockKey(userID string, provider models.Provider) string {
	return string(provider) + "|" + userID
}

func validateOwner(op, userID string, provider models.Provider) error {
	if userID == "" {
		return oautherr.Validation(op, "userId is required")
	}
	if !provider.Valid() {
		return oautherr.Validation(op, "unsupported provider %q", provider)
	}
	return nil
}

// GetByUser returns the most recently updated record, or nil if none exists.
func (m *Model) GetByUser(ctx context.Context, userID string, provider models.Provider) (*models.TokenRecord, error) {
	const op = "tokens.GetByUser"
	if err := validateOwner(op, userID, provider); err != nil {
		return nil, err
	}

	docs, err := m.store.QueryByFields(ctx, collectionFor(provider), []docstore.Condition{
		{Field: "user_id", Value: userID},
		{Field: "provider", Value: string(provider)},
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var latest *models.TokenRecord
	for _, doc := range docs {
		var rec models.TokenRecord
		if err := docstore.Decode(doc, &rec); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if latest == nil || rec.UpdatedAt.After(latest.UpdatedAt) ||
			(rec.UpdatedAt.Equal(latest.UpdatedAt) && rec.Version > latest.Version) {
			r := rec
			latest = &r
		}
	}
	return latest, nil
}

// Upsert writes upd for (userID, provider).
//
// The first write must carry a refresh token. A write carrying a refresh
// token is a rotation: the previous refresh ciphertext is pushed onto
// History, Version increments, Revoked clears, and the hourly rotation
// counter is checked. A rejected rotation leaves the stored record untouched.
// Any other write only touches the supplied fields, and is refused with
// ReauthRequired on a revoked record. With ExpectVersion set the write is
// refused unless the record is live at that version.
func (m *Model) Upsert(ctx context.Context, userID string, provider models.Provider, upd models.TokenUpdate) (*models.TokenRecord, error) {
	const op = "tokens.Upsert"
	if err := validateOwner(op, userID, provider); err != nil {
		return nil, err
	}

	unlock := m.locks.Lock(lockKey(userID, provider))
	defer unlock()

	existing, err := m.GetByUser(ctx, userID, provider)
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()

	if upd.ExpectVersion != nil {
		switch {
		case existing == nil:
			return nil, oautherr.New(oautherr.KindNotFound, op, provider.String()+" account is not linked")
		case existing.Revoked:
			return nil, oautherr.ReauthRequired(op, errRevoked)
		case existing.Version != *upd.ExpectVersion:
			return nil, fmt.Errorf("%s: %w", op, ErrSuperseded)
		}
	}

	if existing == nil {
		if !upd.IsRotation() {
			return nil, oautherr.Validation(op, "a refresh token is required to create a token record")
		}
		rec := models.TokenRecord{
			UserID:         userID,
			Provider:       provider,
			Version:        1,
			History:        []string{},
			RotationWindow: models.RotationWindow{Count: 1, WindowStart: now},
			CreatedAt:      now,
			UpdatedAt:      now,
			LastRotationAt: &now,
		}
		if err := applyUpdate(&rec, upd); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		doc, err := docstore.Encode(rec)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		delete(doc, "id")
		id, err := m.store.Create(ctx, collectionFor(provider), doc)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		rec.ID = id
		return &rec, nil
	}

	if existing.Revoked && !upd.IsRotation() {
		return nil, oautherr.ReauthRequired(op, errRevoked)
	}

	rec := *existing
	rec.History = append([]string{}, existing.History...)

	if upd.IsRotation() {
		window := rec.RotationWindow
		if window.WindowStart.IsZero() || now.Sub(window.WindowStart) >= rotationWindow {
			window = models.RotationWindow{Count: 1, WindowStart: now}
		} else {
			window.Count++
			if window.Count > m.opts.MaxPerHour {
				return nil, oautherr.RateLimited(op, fmt.Sprintf("refresh token rotated more than %d times in the last hour", m.opts.MaxPerHour))
			}
		}
		rec.RotationWindow = window

		if rec.RefreshTokenEnc != nil && *rec.RefreshTokenEnc != "" {
			rec.History = append([]string{*rec.RefreshTokenEnc}, rec.History...)
		}
		if len(rec.History) > m.opts.HistoryLimit {
			rec.History = rec.History[:m.opts.HistoryLimit]
		}
		rec.Version++
		rec.Revoked = false
		rec.LastRotationAt = &now
	}

	if err := applyUpdate(&rec, upd); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	rec.UpdatedAt = now

	doc, err := docstore.Encode(rec)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := m.store.Update(ctx, collectionFor(provider), rec.ID, doc); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &rec, nil
}

func applyUpdate(rec *models.TokenRecord, upd models.TokenUpdate) error {
	if upd.AccessToken != nil {
		enc, err := encryptOptional(*upd.AccessToken)
		if err != nil {
			return fmt.Errorf("encrypt access token: %w", err)
		}
		rec.AccessTokenEnc = enc
	}
	if upd.IsRotation() {
		enc, err := utils.Encrypt(*upd.RefreshToken)
		if err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
		rec.RefreshTokenEnc = &enc
	}
	if upd.TokenType != nil {
		rec.TokenType = *upd.TokenType
	}
	if upd.ExpiresAt != nil {
		at := upd.ExpiresAt.UTC()
		rec.ExpiresAt = &at
	}
	if upd.Scope != nil {
		rec.Scope = *upd.Scope
	}
	if upd.ProviderUserID != nil {
		rec.ProviderUserID = *upd.ProviderUserID
	}
	if upd.ProviderEmail != nil {
		rec.ProviderEmail = *upd.ProviderEmail
	}
	if upd.ProviderName != nil {
		rec.ProviderName = *upd.ProviderName
	}
	if upd.ClientID != nil {
		rec.ClientID = *upd.ClientID
	}
	return nil
}

func encryptOptional(plain string) (*string, error) {
	if plain == "" {
		return nil, nil
	}
	enc, err := utils.Encrypt(plain)
	if err != nil {
		return nil, err
	}
	return &enc, nil
}

// Revoke marks the record revoked and clears both token ciphertexts.
// Revoking a missing or already revoked record is a no-op.
func (m *Model) Revoke(ctx context.Context, userID string, provider models.Provider) error {
	const op = "tokens.Revoke"
	if err := validateOwner(op, userID, provider); err != nil {
		return err
	}

	unlock := m.locks.Lock(lockKey(userID, provider))
	defer unlock()

	rec, err := m.GetByUser(ctx, userID, provider)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}
	if rec.Revoked && rec.AccessTokenEnc == nil && rec.RefreshTokenEnc == nil {
		return nil
	}

	err = m.store.Update(ctx, collectionFor(provider), rec.ID, docstore.Document{
		"revoked":           true,
		"access_token_enc":  nil,
		"refresh_token_enc": nil,
		"updated_at":        m.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Delete physically removes every record for (userID, provider). It exists
// for administrative cleanup only.
func (m *Model) Delete(ctx context.Context, userID string, provider models.Provider) (int, error) {
	const op = "tokens.Delete"
	if err := validateOwner(op, userID, provider); err != nil {
		return 0, err
	}

	unlock := m.locks.Lock(lockKey(userID, provider))
	defer unlock()

	docs, err := m.store.QueryByFields(ctx, collectionFor(provider), []docstore.Condition{
		{Field: "user_id", Value: userID},
		{Field: "provider", Value: string(provider)},
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	for _, doc := range docs {
		id, _ := doc["id"].(string)
		if err := m.store.Delete(ctx, collectionFor(provider), id); err != nil {
			return 0, fmt.Errorf("%s: %w", op, err)
		}
	}
	return len(docs), nil
}

// DecryptToken returns the plaintext tokens of rec. Absent ciphertext yields
// a nil field rather than an error.
func DecryptToken(rec *models.TokenRecord) (models.DecryptedTokens, error) {
	var out models.DecryptedTokens
	if rec == nil {
		return out, nil
	}
	if rec.AccessTokenEnc != nil && *rec.AccessTokenEnc != "" {
		plain, err := utils.Decrypt(*rec.AccessTokenEnc)
		if err != nil {
			return out, fmt.Errorf("decrypt access token: %w", err)
		}
		out.AccessToken = &plain
	}
	if rec.RefreshTokenEnc != nil && *rec.RefreshTokenEnc != "" {
		plain, err := utils.Decrypt(*rec.RefreshTokenEnc)
		if err != nil {
			return out, fmt.Errorf("decrypt refresh token: %w", err)
		}
		out.RefreshToken = &plain
	}
	return out, nil
}
