package models

import (
	"time"
)

// RotationWindow counts refresh-token rotations inside a fixed one-hour window.
type RotationWindow struct {
	Count       int       `json:"count"`
	WindowStart time.Time `json:"window_start"`
}

// TokenRecord is the durable OAuth token document, one per (user, provider).
// Token fields hold ciphertext only; nil means absent.
type TokenRecord struct {
	ID       string   `json:"id,omitempty"`
	UserID   string   `json:"user_id"`
	Provider Provider `json:"provider"`

	AccessTokenEnc  *string    `json:"access_token_enc"`
	RefreshTokenEnc *string    `json:"refresh_token_enc"`
	TokenType       string     `json:"token_type,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at"`
	Scope           string     `json:"scope,omitempty"`

	ProviderUserID string `json:"provider_user_id,omitempty"`
	ProviderEmail  string `json:"provider_user_email,omitempty"`
	ProviderName   string `json:"provider_user_name,omitempty"`

	Version        int            `json:"version"`
	History        []string       `json:"history"`
	Revoked        bool           `json:"revoked"`
	RotationWindow RotationWindow `json:"rotation_count_window"`
	ClientID       string         `json:"client_id,omitempty"`

	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	LastRotationAt *time.Time `json:"last_rotation_at"`
}

// TokenUpdate is a partial write. Only non-nil fields are applied; a non-nil
// RefreshToken makes the write a rotation.
type TokenUpdate struct {
	AccessToken  *string
	RefreshToken *string
	TokenType    *string
	ExpiresAt    *time.Time
	Scope        *string

	ProviderUserID *string
	ProviderEmail  *string
	ProviderName   *string
	ClientID       *string

	// ExpectVersion makes the write conditional on the stored record still
	// being live at this version. Background refreshes set it; user-initiated
	// links leave it nil so they can replace a revoked record.
	ExpectVersion *int
}

// IsRotation reports whether the update carries a new refresh token.
func (u TokenUpdate) IsRotation() bool {
	return u.RefreshToken != nil && *u.RefreshToken != ""
}

// DecryptedTokens holds plaintext tokens; nil means no token on file.
type DecryptedTokens struct {
	AccessToken  *string `json:"access_token"`
	RefreshToken *string `json:"refresh_token"`
}
