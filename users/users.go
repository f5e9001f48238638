// Package users keeps the minimal account table a social login resolves to.
package users

import (
	"context"
	"fmt"
	"time"

	"stonetify/docstore"
	"stonetify/models"
	"stonetify/oautherr"
)

const (
	CollectionUsers = "users"
	CollectionLinks = "social_links"
)

type User struct {
	ID          string    `json:"id,omitempty"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SocialLink maps a provider account to a user.
type SocialLink struct {
	ID             string          `json:"id,omitempty"`
	UserID         string          `json:"user_id"`
	Provider       models.Provider `json:"provider"`
	ProviderUserID string          `json:"provider_user_id"`
	CreatedAt      time.Time       `json:"created_at"`
}

type SocialIdentity struct {
	Provider       models.Provider
	ProviderUserID string
	Email          string
	Name           string
}

type Store struct {
	docs docstore.Store
	now  func() time.Time
}

func NewStore(docs docstore.Store) *Store {
	return &Store{docs: docs, now: time.Now}
}

func (s *Store) GetByID(ctx context.Context, id string) (*User, error) {
	doc, err := s.docs.GetByID(ctx, CollectionUsers, id)
	if err != nil {
		return nil, fmt.Errorf("users.GetByID: %w", err)
	}
	if doc == nil {
		return nil, nil
	}
	var u User
	if err := docstore.Decode(doc, &u); err != nil {
		return nil, fmt.Errorf("users.GetByID: %w", err)
	}
	return &u, nil
}

// FindOrCreateBySocial returns the user linked to id, creating the user and
// link on first sight. created reports whether a new user was made.
func (s *Store) FindOrCreateBySocial(ctx context.Context, id SocialIdentity) (user *User, created bool, err error) {
	const op = "users.FindOrCreateBySocial"
	if !id.Provider.IsSocialLogin() {
		return nil, false, oautherr.Validation(op, "%s cannot be used to sign in", id.Provider)
	}
	if id.ProviderUserID == "" {
		return nil, false, oautherr.Validation(op, "provider user id is required")
	}

	link, err := s.findLink(ctx, id.Provider, id.ProviderUserID)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	if link != nil {
		u, err := s.GetByID(ctx, link.UserID)
		if err != nil {
			return nil, false, err
		}
		if u != nil {
			return u, false, nil
		}
	}

	now := s.now().UTC()
	u := &User{DisplayName: id.Name, Email: id.Email, CreatedAt: now, UpdatedAt: now}
	doc, err := docstore.Encode(u)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	userID, err := s.docs.Create(ctx, CollectionUsers, doc)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	u.ID = userID

	if err := s.Link(ctx, userID, id.Provider, id.ProviderUserID); err != nil {
		return nil, false, err
	}
	return u, true, nil
}

// Link attaches a provider account to userID. Linking an account that
// already belongs to another user is rejected.
func (s *Store) Link(ctx context.Context, userID string, provider models.Provider, providerUserID string) error {
	const op = "users.Link"
	existing, err := s.findLink(ctx, provider, providerUserID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if existing != nil {
		if existing.UserID == userID {
			return nil
		}
		if u, err := s.GetByID(ctx, existing.UserID); err == nil && u != nil {
			return oautherr.Validation(op, "%s account is linked to another user", provider)
		}
		if err := s.docs.Update(ctx, CollectionLinks, existing.ID, docstore.Document{"user_id": userID}); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	}

	doc, err := docstore.Encode(SocialLink{
		UserID:         userID,
		Provider:       provider,
		ProviderUserID: providerUserID,
		CreatedAt:      s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, err := s.docs.Create(ctx, CollectionLinks, doc); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Store) findLink(ctx context.Context, provider models.Provider, providerUserID string) (*SocialLink, error) {
	docs, err := s.docs.QueryByFields(ctx, CollectionLinks, []docstore.Condition{
		{Field: "provider", Value: string(provider)},
		{Field: "provider_user_id", Value: providerUserID},
	})
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	var link SocialLink
	if err := docstore.Decode(docs[0], &link); err != nil {
		return nil, err
	}
	return &link, nil
}
