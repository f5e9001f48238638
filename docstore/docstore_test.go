package docstore

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"stonetify/models"
)

func newGormStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every new :memory: connection is a fresh database
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Document{}))
	return NewGormStore(db)
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"gorm":   newGormStore(t),
	}
}

func TestStoreContract(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			id, err := s.Create(ctx, "social_tokens", Document{"user_id": "u1", "provider": "kakao", "version": 1})
			require.NoError(t, err)
			require.NotEmpty(t, id)
			_, err = s.Create(ctx, "social_tokens", Document{"user_id": "u1", "provider": "naver", "version": 3})
			require.NoError(t, err)
			_, err = s.Create(ctx, "other", Document{"user_id": "u1"})
			require.NoError(t, err)

			doc, err := s.GetByID(ctx, "social_tokens", id)
			require.NoError(t, err)
			require.Equal(t, id, doc["id"])
			require.Equal(t, float64(1), doc["version"])

			missing, err := s.GetByID(ctx, "social_tokens", "nope")
			require.NoError(t, err)
			require.Nil(t, missing)

			byUser, err := s.QueryByField(ctx, "social_tokens", "user_id", "u1")
			require.NoError(t, err)
			require.Len(t, byUser, 2)

			kakao, err := s.QueryByFields(ctx, "social_tokens", []Condition{
				{Field: "user_id", Value: "u1"},
				{Field: "provider", Value: "kakao"},
			})
			require.NoError(t, err)
			require.Len(t, kakao, 1)
			require.Equal(t, id, kakao[0]["id"])

			byVersion, err := s.QueryByField(ctx, "social_tokens", "version", 3)
			require.NoError(t, err)
			require.Len(t, byVersion, 1)

			require.NoError(t, s.Update(ctx, "social_tokens", id, Document{"version": 2, "access_token_enc": nil}))
			doc, err = s.GetByID(ctx, "social_tokens", id)
			require.NoError(t, err)
			require.Equal(t, float64(2), doc["version"])
			require.Contains(t, doc, "access_token_enc")
			require.Nil(t, doc["access_token_enc"])
			require.Equal(t, "kakao", doc["provider"])

			require.ErrorIs(t, s.Update(ctx, "social_tokens", "nope", Document{"x": 1}), ErrNotFound)

			require.NoError(t, s.Delete(ctx, "social_tokens", id))
			doc, err = s.GetByID(ctx, "social_tokens", id)
			require.NoError(t, err)
			require.Nil(t, doc)
		})
	}
}

func TestEncodeDecodeStruct(t *testing.T) {
	type rec struct {
		UserID    string    `json:"user_id"`
		ExpiresAt time.Time `json:"expires_at"`
		History   []string  `json:"history"`
		Enc       *string   `json:"enc"`
	}
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	doc, err := Encode(rec{UserID: "u", ExpiresAt: at, History: []string{"a"}})
	require.NoError(t, err)
	require.Equal(t, "u", doc["user_id"])
	require.Nil(t, doc["enc"])

	var out rec
	require.NoError(t, Decode(doc, &out))
	require.True(t, at.Equal(out.ExpiresAt))
	require.Equal(t, []string{"a"}, out.History)
}

func TestGormStoreMirrorsOwnerColumns(t *testing.T) {
	s := newGormStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, "social_tokens", Document{"user_id": "u1", "provider": "kakao"})
	require.NoError(t, err)

	var row models.Document
	require.NoError(t, s.db.First(&row, "id = ?", id).Error)
	require.Equal(t, "u1", row.UserID)
	require.Equal(t, "kakao", row.Provider)

	require.NoError(t, s.Update(ctx, "social_tokens", id, Document{"provider": "naver"}))
	require.NoError(t, s.db.First(&row, "id = ?", id).Error)
	require.Equal(t, "naver", row.Provider)

	docs, err := s.QueryByFields(ctx, "social_tokens", []Condition{
		{Field: "user_id", Value: "u1"},
		{Field: "provider", Value: "kakao"},
	})
	require.NoError(t, err)
	require.Empty(t, docs)

	docs, err = s.QueryByFields(ctx, "social_tokens", []Condition{
		{Field: "user_id", Value: "u1"},
		{Field: "provider", Value: "naver"},
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
}

func TestGormStoreBackfillIndexColumns(t *testing.T) {
	s := newGormStore(t)
	ctx := context.Background()

	require.NoError(t, s.db.Create(&models.Document{
		ID:         "legacy",
		Collection: "social_tokens",
		Data:       `{"user_id":"u1","provider":"kakao","version":1}`,
	}).Error)
	require.NoError(t, s.db.Create(&models.Document{
		ID:         "ownerless",
		Collection: "other",
		Data:       `{"name":"x"}`,
	}).Error)

	docs, err := s.QueryByField(ctx, "social_tokens", "user_id", "u1")
	require.NoError(t, err)
	require.Empty(t, docs)

	n, err := s.BackfillIndexColumns(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	docs, err = s.QueryByField(ctx, "social_tokens", "user_id", "u1")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "legacy", docs[0]["id"])

	n, err = s.BackfillIndexColumns(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}
