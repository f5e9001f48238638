package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stonetify/kvstore"
	"stonetify/models"
	"stonetify/oautherr"
)

func newTestCodeStore() (*OneTimeCodeStore, *testClock) {
	clock := newTestClock()
	kv := kvstore.NewMemoryStore()
	kv.SetClock(clock.Now)
	s := NewOneTimeCodeStore(kv, 0)
	s.SetClock(clock.Now)
	return s, clock
}

func TestOneTimeCodeSingleUse(t *testing.T) {
	s, _ := newTestCodeStore()
	ctx := context.Background()

	code, err := s.Issue(ctx, "session-token", models.ProviderKakao)
	require.NoError(t, err)
	require.NotEmpty(t, code)
	require.NotContains(t, code, "session-token")

	got, err := s.Consume(ctx, code)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "session-token", got.Token)
	require.Equal(t, models.ProviderKakao, got.Provider)

	again, err := s.Consume(ctx, code)
	require.NoError(t, err)
	require.Nil(t, again)
}

func TestOneTimeCodeExpires(t *testing.T) {
	s, clock := newTestCodeStore()
	ctx := context.Background()

	code, err := s.Issue(ctx, "tok", models.ProviderNaver)
	require.NoError(t, err)

	clock.Advance(DefaultOneTimeCodeTTL - time.Second)
	other, err := s.Issue(ctx, "tok2", models.ProviderNaver)
	require.NoError(t, err)

	clock.Advance(time.Second)
	got, err := s.Consume(ctx, code)
	require.NoError(t, err)
	require.Nil(t, got)

	got, err = s.Consume(ctx, other)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "tok2", got.Token)
}

func TestOneTimeCodeUnknown(t *testing.T) {
	s, _ := newTestCodeStore()

	got, err := s.Consume(context.Background(), "")
	require.NoError(t, err)
	require.Nil(t, got)

	got, err = s.Consume(context.Background(), "never-issued")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestOneTimeCodeIssueValidation(t *testing.T) {
	s, _ := newTestCodeStore()

	_, err := s.Issue(context.Background(), "", models.ProviderKakao)
	require.ErrorIs(t, err, oautherr.ErrValidation)

	_, err = s.Issue(context.Background(), "tok", models.Provider("apple"))
	require.ErrorIs(t, err, oautherr.ErrValidation)
}
