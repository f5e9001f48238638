package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"stonetify/models"
	"stonetify/oautherr"
)

func TestSessionsIssueAndParse(t *testing.T) {
	s, err := NewSessions("test-secret", time.Hour)
	require.NoError(t, err)

	token, expires, err := s.Issue("user-1", models.ProviderKakao)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(time.Hour), expires, 5*time.Second)

	claims, err := s.Parse(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UserID())
	require.Equal(t, models.ProviderKakao, claims.Provider)
}

func TestSessionsRejectTamperedAndExpired(t *testing.T) {
	s, err := NewSessions("test-secret", time.Minute)
	require.NoError(t, err)
	token, _, err := s.Issue("user-1", models.ProviderNaver)
	require.NoError(t, err)

	other, err := NewSessions("another-secret", time.Minute)
	require.NoError(t, err)
	_, err = other.Parse(token)
	require.ErrorIs(t, err, ErrInvalidSession)

	s.SetClock(func() time.Time { return time.Now().Add(2 * time.Minute) })
	_, err = s.Parse(token)
	require.ErrorIs(t, err, ErrInvalidSession)
}

func TestNewSessionsRequiresSecret(t *testing.T) {
	_, err := NewSessions("", time.Hour)
	require.ErrorIs(t, err, oautherr.ErrMissingConfig)
}

func TestSessionMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s, err := NewSessions("test-secret", time.Hour)
	require.NoError(t, err)
	token, _, err := s.Issue("user-9", models.ProviderKakao)
	require.NoError(t, err)

	router := gin.New()
	router.GET("/required", s.RequireSession(), func(c *gin.Context) {
		c.String(http.StatusOK, UserIDFromContext(c))
	})
	router.GET("/optional", s.OptionalSession(), func(c *gin.Context) {
		c.String(http.StatusOK, "user="+UserIDFromContext(c))
	})

	cases := []struct {
		path   string
		header string
		status int
		body   string
	}{
		{"/required", "Bearer " + token, http.StatusOK, "user-9"},
		{"/required", "", http.StatusUnauthorized, ""},
		{"/required", "Bearer nope", http.StatusUnauthorized, ""},
		{"/optional", "Bearer " + token, http.StatusOK, "user=user-9"},
		{"/optional", "Bearer nope", http.StatusOK, "user="},
		{"/optional", "", http.StatusOK, "user="},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		router.ServeHTTP(w, req)
		require.Equal(t, tc.status, w.Code, tc.path+" "+tc.header)
		if tc.body != "" {
			require.Equal(t, tc.body, w.Body.String())
		}
	}
}
