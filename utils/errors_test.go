package utils

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"stonetify/oautherr"
)

func respond(t *testing.T, err error) (int, map[string]any) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(w)
	RespondError(ctx, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind oautherr.Kind
		want int
	}{
		{oautherr.KindValidation, http.StatusBadRequest},
		{oautherr.KindInvalidState, http.StatusBadRequest},
		{oautherr.KindInvalidRedirect, http.StatusBadRequest},
		{oautherr.KindReauthRequired, http.StatusUnauthorized},
		{oautherr.KindNotFound, http.StatusNotFound},
		{oautherr.KindRateLimited, http.StatusTooManyRequests},
		{oautherr.KindDependency, http.StatusServiceUnavailable},
		{oautherr.KindMissingConfig, http.StatusInternalServerError},
		{oautherr.KindUnknown, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			require.Equal(t, tt.want, StatusFor(tt.kind))
		})
	}
}

func TestRespondErrorReauthRequired(t *testing.T) {
	status, body := respond(t, oautherr.ReauthRequired("tokens.refresh", errors.New("invalid_grant")))

	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "TOKEN_REVOKED", body["error"])
	require.Equal(t, true, body["requiresReauth"])
}

func TestRespondErrorInvalidRedirect(t *testing.T) {
	status, body := respond(t, oautherr.InvalidRedirect("op", "https://evil.example", []string{"stonetify://oauth"}))

	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "https://evil.example", body["rejected"])
	require.Equal(t, []any{"stonetify://oauth"}, body["allowed"])
}

func TestRespondErrorInvalidStateHidesReason(t *testing.T) {
	status, body := respond(t, oautherr.InvalidState("auth.Callback"))

	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "invalid or expired state", body["error"])
}

func TestRespondErrorDependencyIsRetryable(t *testing.T) {
	status, body := respond(t, oautherr.Dependency("upstream.Refresh", errors.New("dial tcp: i/o timeout")))

	require.Equal(t, http.StatusServiceUnavailable, status)
	require.Equal(t, true, body["retryable"])
	require.NotContains(t, body["error"], "dial tcp")
}

func TestRespondErrorWrappedKind(t *testing.T) {
	err := errors.Join(errors.New("context"), oautherr.Validation("op", "code is required"))
	status, body := respond(t, err)

	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "code is required", body["error"])
}

func TestRespondErrorUntaggedHidesMessage(t *testing.T) {
	status, body := respond(t, errors.New("sql: connection refused at 10.0.0.5"))

	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, "internal server error", body["error"])
}
