package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFingerprintStableAcrossRequests(t *testing.T) {
	a := httptest.NewRequest("GET", "/auth/kakao/callback", nil)
	a.RemoteAddr = "203.0.113.9:51234"
	a.Header.Set("User-Agent", "Stonetify/1.0 (iPhone)")
	a.Header.Set("Accept-Language", "ko-KR")

	b := httptest.NewRequest("POST", "/auth/social/state", nil)
	b.RemoteAddr = "203.0.113.9:60001"
	b.Header.Set("User-Agent", "Stonetify/1.0 (iPhone)")
	b.Header.Set("Accept-Language", "ko-KR")

	require.Equal(t, Fingerprint(a), Fingerprint(b))
	require.Len(t, Fingerprint(a), 64)
}

func TestFingerprintPrefersForwardedFor(t *testing.T) {
	a := httptest.NewRequest("GET", "/", nil)
	a.RemoteAddr = "10.0.0.1:1000"
	a.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")

	b := httptest.NewRequest("GET", "/", nil)
	b.RemoteAddr = "198.51.100.7:2000"

	require.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprintChangesWithClient(t *testing.T) {
	base := httptest.NewRequest("GET", "/", nil)
	base.RemoteAddr = "203.0.113.9:1"
	base.Header.Set("User-Agent", "A")
	base.Header.Set("Accept-Language", "en")

	ua := httptest.NewRequest("GET", "/", nil)
	ua.RemoteAddr = "203.0.113.9:1"
	ua.Header.Set("User-Agent", "B")
	ua.Header.Set("Accept-Language", "en")

	lang := httptest.NewRequest("GET", "/", nil)
	lang.RemoteAddr = "203.0.113.9:1"
	lang.Header.Set("User-Agent", "A")
	lang.Header.Set("Accept-Language", "ko")

	require.NotEqual(t, Fingerprint(base), Fingerprint(ua))
	require.NotEqual(t, Fingerprint(base), Fingerprint(lang))
}
