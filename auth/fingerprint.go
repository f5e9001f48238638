package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
)

// Fingerprint derives an opaque identity from the client IP, user agent and
// accept-language of r. It keeps an anonymous state usable across the
// provider round trip. It is a weak binding only: anyone on the same network
// with the same browser produces the same value, and it must never be treated
// as a security boundary on its own.
func Fingerprint(r *http.Request) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		clientIP(r),
		r.UserAgent(),
		r.Header.Get("Accept-Language"),
	}, "|")))
	return hex.EncodeToString(sum[:])
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
