package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"stonetify/models"
	"stonetify/oautherr"
)

const (
	DefaultSessionTTL = 30 * 24 * time.Hour

	sessionIssuer   = "stonetify"
	sessionClaimKey = "sessionClaims"
)

var ErrInvalidSession = errors.New("invalid session token")

// SessionClaims identify the signed-in user. Provider records which social
// login produced the session.
type SessionClaims struct {
	Provider models.Provider `json:"provider,omitempty"`
	jwtlib.RegisteredClaims
}

func (c *SessionClaims) UserID() string {
	return c.Subject
}

// Sessions signs and verifies HS256 app session tokens.
type Sessions struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSessions(secret string, ttl time.Duration) (*Sessions, error) {
	if secret == "" {
		return nil, oautherr.MissingConfig("auth.NewSessions", "SESSION_SECRET is not set")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Sessions{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

func (s *Sessions) SetClock(now func() time.Time) {
	s.now = now
}

// Issue returns a signed session token for userID and its expiry.
func (s *Sessions) Issue(userID string, provider models.Provider) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, oautherr.Validation("auth.IssueSession", "userId is required")
	}
	now := s.now()
	expires := now.Add(s.ttl)
	claims := SessionClaims{
		Provider: provider,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   userID,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, expires, nil
}

func (s *Sessions) Parse(token string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	parsed, err := jwtlib.ParseWithClaims(token, claims, func(t *jwtlib.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithIssuer(sessionIssuer),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidSession
	}
	return claims, nil
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

// RequireSession rejects requests without a valid bearer session.
func (s *Sessions) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization bearer token required"})
			return
		}
		claims, err := s.Parse(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired session"})
			return
		}
		c.Set(sessionClaimKey, claims)
		c.Next()
	}
}

// OptionalSession attaches the session when a valid one is presented and
// otherwise lets the request through anonymously.
func (s *Sessions) OptionalSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, ok := bearerToken(c); ok {
			if claims, err := s.Parse(token); err == nil {
				c.Set(sessionClaimKey, claims)
			}
		}
		c.Next()
	}
}

// SessionFromContext returns the claims set by RequireSession or
// OptionalSession.
func SessionFromContext(c *gin.Context) (*SessionClaims, bool) {
	value, ok := c.Get(sessionClaimKey)
	if !ok {
		return nil, false
	}
	claims, ok := value.(*SessionClaims)
	return claims, ok
}

// UserIDFromContext returns the signed-in user id, or "" for anonymous requests.
func UserIDFromContext(c *gin.Context) string {
	if claims, ok := SessionFromContext(c); ok {
		return claims.Subject
	}
	return ""
}
