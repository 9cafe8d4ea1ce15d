package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// ErrNoToken means no analysis token is configured.
var ErrNoToken = errors.New("auth: no analysis token configured")

// JWTSource is an oauth2.TokenSource over a JWT issued by the analysis
// service. The token is opaque to us except for its "exp" claim, which we read
// without verifying the signature (we don't have the key, and the service
// verifies it anyway).
//
// Set replaces the token, e.g. after the user signs in again.
type JWTSource struct {
	mu    sync.RWMutex
	raw   string
	now   func() time.Time
	delta time.Duration
}

var _ oauth2.TokenSource = (*JWTSource)(nil)

// NewJWTSource wraps raw, which may be empty until Set is called.
func NewJWTSource(raw string) *JWTSource {
	return &JWTSource{raw: strings.TrimSpace(raw), now: time.Now, delta: 10 * time.Second}
}

// Set replaces the current token.
func (s *JWTSource) Set(raw string) {
	s.mu.Lock()
	s.raw = strings.TrimSpace(raw)
	s.mu.Unlock()
}

// Token implements oauth2.TokenSource.
func (s *JWTSource) Token() (*oauth2.Token, error) {
	s.mu.RLock()
	raw := s.raw
	s.mu.RUnlock()

	if raw == "" {
		return nil, ErrNoToken
	}

	expiry, err := expiryOf(raw)
	if err != nil {
		return nil, err
	}
	// A few seconds of slack so we don't send a token that dies in flight.
	if !expiry.IsZero() && !s.now().Add(s.delta).Before(expiry) {
		return nil, fmt.Errorf("auth: analysis token expired at %s", expiry.Format(time.RFC3339))
	}

	return &oauth2.Token{
		AccessToken: raw,
		TokenType:   "Bearer",
		Expiry:      expiry,
	}, nil
}

// expiryOf reads "exp" without verifying the signature. A token without
// "exp" never expires (zero time).
func expiryOf(raw string) (time.Time, error) {
	var c jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &c); err != nil {
		return time.Time{}, fmt.Errorf("auth: malformed analysis token: %w", err)
	}
	if c.ExpiresAt == nil {
		return time.Time{}, nil
	}
	return c.ExpiresAt.Time, nil
}

// NewAnalysisTokenSource returns the token source the orchestrator uses.
//
// A raw string that parses as a JWT gets expiry tracking through JWTSource;
// anything else (an opaque API key) is passed through as a static token.
// Either way the result is wrapped in oauth2.ReuseTokenSource so the JWT is
// only re-parsed once the cached token is about to expire.
func NewAnalysisTokenSource(raw string) oauth2.TokenSource {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return NewJWTSource("")
	}
	if _, err := expiryOf(raw); err != nil {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: raw, TokenType: "Bearer"})
	}
	return oauth2.ReuseTokenSource(nil, NewJWTSource(raw))
}
