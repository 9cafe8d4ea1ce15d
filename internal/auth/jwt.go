// Package auth covers both directions of bearer tokens in calorily.
//
// INBOUND (TokenService, RequireAuth):
// The local HTTP API is protected by HS256 JWTs this process signs itself.
// `calorily token` mints one; clients send it as "Authorization: Bearer ...".
//
// OUTBOUND (JWTSource):
// The remote analysis service expects its own JWT on every upload. We don't
// refresh it or verify it (we don't hold its key); we just hand the current
// one to the orchestrator through the oauth2.TokenSource interface and refuse
// to use it once its "exp" claim has passed.
//
// JWT STRUCTURE (three base64-encoded parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header: algorithm + token type → {"alg":"HS256","typ":"JWT"}
//	- Payload: claims (data) → {"sub":"device-id","exp":1234567890}
//	- Signature: HMAC-SHA256(header+"."+payload, secretKey)
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "calorily"

// DefaultTTL is the lifetime of a token minted without an explicit one.
const DefaultTTL = 30 * 24 * time.Hour

// TokenService signs and verifies local API tokens.
type TokenService struct {
	secret []byte
	now    func() time.Time
}

// NewTokenService creates a TokenService with the given secret.
// Example: CALORILY_HTTP_JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret), now: time.Now}, nil
}

type claims struct {
	jwt.RegisteredClaims
}

// Generate signs a token for subject that expires after ttl.
// A non-positive ttl means DefaultTTL.
func (s *TokenService) Generate(subject string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("auth: subject is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := s.now()

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Validate verifies tokenStr and returns its subject.
//
// Only HS256 is accepted (jwt.WithValidMethods), which shuts out "alg: none"
// and algorithm-confusion tricks. The issuer must be ours and "exp" must be
// present.
func (s *TokenService) Validate(tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("auth: token expired")
		}
		return "", fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("auth: invalid token claims")
	}
	if c.Subject == "" {
		return "", fmt.Errorf("auth: token has no subject")
	}
	return c.Subject, nil
}
