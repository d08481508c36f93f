// Package auth provides API access tokens for the playground.
//
// AUTHENTICATION FLOW OVERVIEW:
//  1. An operator mints a token for a subject: `pgctl token alice`
//  2. The client sends it as `Authorization: Bearer <jwt>` (CLI, scripts) or
//     in the `token` cookie (browser, including the websocket handshake)
//  3. Middleware validates the JWT and puts the subject in the request context
//  4. Services use the subject as the notebook owner
//
// When no secret is configured, auth is off: every request is anonymous and
// notebooks have no owner.
//
// JWT STRUCTURE (three base64-encoded parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header: algorithm + token type → {"alg":"HS256","typ":"JWT"}
//	- Payload: claims (data) → {"sub":"alice","exp":1234567890}
//	- Signature: HMAC-SHA256(header+"."+payload, secretKey)
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is stamped into every token and required on validation.
const Issuer = "notebook-playground"

// DefaultTokenTTL is the lifetime of tokens minted without an explicit one.
const DefaultTokenTTL = 30 * 24 * time.Hour

// TokenService handles JWT creation and validation.
type TokenService struct {
	secret []byte
}

// NewTokenService creates a TokenService with the given secret.
// The secret should be at least 32 bytes of random data in production.
// Example: JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret)}, nil
}

type claims struct {
	jwt.RegisteredClaims
}

// Generate creates and signs a token for subject valid for ttl.
// A non-positive ttl means DefaultTokenTTL.
func (s *TokenService) Generate(subject string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("auth: subject is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := time.Now()

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    Issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Validate parses and verifies a JWT string and returns its subject.
//
// ALGORITHM CONFUSION ATTACK:
// Without checking the algorithm, an attacker could send a token signed with
// "none" and the library might accept it. jwt.WithValidMethods prevents this.
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
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
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
