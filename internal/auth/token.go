// Package auth loads the bearer token issued by the SafeWalk server and
// inspects its claims. The token is only carried, never verified: the
// signing secret lives server-side.
package auth

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource holds the bearer token and its registered claims.
type TokenSource struct {
	token     string
	subject   string
	expiresAt time.Time
}

// Parse inspects a JWT without verifying its signature and captures the
// subject and expiry claims.
func Parse(token string) (*TokenSource, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("empty token")
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	ts := &TokenSource{token: token}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return ts, nil
	}
	if sub, err := claims.GetSubject(); err == nil {
		ts.subject = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		ts.expiresAt = exp.Time
	}

	return ts, nil
}

// Load reads a token from path (if non-empty) or falls back to the literal
// value, then parses it.
func Load(path, literal string) (*TokenSource, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read token file: %w", err)
		}
		return Parse(string(data))
	}
	return Parse(literal)
}

// Token returns the raw bearer token.
func (t *TokenSource) Token() string {
	return t.token
}

// Subject returns the token's sub claim, or "" when absent.
func (t *TokenSource) Subject() string {
	return t.subject
}

// ExpiresAt returns the exp claim, or the zero time when absent.
func (t *TokenSource) ExpiresAt() time.Time {
	return t.expiresAt
}

// Expired reports whether the token's expiry has passed. Tokens without an
// exp claim never report expired.
func (t *TokenSource) Expired(now time.Time) bool {
	return !t.expiresAt.IsZero() && now.After(t.expiresAt)
}
