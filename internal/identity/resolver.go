// Package identity resolves opaque access tokens to verified user identities.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ScopeEmployee is the capability required to trigger a device
const ScopeEmployee = "employee"

var (
	ErrTokenInvalid      = errors.New("token invalid")
	ErrTokenExpired      = errors.New("token expired")
	ErrInsufficientScope = errors.New("insufficient scope")
	ErrUnknownUser       = errors.New("unknown user")
)

var signingMethod = jwt.SigningMethodHS256

// IsAuthError reports whether err is one of the authentication errors of this package
func IsAuthError(err error) bool {
	return errors.Is(err, ErrTokenInvalid) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrInsufficientScope) ||
		errors.Is(err, ErrUnknownUser)
}

// Claims is the payload of an access token. The subject carries the user id.
type Claims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// Identity is a verified user
type Identity struct {
	UserID uuid.UUID
	Scopes []string
}

// HasScope reports whether the identity was granted scope
func (i Identity) HasScope(scope string) bool {
	for _, s := range i.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Resolver verifies HS256 access tokens
type Resolver struct {
	secret []byte
	now    func() time.Time
}

// NewResolver creates a resolver for tokens signed with secret
func NewResolver(secret string) *Resolver {
	return &Resolver{secret: []byte(secret), now: time.Now}
}

// WithClock replaces the time source used to validate expiry
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// Resolve verifies token and checks that it carries every required scope
func (r *Resolver) Resolve(_ context.Context, token string, requiredScopes ...string) (Identity, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return r.secret, nil
	}, jwt.WithValidMethods([]string{signingMethod.Alg()}), jwt.WithTimeFunc(r.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, fmt.Errorf("%w: %w", ErrTokenExpired, err)
		}
		return Identity{}, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Identity{}, ErrTokenInvalid
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil || userID == uuid.Nil {
		return Identity{}, fmt.Errorf("%w: subject %q", ErrUnknownUser, claims.Subject)
	}

	identity := Identity{UserID: userID, Scopes: claims.Scopes}
	for _, scope := range requiredScopes {
		if !identity.HasScope(scope) {
			return Identity{}, fmt.Errorf("%w: missing %q", ErrInsufficientScope, scope)
		}
	}

	return identity, nil
}

// IssueToken signs an access token for userID. A non-positive ttl issues a token without expiry.
func IssueToken(secret string, userID uuid.UUID, scopes []string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID.String(),
			IssuedAt: jwt.NewNumericDate(now),
			ID:       uuid.NewString(),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return signed, nil
}
