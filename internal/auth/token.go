package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoToken      = errors.New("no bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
)

// Claims is the JWT payload issued by the surrounding application's auth
// provider. Only the fields the sync subsystem needs are modeled.
type Claims struct {
	Name string `json:"name"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenProvider supplies the current bearer token and a refresh operation.
// The surrounding application implements this; the engine only consumes it.
type TokenProvider interface {
	// Token returns the current bearer token, or "" when none is available.
	Token() string
	// Refresh asks the provider for a fresh token, returning the new value.
	Refresh() (string, error)
}

// Verifier parses and validates HS256 bearer tokens.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

// Verify parses token and returns the caller identity.
func (v *Verifier) Verify(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrNoToken
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}

	return Identity{
		UserID: claims.Subject,
		Name:   claims.Name,
		Role:   Normalize(claims.Role),
	}, nil
}

// Sign issues a token for the given identity. Used by tests and by the dev
// token provider in the example agent.
func (v *Verifier) Sign(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Name: id.Name,
		Role: string(id.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// StaticTokenProvider returns the same token forever. Useful for tests.
type StaticTokenProvider string

func (s StaticTokenProvider) Token() string            { return string(s) }
func (s StaticTokenProvider) Refresh() (string, error) { return string(s), nil }
