package api

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims holds the parsed claims from a validated bearer token.
type Claims struct {
	Subject string
	Issuer  string
	Raw     map[string]any
}

// TokenValidator validates a bearer token and returns its claims.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*Claims, error)
}

// HS256Validator validates JWTs signed with a shared HS256 secret.
type HS256Validator struct {
	secret []byte
}

// NewHS256Validator creates a validator for tokens issued with secret.
func NewHS256Validator(secret string) (*HS256Validator, error) {
	if secret == "" {
		return nil, fmt.Errorf("JWT secret is required")
	}
	return &HS256Validator{secret: []byte(secret)}, nil
}

// Validate verifies signature and expiry. The sub claim must be present.
func (v *HS256Validator) Validate(_ context.Context, token string) (*Claims, error) {
	tok, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}

	raw, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("parse claims: unsupported claim type %T", tok.Claims)
	}

	claims := &Claims{Raw: map[string]any(raw)}
	if sub, ok := raw["sub"].(string); ok {
		claims.Subject = sub
	}
	if iss, ok := raw["iss"].(string); ok {
		claims.Issuer = iss
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no sub claim")
	}
	return claims, nil
}
