package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/tradepost/pkg/config"
)

var jwtSigningMethod = jwt.SigningMethodHS256

var (
	ErrMissingSecret = errors.New("jwt secret is required")
	ErrInvalidClaims = errors.New("token claims are incomplete")
)

// MintToken signs claims the way the identity provider does. The API only
// verifies tokens; minting serves local tooling and tests.
func MintToken(cfg config.JWTConfig, now time.Time, ttl time.Duration, claims Claims) (string, error) {
	if cfg.Secret == "" {
		return "", ErrMissingSecret
	}
	if cfg.Issuer == "" {
		return "", fmt.Errorf("jwt issuer is required")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("token ttl must be positive")
	}
	claims.UserID = strings.TrimSpace(claims.UserID)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
	if err := validate(&claims); err != nil {
		return "", err
	}
	signed, err := jwt.NewWithClaims(jwtSigningMethod, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

// ParseToken verifies signature, algorithm, issuer and expiry and returns the
// typed claims.
func ParseToken(cfg config.JWTConfig, tokenString string, now time.Time) (*Claims, error) {
	if cfg.Secret == "" {
		return nil, ErrMissingSecret
	}
	claims := &Claims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwtSigningMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if _, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return []byte(cfg.Secret), nil
	}); err != nil {
		return nil, err
	}
	if err := validate(claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func validate(c *Claims) error {
	if c.UserID == "" {
		return fmt.Errorf("%w: user_id", ErrInvalidClaims)
	}
	if !c.Role.IsValid() {
		return fmt.Errorf("%w: role %q", ErrInvalidClaims, c.Role)
	}
	return nil
}
