package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ParseToken decodes an ID token's claims without verifying its signature.
func ParseToken(raw string) (*TokenResult, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("decoding id token: %w", err)
	}

	res := &TokenResult{Token: raw, Claims: map[string]any(claims)}

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		res.Expiry = exp.Time
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		res.IssuedAt = iat.Time
	}

	return res, nil
}

// expiryOf returns the token's exp claim, or fallback when it cannot be read.
func expiryOf(raw string, fallback time.Time) time.Time {
	res, err := ParseToken(raw)
	if err != nil || res.Expiry.IsZero() {
		return fallback
	}
	return res.Expiry
}
