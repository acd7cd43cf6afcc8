// Package auth verifies the EdDSA bearer tokens that gate moderation.
package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// RoleModerator is the role required by the moderation endpoints.
const RoleModerator = "moderator"

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrForbidden    = errors.New("insufficient role")
)

// Claims carries the registered claims plus the role claims we authorize on.
type Claims struct {
	Role  string   `json:"role,omitempty"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// HasRole reports whether role appears in either role claim.
func (c *Claims) HasRole(role string) bool {
	return c.Role == role || slices.Contains(c.Roles, role)
}

// Verifier validates tokens issued for this service.
type Verifier struct {
	keys     KeySource
	issuer   string
	audience string
}

// NewVerifier returns a verifier checking signatures against keys and the
// iss, aud and exp claims against the given values.
func NewVerifier(keys KeySource, issuer, audience string) *Verifier {
	return &Verifier{keys: keys, issuer: issuer, audience: audience}
}

// Verify parses and validates a compact JWT.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	keyFunc := func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, fmt.Errorf("missing or invalid kid in JWT header")
		}
		return v.keys.Key(ctx, kid)
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// Authorize verifies the token and requires role.
func (v *Verifier) Authorize(ctx context.Context, tokenString, role string) (*Claims, error) {
	claims, err := v.Verify(ctx, tokenString)
	if err != nil {
		return nil, err
	}
	if !claims.HasRole(role) {
		return claims, ErrForbidden
	}
	return claims, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
