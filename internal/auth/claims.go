package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the token payload issued by the MediWay API.
type Claims struct {
	Role   string `json:"role"`
	UserID string `json:"userId,omitempty"`
	jwt.RegisteredClaims
}

// ParseToken verifies an HMAC-signed token with secret and returns its claims
// and role.
func ParseToken(tokenString, secret string) (*Claims, Role, error) {
	if secret == "" {
		return nil, 0, errors.New("auth: signing secret not configured")
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(strings.TrimSpace(tokenString), claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return nil, 0, fmt.Errorf("auth: invalid token: %w", err)
	}
	role, err := ParseRole(claims.Role)
	if err != nil {
		return nil, 0, err
	}
	return claims, role, nil
}

// PeekRole reads the role claim without verifying the signature. It is only
// used to pick a landing route for a token the kiosk just received from the
// API over TLS, never for authorization.
func PeekRole(tokenString string) (Role, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(tokenString), claims); err != nil {
		return 0, fmt.Errorf("auth: malformed token: %w", err)
	}
	return ParseRole(claims.Role)
}
