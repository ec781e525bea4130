package auth

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var ErrMissingToken = errors.New("auth: no token provided")

// BearerToken extracts the token from an Authorization header of the form "Bearer <token>".
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if len(header) < len("bearer ") || !strings.EqualFold(header[:len("bearer ")], "bearer ") {
		return "", ErrMissingToken
	}

	token := strings.TrimSpace(header[len("bearer "):])
	if token == "" {
		return "", ErrMissingToken
	}

	return token, nil
}

// Subject returns the "sub" claim of a JWT without checking its signature or
// expiry. Tokens are verified by the upstream services; the subject is only
// used to annotate logs and audit records. Opaque tokens yield "".
func Subject(token string) string {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return ""
	}
	return claims.Subject
}
