package http

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"budgetflow/internal/core"
)

// authenticator verifies HS256 bearer tokens issued elsewhere. The token
// subject is the caller's user ID.
type authenticator struct {
	secret []byte
	parser *jwt.Parser
}

func newAuthenticator(secret string) *authenticator {
	return &authenticator{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

// verify returns the user ID from an Authorization header value.
func (a *authenticator) verify(header string) (string, error) {
	tokenString, ok := strings.CutPrefix(strings.TrimSpace(header), "Bearer ")
	tokenString = strings.TrimSpace(tokenString)
	if !ok || tokenString == "" {
		return "", fmt.Errorf("%w: bearer token required", core.ErrUnauthenticated)
	}

	var claims jwt.RegisteredClaims
	_, err := a.parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrUnauthenticated, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", fmt.Errorf("%w: token has no subject", core.ErrUnauthenticated)
	}
	return claims.Subject, nil
}
