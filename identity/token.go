package identity

import (
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// TokenClaims is the subset of access-token claims the client cares about.
// Tokens are validated server-side; the client only reads metadata, so the
// parse is deliberately unverified.
type TokenClaims struct {
	Subject   string
	Email     string
	Role      string
	ExpiresAt time.Time
}

// ParseTokenClaims extracts claims from a raw access token without verifying
// the signature.
func ParseTokenClaims(rawToken string) (*TokenClaims, error) {
	token, _, err := jwtlib.NewParser().ParseUnverified(rawToken, jwtlib.MapClaims{})
	if err != nil {
		return nil, errors.Wrap(err, "[ParseTokenClaims] parse token")
	}

	claims, ok := token.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, errors.New("[ParseTokenClaims] error extracting claims")
	}

	tc := &TokenClaims{}
	tc.Subject, _ = claims["sub"].(string)
	tc.Email, _ = claims["email"].(string)
	tc.Role, _ = claims["role"].(string)

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		tc.ExpiresAt = exp.Time
	}

	return tc, nil
}
