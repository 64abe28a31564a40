package hosted

import (
	"errors"
	"log"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("hosted: invalid access token")

// TokenValidator verifies access tokens against the provider's JWK set,
// refreshing keys in the background.
type TokenValidator struct {
	jwks *keyfunc.JWKS
}

// NewTokenValidator fetches the JWK set from the given URL.
func NewTokenValidator(jwksURL string) (*TokenValidator, error) {
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshErrorHandler: func(err error) {
			log.Printf("failed to do a background refresh of JWT set: %s", err)
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, err
	}
	return &TokenValidator{jwks: jwks}, nil
}

// Validate parses and verifies a token, returning its claims.
func (v *TokenValidator) Validate(token string) (jwt.MapClaims, error) {
	parsed, err := jwt.Parse(token, v.jwks.Keyfunc)
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Close stops the background key refresh.
func (v *TokenValidator) Close() {
	if v.jwks != nil {
		v.jwks.EndBackground()
	}
}
