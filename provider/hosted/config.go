package hosted

import (
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// Config holds the hosted identity service endpoints and credentials.
type Config struct {
	// BaseURL is the project root, e.g. "https://abc.supabase.co".
	BaseURL string
	// AnonKey authenticates unauthenticated API calls.
	AnonKey string
	// JWKSURL serves the signing keys for access token verification.
	// Optional; when empty tokens are decoded without verification.
	JWKSURL string
}

// Validate checks the configuration before a client is built.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.BaseURL, validation.Required, is.URL),
		validation.Field(&c.AnonKey, validation.Required),
		validation.Field(&c.JWKSURL, is.URL),
	)
}
