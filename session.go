package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// UserIdentity is the stable identity carried by a session. It is always
// derived from a Session, never constructed on its own.
type UserIdentity struct {
	ID               uuid.UUID      `json:"id"`
	Email            string         `json:"email"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at,omitempty"`
	Metadata         map[string]any `json:"user_metadata,omitempty"`
}

// EmailConfirmed reports whether the identity service has confirmed the
// user's email address.
func (u *UserIdentity) EmailConfirmed() bool {
	return u != nil && u.EmailConfirmedAt != nil
}

// Session is the token bundle issued by the identity service. It is replaced
// wholesale on every notification; fields are never patched individually.
type Session struct {
	AccessToken  string        `json:"access_token,omitempty"`
	TokenType    string        `json:"token_type,omitempty"`
	RefreshToken string        `json:"refresh_token,omitempty"`
	IssuedAt     *time.Time    `json:"issued_at,omitempty"`
	ExpiresAt    *time.Time    `json:"expires_at,omitempty"`
	User         *UserIdentity `json:"user,omitempty"`
}

// HasTokens reports whether the session carries usable credentials. A
// session without tokens can still carry the created user, e.g. right after
// a registration that awaits email confirmation.
func (s *Session) HasTokens() bool {
	return s != nil && s.AccessToken != ""
}

// Expired reports whether the access token is past its expiry. Sessions
// without expiry metadata never report expired.
func (s *Session) Expired() bool {
	if s == nil || s.ExpiresAt == nil {
		return false
	}
	return time.Now().After(*s.ExpiresAt)
}

// UserID returns the subject id, or uuid.Nil for anonymous sessions.
func (s *Session) UserID() uuid.UUID {
	if s == nil || s.User == nil {
		return uuid.Nil
	}
	return s.User.ID
}

// SessionFromClaims derives a Session's identity attributes from validated
// access-token claims. Providers use it when the token response omits the
// user payload.
func SessionFromClaims(claims jwt.MapClaims, accessToken string) (*Session, error) {
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, ErrUnableToMapClaims
	}

	id, err := uuid.Parse(sub)
	if err != nil {
		return nil, ErrUnableToMapClaims
	}

	user := &UserIdentity{ID: id}
	if email, ok := claims["email"].(string); ok {
		user.Email = email
	}
	if meta, ok := claims["user_metadata"].(map[string]any); ok {
		user.Metadata = meta
	}

	sess := &Session{
		AccessToken: accessToken,
		TokenType:   "bearer",
		User:        user,
	}

	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		sess.IssuedAt = &iat.Time
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		sess.ExpiresAt = &exp.Time
	}

	return sess, nil
}
