package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	textCodeAlreadyRegistered  = "ALREADY_REGISTERED"
	textCodeInvalidCredentials = "INVALID_CREDENTIALS"
	textCodeProfileLookup      = "PROFILE_LOOKUP_FAILED"
	textCodeAuthService        = "AUTH_SERVICE_ERROR"
)

// ErrAlreadyRegistered is returned when registration hits a duplicate email.
var ErrAlreadyRegistered = goerrors.New("email is already registered", goerrors.CategoryConflict).
	WithTextCode(textCodeAlreadyRegistered).
	WithCode(goerrors.CodeConflict)

// ErrInvalidCredentials is returned for unknown usernames and rejected
// passwords alike; callers must not be able to tell the two apart.
var ErrInvalidCredentials = goerrors.New("invalid credentials", goerrors.CategoryAuth).
	WithTextCode(textCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrProfileLookupFailed marks a degraded profile read. It is logged, never
// surfaced to users, and never blocks authenticated access.
var ErrProfileLookupFailed = goerrors.New("profile lookup failed", goerrors.CategoryInternal).
	WithTextCode(textCodeProfileLookup)

// ErrStoreDisposed is returned when Init is called on a disposed store.
var ErrStoreDisposed = goerrors.New("session store is disposed", goerrors.CategoryOperation)

// ErrUnableToMapClaims is returned when access-token claims are missing the
// attributes a session needs.
var ErrUnableToMapClaims = errors.New("unable to map claims")

// NewAuthServiceError wraps an opaque identity-service failure whose message
// is surfaced to the user.
func NewAuthServiceError(err error) *goerrors.Error {
	return goerrors.Wrap(err, goerrors.CategoryAuth, "identity service error").
		WithTextCode(textCodeAuthService)
}

// IsAuthServiceError reports whether err carries the AUTH_SERVICE_ERROR code.
func IsAuthServiceError(err error) bool {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == textCodeAuthService
	}
	return false
}

// IsProfileLookupError reports whether err carries the PROFILE_LOOKUP_FAILED
// code. These errors are logged and degraded, never surfaced.
func IsProfileLookupError(err error) bool {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == textCodeProfileLookup
	}
	return false
}

// ServiceError is the structured failure reported by the identity service.
// Code carries the service's machine-readable error identifier when the
// backend provides one; Message is the human-readable text.
type ServiceError struct {
	Status  int
	Code    string
	Message string
}

func (e *ServiceError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("identity service: %s (%s)", e.Message, e.Code)
	}
	return fmt.Sprintf("identity service: %s", e.Message)
}

// TranslateServiceError maps identity-service failures onto the package
// taxonomy. It prefers the structured error code and falls back to message
// sniffing; this function is the only place substring matching on backend
// messages is allowed.
func TranslateServiceError(err error) error {
	if err == nil {
		return nil
	}

	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		switch svcErr.Code {
		case "user_already_exists", "email_exists":
			return ErrAlreadyRegistered
		case "invalid_credentials", "invalid_grant":
			return ErrInvalidCredentials
		}
	}

	if IsDuplicateEmailError(err) {
		return ErrAlreadyRegistered
	}
	if IsBadCredentialsError(err) {
		return ErrInvalidCredentials
	}

	return NewAuthServiceError(err)
}

// IsDuplicateEmailError checks the backend message for a duplicate
// registration. Fallback only; structured codes win in TranslateServiceError.
func IsDuplicateEmailError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already registered") ||
		strings.Contains(msg, "already exists")
}

// IsBadCredentialsError checks the backend message for a rejected login.
func IsBadCredentialsError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "invalid login credentials")
}

// IsTransientError reports whether a failed round trip is worth one retry:
// timeouts, connection resets, and 5xx responses from the service.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Status >= 500
	}

	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset")
}
