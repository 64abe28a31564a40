package session

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// OAuth providers the identity service can hand a redirect for.
const (
	ProviderGoogle = "google"
	ProviderGitHub = "github"
)

// CallbackPath is the route the identity service redirects back to after
// an OAuth handshake, relative to the application origin.
const CallbackPath = "/auth/callback"

// IdentityService is the external identity collaborator. It is the only
// surface permitted to issue or invalidate sessions; everything in this
// package funnels through it.
type IdentityService interface {
	// Session reads back the current session. A nil session with a nil
	// error means "signed out", not a failure.
	Session(ctx context.Context) (*Session, error)

	// SignUp registers a new identity. Depending on service configuration
	// the returned session may carry tokens (auto-confirm) or only the
	// created user (email confirmation pending).
	SignUp(ctx context.Context, input SignUpInput) (*Session, error)

	// SignInWithPassword performs the password grant for a resolved email.
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)

	// OAuthURL builds the provider redirect that starts the OAuth
	// handshake. It does not produce a session; completion arrives later
	// through the callback route.
	OAuthURL(provider, redirectTo string) (string, error)

	// SignOut invalidates the remote session.
	SignOut(ctx context.Context) error

	// OnAuthChange registers a listener for session-change notifications.
	// The returned function cancels the subscription.
	OnAuthChange(fn func(AuthEvent)) (unsubscribe func())
}

// SignUpInput carries the registration request to the identity service.
type SignUpInput struct {
	Email      string
	Password   string
	Metadata   map[string]any
	RedirectTo string
}

// AuthEventKind identifies a session-change notification.
type AuthEventKind string

const (
	EventSignedIn       AuthEventKind = "SIGNED_IN"
	EventTokenRefreshed AuthEventKind = "TOKEN_REFRESHED"
	EventSignedOut      AuthEventKind = "SIGNED_OUT"
)

// AuthEvent is a push notification from the identity service. Session is
// nil for EventSignedOut.
type AuthEvent struct {
	Kind    AuthEventKind
	Session *Session
}

// ProfileFetcher retrieves the application profile for a user identity.
// Implementations must treat "not found" as (nil, nil).
type ProfileFetcher interface {
	Fetch(ctx context.Context, userID uuid.UUID) (*Profile, error)
}

// ProfileStore is the narrow repository surface the profile service needs.
// The full Profiles repository satisfies it.
type ProfileStore interface {
	GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (*Profile, error)
	GetByUsername(ctx context.Context, username string, criteria ...repository.SelectCriteria) (*Profile, error)
	Create(ctx context.Context, record *Profile, criteria ...repository.InsertCriteria) (*Profile, error)
}

// DefaultLogger returns the stdout logger used when no Logger is injected.
func DefaultLogger() Logger {
	return defLogger{}
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] SESSION "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] SESSION "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] SESSION "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] SESSION "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

// nowPtr is a convenience for models carrying *time.Time timestamps.
func nowPtr() *time.Time {
	n := time.Now()
	return &n
}
