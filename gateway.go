package session

import (
	"context"
	"strings"
)

// Gateway wraps the identity-service operations behind the package error
// taxonomy. It is the only component that calls the service for writes;
// reads flow through the Store.
type Gateway struct {
	svc      IdentityService
	profiles *ProfileService
	store    *Store
	origin   string
	logger   Logger
	callOpts CallOptions
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithGatewayLogger overrides the gateway logger.
func WithGatewayLogger(logger Logger) GatewayOption {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithGatewayCallOptions overrides timeout/retry bounds for identity-service
// round trips.
func WithGatewayCallOptions(opts CallOptions) GatewayOption {
	return func(g *Gateway) {
		g.callOpts = opts.normalize()
	}
}

// NewGateway builds a Gateway. origin is the application origin used to
// construct the OAuth callback redirect, e.g. "https://app.quantsight.io".
func NewGateway(svc IdentityService, profiles *ProfileService, store *Store, origin string, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		svc:      svc,
		profiles: profiles,
		store:    store,
		origin:   strings.TrimRight(origin, "/"),
		logger:   defLogger{},
		callOpts: DefaultCallOptions(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// RedirectURL is the absolute OAuth callback target.
func (g *Gateway) RedirectURL() string {
	return g.origin + CallbackPath
}

// Register validates the payload, creates the identity, and attempts the
// one-time profile insert. The insert is best effort: the identity exists
// either way, so insert failures are logged and registration still
// succeeds. Duplicate emails map to ErrAlreadyRegistered.
func (g *Gateway) Register(ctx context.Context, payload RegisterPayload) error {
	if err := payload.Validate(); err != nil {
		return err
	}

	input := SignUpInput{
		Email:      payload.Email,
		Password:   payload.Password,
		Metadata:   payload.Metadata(),
		RedirectTo: g.RedirectURL(),
	}

	sess, err := call(ctx, g.logger, g.callOpts, "sign up", func(ctx context.Context) (*Session, error) {
		return g.svc.SignUp(ctx, input)
	})
	if err != nil {
		return TranslateServiceError(err)
	}

	if sess != nil && sess.User != nil {
		if _, err := g.profiles.CreateFromRegistration(ctx, sess.User, payload); err != nil {
			g.logger.Error("registration profile insert for %s swallowed: %v", sess.User.ID, err)
		}
	}

	return nil
}

// SignIn authenticates by email or username. Bare usernames resolve to an
// email through the profile store first; an unknown username fails with
// ErrInvalidCredentials without a password round trip, and the message does
// not reveal whether the username exists.
func (g *Gateway) SignIn(ctx context.Context, identifier, password string) error {
	email := strings.TrimSpace(identifier)

	if !strings.Contains(email, "@") {
		profile, err := g.profiles.FindByUsername(ctx, email)
		if err != nil {
			g.logger.Error("username resolution for sign-in: %v", err)
			return ErrInvalidCredentials
		}
		if profile == nil {
			return ErrInvalidCredentials
		}
		email = profile.Email
	}

	_, err := call(ctx, g.logger, g.callOpts, "password sign-in", func(ctx context.Context) (*Session, error) {
		return g.svc.SignInWithPassword(ctx, email, password)
	})
	if err != nil {
		return TranslateServiceError(err)
	}

	return nil
}

// SignInWithOAuth asks the identity service for the provider redirect URL.
// No session is produced here; completion arrives via the callback route.
// User cancellation is not a failure of this step.
func (g *Gateway) SignInWithOAuth(provider string) (string, error) {
	url, err := g.svc.OAuthURL(provider, g.RedirectURL())
	if err != nil {
		g.logger.Error("oauth initiation for %s: %v", provider, err)
		return "", NewAuthServiceError(err)
	}
	return url, nil
}

// Session reads back the current session through the retry wrapper. The
// callback route uses it to finalize an OAuth handshake.
func (g *Gateway) Session(ctx context.Context) (*Session, error) {
	return call(ctx, g.logger, g.callOpts, "session read", func(ctx context.Context) (*Session, error) {
		return g.svc.Session(ctx)
	})
}

// SignOut invalidates the remote session best effort and always clears the
// local store: the user's intent to sign out supersedes a possibly stale
// remote session, so network failure never propagates.
func (g *Gateway) SignOut(ctx context.Context) {
	if _, err := call(ctx, g.logger, g.callOpts, "sign out", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.svc.SignOut(ctx)
	}); err != nil {
		g.logger.Warn("remote sign-out failed, clearing local state anyway: %v", err)
	}

	if g.store != nil {
		g.store.Clear()
	}
}
