package session

import (
	"net/http"
	"time"

	"github.com/goliatone/go-router"
)

// GuardConfig controls how protected routes respond to each store state.
type GuardConfig struct {
	// LoginRoute is where anonymous visitors are redirected.
	LoginRoute string
	// LoadingView renders while session restoration is still in flight.
	LoadingView string
	// VerifyEmailView renders when RequireVerifiedEmail rejects a session.
	VerifyEmailView string
	// RequireVerifiedEmail gates protected routes on a confirmed email
	// address. Off by default.
	RequireVerifiedEmail bool
	// ContextKey is the Locals key holding the authenticated Snapshot.
	ContextKey string
	// RejectedRouteKey names the cookie remembering the route an anonymous
	// visitor was bounced from.
	RejectedRouteKey string
}

func (c GuardConfig) withDefaults() GuardConfig {
	if c.LoginRoute == "" {
		c.LoginRoute = "/login"
	}
	if c.LoadingView == "" {
		c.LoadingView = "loading"
	}
	if c.VerifyEmailView == "" {
		c.VerifyEmailView = "verify_email"
	}
	if c.ContextKey == "" {
		c.ContextKey = "session"
	}
	if c.RejectedRouteKey == "" {
		c.RejectedRouteKey = "rejected_route"
	}
	return c
}

// RouteGuard keeps unauthenticated traffic out of protected routes by
// consulting the Store snapshot. It never triggers network calls of its
// own, so guarding stays cheap on every request.
type RouteGuard struct {
	store *Store
	cfg   GuardConfig
}

// NewRouteGuard builds a guard over the given store.
func NewRouteGuard(store *Store, cfg GuardConfig) *RouteGuard {
	return &RouteGuard{
		store: store,
		cfg:   cfg.withDefaults(),
	}
}

// Protected returns the middleware enforcing the guard. While the store is
// still restoring, it renders the loading view rather than deciding either
// way. Anonymous visitors get bounced to the login route with the rejected
// route remembered so sign-in can return them.
func (g *RouteGuard) Protected() router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			snap := g.store.Snapshot()

			switch snap.State {
			case StateUninitialized, StateLoading:
				return ctx.Render(g.cfg.LoadingView, router.ViewContext{})
			case StateAnonymous:
				g.SetRedirect(ctx)
				return ctx.Redirect(g.cfg.LoginRoute, http.StatusSeeOther)
			}

			if g.cfg.RequireVerifiedEmail && snap.User != nil && !snap.User.EmailConfirmed() {
				return ctx.Render(g.cfg.VerifyEmailView, router.ViewContext{
					"email": snap.User.Email,
				})
			}

			ctx.Locals(g.cfg.ContextKey, snap)
			return hf(ctx)
		}
	}
}

// GetRedirect pops the remembered rejected route, falling back to def.
func (g *RouteGuard) GetRedirect(ctx router.Context, def string) string {
	r := ctx.Cookies(g.cfg.RejectedRouteKey)
	if r == "" {
		return def
	}
	g.cookieDel(ctx, g.cfg.RejectedRouteKey)
	return r
}

// SetRedirect remembers the current URL for a post-login bounce back.
func (g *RouteGuard) SetRedirect(ctx router.Context) {
	ctx.Cookie(&router.Cookie{
		Name:     g.cfg.RejectedRouteKey,
		Value:    ctx.OriginalURL(),
		Expires:  time.Now().Add(time.Minute * 5),
		HTTPOnly: true,
	})
}

func (g *RouteGuard) cookieDel(ctx router.Context, name string) {
	ctx.Cookie(&router.Cookie{
		Name:     name,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
	})
}

// SnapshotFromRouter retrieves the snapshot a guard stored in Locals.
func SnapshotFromRouter(ctx router.Context, key string) (Snapshot, bool) {
	if key == "" {
		key = "session"
	}
	snap, ok := ctx.Locals(key).(Snapshot)
	return snap, ok
}
