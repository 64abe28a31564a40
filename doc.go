// Package session implements the authentication/session lifecycle of the
// QuantSight dashboard: a session store synchronized with an external
// identity service, the gateway operations that talk to that service, and
// the HTTP plumbing that gates dashboard routes on session state.
//
// Session lifecycle:
//   - Store is the single source of truth for "am I authenticated, and as
//     whom". It starts Uninitialized, enters Loading while the initial
//     session read is in flight, and always resolves to Authenticated or
//     Anonymous. A long-lived subscription keeps it synchronized with
//     sign-in, token-refresh, and sign-out notifications from the identity
//     service. Writes carry sequence numbers reserved at dispatch time so a
//     late initial read can never clobber a newer notification.
//   - Profiles are an enrichment, not a gate. A user can be Authenticated
//     with Profile absent; profile fetches never block access and their
//     failures degrade to "no profile".
//
// Gateway operations:
//   - Gateway wraps registration, password sign-in (by email or username),
//     OAuth initiation for google/github, and sign-out. It is the only
//     component that calls the identity service directly; everything else
//     reads the Store.
//
// HTTP:
//   - RouteGuard maps Store state to a view decision (waiting view,
//     redirect to sign-in, optional verify-email block, or pass-through)
//     and performs no writes. AuthController hosts the login, register,
//     logout, and OAuth callback routes.
package session
