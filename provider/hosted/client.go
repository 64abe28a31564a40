// Package hosted implements the identity service against a GoTrue-style
// REST API: signup, password and refresh token grants, OAuth authorize
// URLs, and logout. The client keeps the current session in memory and
// refreshes the access token shortly before it expires, emitting auth
// events the session store subscribes to.
package hosted

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantsight/go-session"
)

// refreshMargin is how long before expiry the token refresh fires.
const refreshMargin = 30 * time.Second

// Client implements session.IdentityService over HTTP.
type Client struct {
	cfg       Config
	http      *http.Client
	logger    session.Logger
	validator *TokenValidator

	mu        sync.Mutex
	current   *session.Session
	listeners map[int]func(session.AuthEvent)
	nextID    int
	refresh   *time.Timer
	closed    bool
}

var _ session.IdentityService = (*Client)(nil)

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient overrides the transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger overrides the client logger.
func WithLogger(logger session.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New builds a Client. When cfg.JWKSURL is set, access tokens handed to
// SetSessionFromTokens are verified against the key set.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:       cfg,
		http:      &http.Client{Timeout: 15 * time.Second},
		logger:    session.DefaultLogger(),
		listeners: map[int]func(session.AuthEvent){},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	if cfg.JWKSURL != "" {
		validator, err := NewTokenValidator(cfg.JWKSURL)
		if err != nil {
			return nil, fmt.Errorf("hosted: token validator: %w", err)
		}
		c.validator = validator
	}

	return c, nil
}

// Close stops the refresh timer and background key refresh. The client is
// unusable afterwards.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	if c.refresh != nil {
		c.refresh.Stop()
		c.refresh = nil
	}
	c.mu.Unlock()

	if c.validator != nil {
		c.validator.Close()
	}
}

func (c *Client) SignUp(ctx context.Context, input session.SignUpInput) (*session.Session, error) {
	query := url.Values{}
	if input.RedirectTo != "" {
		query.Set("redirect_to", input.RedirectTo)
	}

	body := map[string]any{
		"email":    input.Email,
		"password": input.Password,
	}
	if len(input.Metadata) > 0 {
		body["data"] = input.Metadata
	}

	var tr tokenResponse
	if err := c.do(ctx, http.MethodPost, "/auth/v1/signup", query, body, &tr, ""); err != nil {
		return nil, err
	}

	sess, err := tr.session()
	if err != nil {
		return nil, err
	}

	// Without auto confirm the API returns the identity but no tokens;
	// the session begins once the address is confirmed.
	if !sess.HasTokens() {
		return sess, nil
	}

	c.adopt(sess, session.EventSignedIn)
	return sess, nil
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*session.Session, error) {
	query := url.Values{"grant_type": []string{"password"}}
	body := map[string]any{
		"email":    email,
		"password": password,
	}

	var tr tokenResponse
	if err := c.do(ctx, http.MethodPost, "/auth/v1/token", query, body, &tr, ""); err != nil {
		return nil, err
	}

	sess, err := tr.session()
	if err != nil {
		return nil, err
	}

	c.adopt(sess, session.EventSignedIn)
	return sess, nil
}

// OAuthURL builds the provider authorize URL. The service handles the
// provider handshake and redirects the browser back to redirectTo.
func (c *Client) OAuthURL(provider, redirectTo string) (string, error) {
	if provider == "" {
		return "", &session.ServiceError{
			Status:  400,
			Code:    "validation_failed",
			Message: "provider is required",
		}
	}

	query := url.Values{}
	query.Set("provider", provider)
	if redirectTo != "" {
		query.Set("redirect_to", redirectTo)
	}

	return strings.TrimRight(c.cfg.BaseURL, "/") + "/auth/v1/authorize?" + query.Encode(), nil
}

func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	current := c.current
	c.current = nil
	if c.refresh != nil {
		c.refresh.Stop()
		c.refresh = nil
	}
	c.mu.Unlock()

	var apiErr error
	if current != nil && current.AccessToken != "" {
		apiErr = c.do(ctx, http.MethodPost, "/auth/v1/logout", nil, nil, nil, current.AccessToken)
	}

	c.emit(session.AuthEvent{Kind: session.EventSignedOut})
	return apiErr
}

// Session returns the current session, refreshing it first when the
// access token already expired. nil with no error means signed out.
func (c *Client) Session(ctx context.Context) (*session.Session, error) {
	c.mu.Lock()
	current := c.current
	c.mu.Unlock()

	if current == nil {
		return nil, nil
	}

	if current.Expired() && current.RefreshToken != "" {
		return c.refreshSession(ctx, current.RefreshToken)
	}

	cp := *current
	return &cp, nil
}

// SetSessionFromTokens adopts tokens delivered out of band, verifying the
// access token when a validator is configured. An OAuth callback carrying
// tokens lands here.
func (c *Client) SetSessionFromTokens(accessToken, refreshToken string) (*session.Session, error) {
	var sess *session.Session

	if c.validator != nil {
		claims, err := c.validator.Validate(accessToken)
		if err != nil {
			return nil, fmt.Errorf("hosted: verify access token: %w", err)
		}
		sess, err = session.SessionFromClaims(claims, accessToken)
		if err != nil {
			return nil, err
		}
	} else {
		user, err := c.fetchUser(context.Background(), accessToken)
		if err != nil {
			return nil, err
		}
		sess = &session.Session{
			AccessToken: accessToken,
			TokenType:   "bearer",
			User:        user,
		}
	}

	sess.RefreshToken = refreshToken
	c.adopt(sess, session.EventSignedIn)
	return sess, nil
}

func (c *Client) OnAuthChange(fn func(session.AuthEvent)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Client) refreshSession(ctx context.Context, refreshToken string) (*session.Session, error) {
	query := url.Values{"grant_type": []string{"refresh_token"}}
	body := map[string]any{"refresh_token": refreshToken}

	var tr tokenResponse
	if err := c.do(ctx, http.MethodPost, "/auth/v1/token", query, body, &tr, ""); err != nil {
		c.logger.Warn("token refresh failed, signing out: %v", err)
		c.mu.Lock()
		c.current = nil
		c.mu.Unlock()
		c.emit(session.AuthEvent{Kind: session.EventSignedOut})
		return nil, err
	}

	sess, err := tr.session()
	if err != nil {
		return nil, err
	}

	c.adopt(sess, session.EventTokenRefreshed)
	return sess, nil
}

func (c *Client) fetchUser(ctx context.Context, accessToken string) (*session.UserIdentity, error) {
	var identity apiIdentity
	if err := c.do(ctx, http.MethodGet, "/auth/v1/user", nil, nil, &identity, accessToken); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(identity.ID)
	if err != nil {
		return nil, fmt.Errorf("hosted: user id: %w", err)
	}

	return &session.UserIdentity{
		ID:               id,
		Email:            identity.Email,
		EmailConfirmedAt: identity.EmailConfirmedAt,
		Metadata:         identity.UserMetadata,
	}, nil
}

// adopt installs a session, schedules its refresh, and announces it.
func (c *Client) adopt(sess *session.Session, kind session.AuthEventKind) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.current = sess
	c.scheduleRefreshLocked(sess)
	c.mu.Unlock()

	c.emit(session.AuthEvent{Kind: kind, Session: sess})
}

func (c *Client) scheduleRefreshLocked(sess *session.Session) {
	if c.refresh != nil {
		c.refresh.Stop()
		c.refresh = nil
	}
	if sess == nil || sess.ExpiresAt == nil || sess.RefreshToken == "" {
		return
	}

	delay := time.Until(sess.ExpiresAt.Add(-refreshMargin))
	if delay < time.Second {
		delay = time.Second
	}

	refreshToken := sess.RefreshToken
	c.refresh = time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if _, err := c.refreshSession(ctx, refreshToken); err != nil {
			c.logger.Error("scheduled token refresh: %v", err)
		}
	})
}

func (c *Client) emit(ev session.AuthEvent) {
	c.mu.Lock()
	fns := make([]func(session.AuthEvent), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any, accessToken string) error {
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var payload *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(raw)
	} else {
		payload = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, payload)
	if err != nil {
		return err
	}

	req.Header.Set("apikey", c.cfg.AnonKey)
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AnonKey)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return decodeAPIError(res)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}

// apiError mirrors the wire shape of service failures, which drifted over
// API versions between code/msg and error/error_description.
type apiError struct {
	ErrorCode   string `json:"error_code"`
	Code        any    `json:"code"`
	Msg         string `json:"msg"`
	Message     string `json:"message"`
	Error2      string `json:"error"`
	Description string `json:"error_description"`
}

func decodeAPIError(res *http.Response) error {
	var ae apiError
	_ = json.NewDecoder(res.Body).Decode(&ae)

	code := ae.ErrorCode
	if code == "" {
		if s, ok := ae.Code.(string); ok {
			code = s
		}
	}
	if code == "" {
		code = ae.Error2
	}

	msg := ae.Msg
	if msg == "" {
		msg = ae.Message
	}
	if msg == "" {
		msg = ae.Description
	}
	if msg == "" {
		msg = res.Status
	}

	return &session.ServiceError{
		Status:  res.StatusCode,
		Code:    code,
		Message: msg,
	}
}

type tokenResponse struct {
	AccessToken  string       `json:"access_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	ExpiresAt    int64        `json:"expires_at"`
	RefreshToken string       `json:"refresh_token"`
	User         *apiIdentity `json:"user"`

	// signup without auto confirm returns the identity at the top level
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at"`
	UserMetadata     map[string]any `json:"user_metadata"`
}

type apiIdentity struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at"`
	UserMetadata     map[string]any `json:"user_metadata"`
}

func (tr tokenResponse) session() (*session.Session, error) {
	identity := tr.User
	if identity == nil && tr.ID != "" {
		identity = &apiIdentity{
			ID:               tr.ID,
			Email:            tr.Email,
			EmailConfirmedAt: tr.EmailConfirmedAt,
			UserMetadata:     tr.UserMetadata,
		}
	}

	sess := &session.Session{
		AccessToken:  tr.AccessToken,
		TokenType:    tr.TokenType,
		RefreshToken: tr.RefreshToken,
	}

	if identity != nil {
		id, err := uuid.Parse(identity.ID)
		if err != nil {
			return nil, fmt.Errorf("hosted: user id: %w", err)
		}
		sess.User = &session.UserIdentity{
			ID:               id,
			Email:            identity.Email,
			EmailConfirmedAt: identity.EmailConfirmedAt,
			Metadata:         identity.UserMetadata,
		}
	}

	if tr.AccessToken != "" {
		now := time.Now()
		sess.IssuedAt = &now
		switch {
		case tr.ExpiresAt > 0:
			exp := time.Unix(tr.ExpiresAt, 0)
			sess.ExpiresAt = &exp
		case tr.ExpiresIn != 0:
			// Negative expires_in still maps to a concrete instant so an
			// already-expired token reads back as expired.
			exp := now.Add(time.Duration(tr.ExpiresIn) * time.Second)
			sess.ExpiresAt = &exp
		}
	}

	return sess, nil
}
