// Package local provides an in-process identity service backed by an
// in-memory account table. It exists for development and tests where a
// hosted identity provider is unavailable; tokens are HMAC signed and
// account ids derive deterministically from the email address.
package local

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/quantsight/go-session"
)

const bcryptCost = 14

type account struct {
	id          uuid.UUID
	email       string
	hash        []byte
	metadata    map[string]any
	confirmedAt *time.Time
}

// Service implements session.IdentityService against in-memory state.
type Service struct {
	mu          sync.Mutex
	accounts    map[string]*account
	current     *session.Session
	listeners   map[int]func(session.AuthEvent)
	nextID      int
	signingKey  []byte
	issuer      string
	tokenTTL    time.Duration
	autoConfirm bool
	logger      session.Logger
	now         func() time.Time
}

var _ session.IdentityService = (*Service)(nil)

// Option configures the Service.
type Option func(*Service)

// WithSigningKey sets the HMAC key used to mint access tokens.
func WithSigningKey(key []byte) Option {
	return func(s *Service) {
		if len(key) > 0 {
			s.signingKey = key
		}
	}
}

// WithTokenTTL sets access token lifetime.
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.tokenTTL = ttl
		}
	}
}

// WithAutoConfirm marks new accounts as email confirmed on sign up, so
// development flows skip the confirmation mail.
func WithAutoConfirm(v bool) Option {
	return func(s *Service) {
		s.autoConfirm = v
	}
}

// WithLogger overrides the service logger.
func WithLogger(logger session.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source. Tests use it to control token
// expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New builds a Service.
func New(opts ...Option) *Service {
	s := &Service{
		accounts:    map[string]*account{},
		listeners:   map[int]func(session.AuthEvent){},
		signingKey:  []byte("quantsight-local-dev"),
		issuer:      "quantsight-local",
		tokenTTL:    time.Hour,
		autoConfirm: true,
		logger:      session.DefaultLogger(),
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Seed registers an account without going through SignUp, confirmed
// immediately. Dev bootstrap and tests use it.
func (s *Service) Seed(email, password string, metadata map[string]any) (uuid.UUID, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return uuid.Nil, err
	}

	id, err := hashid.NewUUID(strings.ToLower(email))
	if err != nil {
		return uuid.Nil, err
	}

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[strings.ToLower(email)] = &account{
		id:          id,
		email:       email,
		hash:        hash,
		metadata:    metadata,
		confirmedAt: &now,
	}
	return id, nil
}

func (s *Service) SignUp(ctx context.Context, input session.SignUpInput) (*session.Session, error) {
	key := strings.ToLower(input.Email)

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcryptCost)
	if err != nil {
		return nil, err
	}

	id, err := hashid.NewUUID(key)
	if err != nil {
		return nil, err
	}

	acct := &account{
		id:       id,
		email:    input.Email,
		hash:     hash,
		metadata: input.Metadata,
	}
	if s.autoConfirm {
		now := s.now()
		acct.confirmedAt = &now
	}

	// Check and insert under one lock so a concurrent duplicate sign-up
	// cannot overwrite the winner.
	s.mu.Lock()
	if _, ok := s.accounts[key]; ok {
		s.mu.Unlock()
		return nil, &session.ServiceError{
			Status:  422,
			Code:    "user_already_exists",
			Message: "User already registered",
		}
	}
	s.accounts[key] = acct
	s.mu.Unlock()

	if !s.autoConfirm {
		// No session until the address is confirmed; the caller still
		// gets the identity for bookkeeping.
		return &session.Session{User: s.identity(acct)}, nil
	}

	sess, err := s.establish(acct)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Service) SignInWithPassword(ctx context.Context, email, password string) (*session.Session, error) {
	s.mu.Lock()
	acct, ok := s.accounts[strings.ToLower(email)]
	s.mu.Unlock()

	if !ok || bcrypt.CompareHashAndPassword(acct.hash, []byte(password)) != nil {
		return nil, &session.ServiceError{
			Status:  400,
			Code:    "invalid_credentials",
			Message: "Invalid login credentials",
		}
	}

	if acct.confirmedAt == nil {
		return nil, &session.ServiceError{
			Status:  400,
			Code:    "email_not_confirmed",
			Message: "Email not confirmed",
		}
	}

	return s.establish(acct)
}

// OAuthURL is unsupported locally; the hosted provider owns OAuth flows.
func (s *Service) OAuthURL(provider, redirectTo string) (string, error) {
	return "", &session.ServiceError{
		Status:  400,
		Code:    "provider_disabled",
		Message: "OAuth providers are not available in local mode",
	}
}

func (s *Service) SignOut(ctx context.Context) error {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()

	s.emit(session.AuthEvent{Kind: session.EventSignedOut})
	return nil
}

// Session returns the current session, nil when signed out.
func (s *Service) Session(ctx context.Context) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, nil
	}
	cp := *s.current
	return &cp, nil
}

func (s *Service) OnAuthChange(fn func(session.AuthEvent)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// RefreshSession re-mints the current access token and announces it, the
// way a hosted provider's auto refresh would.
func (s *Service) RefreshSession() (*session.Session, error) {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()

	if current == nil || current.User == nil {
		return nil, nil
	}

	s.mu.Lock()
	acct, ok := s.accounts[strings.ToLower(current.User.Email)]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}

	sess, err := s.mint(acct)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()

	s.emit(session.AuthEvent{Kind: session.EventTokenRefreshed, Session: sess})
	return sess, nil
}

func (s *Service) establish(acct *account) (*session.Session, error) {
	sess, err := s.mint(acct)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()

	s.logger.Debug("session established for %s", acct.email)
	s.emit(session.AuthEvent{Kind: session.EventSignedIn, Session: sess})
	return sess, nil
}

func (s *Service) mint(acct *account) (*session.Session, error) {
	now := s.now()
	exp := now.Add(s.tokenTTL)

	claims := jwt.MapClaims{
		"iss":           s.issuer,
		"sub":           acct.id.String(),
		"email":         acct.email,
		"user_metadata": acct.metadata,
		"iat":           now.Unix(),
		"exp":           exp.Unix(),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return nil, err
	}

	return &session.Session{
		AccessToken:  token,
		TokenType:    "bearer",
		RefreshToken: uuid.NewString(),
		IssuedAt:     &now,
		ExpiresAt:    &exp,
		User:         s.identity(acct),
	}, nil
}

func (s *Service) identity(acct *account) *session.UserIdentity {
	return &session.UserIdentity{
		ID:               acct.id,
		Email:            acct.email,
		EmailConfirmedAt: acct.confirmedAt,
		Metadata:         acct.metadata,
	}
}

func (s *Service) emit(ev session.AuthEvent) {
	s.mu.Lock()
	fns := make([]func(session.AuthEvent), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
