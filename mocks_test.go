package session_test

import (
	"context"
	"io"
	"mime/multipart"
	"sync"

	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	session "github.com/quantsight/go-session"
)

// MockIdentityService implements session.IdentityService
type MockIdentityService struct {
	mock.Mock

	mu        sync.Mutex
	listeners []func(session.AuthEvent)
}

func (m *MockIdentityService) Session(ctx context.Context) (*session.Session, error) {
	args := m.Called(ctx)
	var sess *session.Session
	if v := args.Get(0); v != nil {
		sess = v.(*session.Session)
	}
	return sess, args.Error(1)
}

func (m *MockIdentityService) SignUp(ctx context.Context, input session.SignUpInput) (*session.Session, error) {
	args := m.Called(ctx, input)
	var sess *session.Session
	if v := args.Get(0); v != nil {
		sess = v.(*session.Session)
	}
	return sess, args.Error(1)
}

func (m *MockIdentityService) SignInWithPassword(ctx context.Context, email, password string) (*session.Session, error) {
	args := m.Called(ctx, email, password)
	var sess *session.Session
	if v := args.Get(0); v != nil {
		sess = v.(*session.Session)
	}
	return sess, args.Error(1)
}

func (m *MockIdentityService) OAuthURL(provider, redirectTo string) (string, error) {
	args := m.Called(provider, redirectTo)
	return args.String(0), args.Error(1)
}

func (m *MockIdentityService) SignOut(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockIdentityService) OnAuthChange(fn func(session.AuthEvent)) func() {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	idx := len(m.listeners) - 1
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		m.listeners[idx] = nil
		m.mu.Unlock()
	}
}

func (m *MockIdentityService) listenerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, fn := range m.listeners {
		if fn != nil {
			n++
		}
	}
	return n
}

// Emit pushes an event to every live listener, as the service would.
func (m *MockIdentityService) Emit(ev session.AuthEvent) {
	m.mu.Lock()
	fns := make([]func(session.AuthEvent), 0, len(m.listeners))
	for _, fn := range m.listeners {
		if fn != nil {
			fns = append(fns, fn)
		}
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// MockProfileStore implements session.ProfileStore
type MockProfileStore struct {
	mock.Mock
}

func (m *MockProfileStore) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (*session.Profile, error) {
	args := m.Called(ctx, id)
	var p *session.Profile
	if v := args.Get(0); v != nil {
		p = v.(*session.Profile)
	}
	return p, args.Error(1)
}

func (m *MockProfileStore) GetByUsername(ctx context.Context, username string, criteria ...repository.SelectCriteria) (*session.Profile, error) {
	args := m.Called(ctx, username)
	var p *session.Profile
	if v := args.Get(0); v != nil {
		p = v.(*session.Profile)
	}
	return p, args.Error(1)
}

func (m *MockProfileStore) Create(ctx context.Context, record *session.Profile, criteria ...repository.InsertCriteria) (*session.Profile, error) {
	args := m.Called(ctx, record)
	var p *session.Profile
	if v := args.Get(0); v != nil {
		p = v.(*session.Profile)
	}
	return p, args.Error(1)
}

func testIdentity(email string) *session.UserIdentity {
	return &session.UserIdentity{
		ID:    uuid.New(),
		Email: email,
	}
}

func testSession(user *session.UserIdentity) *session.Session {
	return &session.Session{
		AccessToken:  "token-" + uuid.NewString(),
		TokenType:    "bearer",
		RefreshToken: uuid.NewString(),
		User:         user,
	}
}

// MockContext mocks the router.Context
type MockContext struct {
	mock.Mock
	NextCalled bool
}

func (m *MockContext) Next() error {
	m.NextCalled = true
	return nil
}

func (m *MockContext) Context() context.Context {
	args := m.Called()
	c, ok := args.Get(0).(context.Context)
	if !ok {
		panic("arg needs to be context.Context")
	}
	return c
}

func (m *MockContext) SetContext(ctx context.Context) {
	m.Called(ctx)
}

func (m *MockContext) Path() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) Method() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) Body() []byte {
	args := m.Called()
	return args.Get(0).([]byte)
}

func (m *MockContext) Status(code int) router.Context {
	m.Called(code)
	return m
}

func (m *MockContext) SendString(s string) error {
	args := m.Called(s)
	return args.Error(0)
}

func (m *MockContext) Send(b []byte) error {
	args := m.Called(b)
	return args.Error(0)
}

func (m *MockContext) JSON(code int, val any) error {
	args := m.Called(code, val)
	return args.Error(0)
}

func (m *MockContext) NoContent(code int) error {
	args := m.Called(code)
	return args.Error(0)
}

func (m *MockContext) Render(name string, bind any, layout ...string) error {
	if len(layout) > 0 {
		args := m.Called(name, bind, layout[0])
		return args.Error(0)
	}
	args := m.Called(name, bind)
	return args.Error(0)
}

func (m *MockContext) Redirect(path string, status ...int) error {
	if len(status) > 0 {
		args := m.Called(path, status)
		return args.Error(0)
	}
	args := m.Called(path)
	return args.Error(0)
}

func (m *MockContext) RedirectToRoute(name string, data router.ViewContext, status ...int) error {
	if len(status) > 0 {
		args := m.Called(name, data, status[0])
		return args.Error(0)
	}
	args := m.Called(name, data)
	return args.Error(0)
}

func (m *MockContext) RedirectBack(fallback string, status ...int) error {
	if len(status) > 0 {
		args := m.Called(fallback, status)
		return args.Error(0)
	}
	args := m.Called(fallback)
	return args.Error(0)
}

func (m *MockContext) SetHeader(key, val string) router.Context {
	m.Called(key, val)
	return m
}

func (m *MockContext) Header(key string) string {
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) Get(key string, defaultValue any) any {
	args := m.Called(key, defaultValue)
	return args.Get(0)
}

func (m *MockContext) GetBool(key string, defaultValue bool) bool {
	args := m.Called(key, defaultValue)
	return args.Bool(0)
}

func (m *MockContext) GetInt(key string, def int) int {
	args := m.Called(key, def)
	return args.Int(0)
}

func (m *MockContext) Set(key string, val any) {
	m.Called(key, val)
}

func (m *MockContext) Bind(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) BindJSON(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) BindXML(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) BindQuery(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) CookieParser(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) Cookie(cookie *router.Cookie) {
	m.Called(cookie)
}

func (m *MockContext) Cookies(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		args := m.Called(key, defaultValue[0])
		return args.String(0)
	}
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) Param(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		args := m.Called(key, defaultValue[0])
		return args.String(0)
	}
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) ParamsInt(key string, defaultValue int) int {
	args := m.Called(key, defaultValue)
	return args.Int(0)
}

func (m *MockContext) Query(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		args := m.Called(key, defaultValue[0])
		return args.String(0)
	}
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) QueryValues(key string) []string {
	args := m.Called(key)
	if v := args.Get(0); v != nil {
		return v.([]string)
	}
	return nil
}

func (m *MockContext) QueryInt(key string, defaultValue int) int {
	args := m.Called(key, defaultValue)
	return args.Int(0)
}

func (m *MockContext) Queries() map[string]string {
	args := m.Called()
	return args.Get(0).(map[string]string)
}

func (m *MockContext) GetString(key string, defaultValue string) string {
	args := m.Called(key, defaultValue)
	return args.String(0)
}

func (m *MockContext) Locals(key any, value ...any) any {
	if len(value) > 0 {
		m.Called(key, value[0])
		return nil
	}
	args := m.Called(key)
	return args.Get(0)
}

func (m *MockContext) OriginalURL() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) OnNext(callback func() error) {
	m.Called(callback)
}

func (m *MockContext) Referer() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) LocalsMerge(key any, value map[string]any) map[string]any {
	args := m.Called(key, value)
	if v := args.Get(0); v != nil {
		return v.(map[string]any)
	}
	return nil
}

func (m *MockContext) FormFile(key string) (*multipart.FileHeader, error) {
	args := m.Called(key)
	var fh *multipart.FileHeader
	if v := args.Get(0); v != nil {
		fh = v.(*multipart.FileHeader)
	}
	return fh, args.Error(1)
}

func (m *MockContext) FormValue(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		args := m.Called(key, defaultValue[0])
		return args.String(0)
	}
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) IP() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) SendStatus(code int) error {
	args := m.Called(code)
	return args.Error(0)
}

func (m *MockContext) SendStream(r io.Reader) error {
	args := m.Called(r)
	return args.Error(0)
}

func (m *MockContext) RouteName() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) RouteParams() map[string]string {
	args := m.Called()
	if v := args.Get(0); v != nil {
		return v.(map[string]string)
	}
	return nil
}
