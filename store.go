package session

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// State is the lifecycle position of the Store.
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateAuthenticated
	StateAnonymous
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	}
	return "unknown"
}

// Snapshot is an immutable view of the Store. Profile may be nil even when
// State is StateAuthenticated.
type Snapshot struct {
	State   State
	Session *Session
	User    *UserIdentity
	Profile *Profile
}

// Authenticated reports whether the snapshot carries a signed-in user.
func (s Snapshot) Authenticated() bool {
	return s.State == StateAuthenticated && s.User != nil
}

// Store is the single source of truth for the current session. It is
// mutated from exactly three call sites: the initial read in Init, the
// identity-service listener, and Clear (sign-out). Every mutation is a
// full-state replacement guarded by a sequence number reserved at dispatch
// time, so the store applies only the newest write and drops stale late
// arrivals deterministically.
type Store struct {
	svc      IdentityService
	profiles ProfileFetcher
	logger   Logger
	callOpts CallOptions

	seq atomic.Uint64

	mu          sync.Mutex
	state       State
	session     *Session
	user        *UserIdentity
	profile     *Profile
	applied     uint64
	initialized bool
	disposed    bool
	unsubscribe func()
	listeners   map[int]func(Snapshot)
	nextID      int
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreLogger overrides the store logger.
func WithStoreLogger(logger Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStoreCallOptions overrides the timeout/retry bounds on the initial
// session read and on profile fetches.
func WithStoreCallOptions(opts CallOptions) StoreOption {
	return func(s *Store) {
		s.callOpts = opts.normalize()
	}
}

// NewStore returns an uninitialized Store bound to the given identity
// service and profile fetcher. Call Init to start the lifecycle and Dispose
// when the owning scope goes away.
func NewStore(svc IdentityService, profiles ProfileFetcher, opts ...StoreOption) *Store {
	s := &Store{
		svc:       svc,
		profiles:  profiles,
		logger:    defLogger{},
		callOpts:  DefaultCallOptions(),
		state:     StateUninitialized,
		listeners: make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Init transitions to Loading, subscribes to session-change notifications,
// and performs the one-time session read. Loading always resolves: a failed
// read is logged and lands on Anonymous. Safe to call from a goroutine.
// One-shot: repeat calls are no-ops so the subscription is never doubled.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrStoreDisposed
	}
	if s.initialized {
		s.mu.Unlock()
		return nil
	}
	s.initialized = true
	s.state = StateLoading
	s.mu.Unlock()
	s.notify()

	// Subscribe before the read so nothing is missed; the sequence guard
	// sorts out whichever write lands last.
	unsub := s.svc.OnAuthChange(s.handleEvent)
	s.mu.Lock()
	s.unsubscribe = unsub
	s.mu.Unlock()

	// Reserve the sequence at dispatch, not on completion. An event that
	// arrives while the read is in flight outranks the read's result.
	seq := s.seq.Add(1)

	sess, err := call(ctx, s.logger, s.callOpts, "session restore", func(ctx context.Context) (*Session, error) {
		return s.svc.Session(ctx)
	})
	if err != nil {
		s.logger.Error("session restore failed, treating as anonymous: %v", err)
		sess = nil
	}

	s.applySession(seq, sess)
	return nil
}

// Snapshot returns the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// OnChange registers a listener invoked after every applied write. The
// returned function removes the listener.
func (s *Store) OnChange(fn func(Snapshot)) (remove func()) {
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

// Clear forces Anonymous with the profile dropped. Sign-out uses it so the
// local state resets even when the remote invalidation call failed.
func (s *Store) Clear() {
	s.applySession(s.seq.Add(1), nil)
}

// Dispose cancels the upstream subscription and blocks all further writes.
// Late responses from in-flight reads are dropped, not applied.
func (s *Store) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	unsub := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

func (s *Store) handleEvent(ev AuthEvent) {
	seq := s.seq.Add(1)

	switch ev.Kind {
	case EventSignedOut:
		s.applySession(seq, nil)
	case EventSignedIn, EventTokenRefreshed:
		s.applySession(seq, ev.Session)
	default:
		s.logger.Warn("ignoring unknown auth event kind %q", ev.Kind)
	}
}

// applySession replaces the whole session state if seq is the newest write
// observed so far.
func (s *Store) applySession(seq uint64, sess *Session) {
	s.mu.Lock()
	if s.disposed || seq <= s.applied {
		s.mu.Unlock()
		s.logger.Debug("dropping stale session write seq=%d", seq)
		return
	}
	s.applied = seq

	if sess == nil || sess.User == nil {
		s.state = StateAnonymous
		s.session = nil
		s.user = nil
		s.profile = nil
		s.mu.Unlock()
		s.notify()
		return
	}

	sameUser := s.user != nil && s.user.ID == sess.User.ID
	s.state = StateAuthenticated
	s.session = sess
	s.user = sess.User
	if !sameUser {
		s.profile = nil
	}
	userID := sess.User.ID
	s.mu.Unlock()
	s.notify()

	// Profile is a non-blocking enrichment; it arrives later or not at all.
	go s.fetchProfile(userID)
}

func (s *Store) fetchProfile(userID uuid.UUID) {
	if s.profiles == nil {
		return
	}

	profile, err := call(context.Background(), s.logger, s.callOpts, "profile fetch", func(ctx context.Context) (*Profile, error) {
		return s.profiles.Fetch(ctx, userID)
	})
	if err != nil {
		s.logger.Error("profile fetch for %s degraded to absent: %v", userID, err)
		profile = nil
	}

	s.mu.Lock()
	// Guard the one-shot response: apply only while still authenticated as
	// the same user and not disposed.
	if s.disposed || s.state != StateAuthenticated || s.user == nil || s.user.ID != userID {
		s.mu.Unlock()
		return
	}
	s.profile = profile
	s.mu.Unlock()
	s.notify()
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		State:   s.state,
		Session: s.session,
		User:    s.user,
		Profile: s.profile,
	}
}

func (s *Store) notify() {
	s.mu.Lock()
	snap := s.snapshotLocked()
	fns := make([]func(Snapshot), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
