package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	session "github.com/quantsight/go-session"
)

func TestStoreInitRestoresSession(t *testing.T) {
	user := testIdentity("ada@example.com")
	sess := testSession(user)
	profile := &session.Profile{ID: user.ID, Username: "ada"}

	svc := new(MockIdentityService)
	svc.On("Session", mock.Anything).Return(sess, nil)

	profiles := new(MockProfileStore)
	profiles.On("GetByID", mock.Anything, user.ID.String()).Return(profile, nil)

	store := session.NewStore(svc, session.NewProfileService(profiles))
	require.NoError(t, store.Init(context.Background()))

	snap := store.Snapshot()
	assert.Equal(t, session.StateAuthenticated, snap.State)
	assert.Equal(t, user.ID, snap.User.ID)

	require.Eventually(t, func() bool {
		return store.Snapshot().Profile != nil
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "ada", store.Snapshot().Profile.Username)
}

func TestStoreInitNoSessionIsAnonymous(t *testing.T) {
	svc := new(MockIdentityService)
	svc.On("Session", mock.Anything).Return(nil, nil)

	store := session.NewStore(svc, nil)
	require.NoError(t, store.Init(context.Background()))

	snap := store.Snapshot()
	assert.Equal(t, session.StateAnonymous, snap.State)
	assert.Nil(t, snap.User)
	assert.Nil(t, snap.Session)
}

func TestStoreInitIsOneShot(t *testing.T) {
	svc := new(MockIdentityService)
	svc.On("Session", mock.Anything).Return(nil, nil)

	store := session.NewStore(svc, nil)
	require.NoError(t, store.Init(context.Background()))
	require.NoError(t, store.Init(context.Background()))

	// One restore read and one live subscription, no matter how many times
	// Init runs.
	svc.AssertNumberOfCalls(t, "Session", 1)
	assert.Equal(t, 1, svc.listenerCount())
	assert.Equal(t, session.StateAnonymous, store.Snapshot().State)
}

func TestStoreInitErrorResolvesToAnonymous(t *testing.T) {
	svc := new(MockIdentityService)
	svc.On("Session", mock.Anything).Return(nil, errors.New("service down"))

	store := session.NewStore(svc, nil)
	require.NoError(t, store.Init(context.Background()))

	// Loading never hangs: a failed restore lands on anonymous.
	assert.Equal(t, session.StateAnonymous, store.Snapshot().State)
}

func TestStoreEventDuringInitOutranksRestore(t *testing.T) {
	userA := testIdentity("restored@example.com")
	userB := testIdentity("event@example.com")

	release := make(chan struct{})

	svc := new(MockIdentityService)
	svc.On("Session", mock.Anything).
		Run(func(args mock.Arguments) { <-release }).
		Return(testSession(userA), nil)

	store := session.NewStore(svc, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, store.Init(context.Background()))
	}()

	// Wait for the subscription, then push a newer write while the
	// restore read is still in flight.
	require.Eventually(t, func() bool {
		return store.Snapshot().State == session.StateLoading
	}, time.Second, 5*time.Millisecond)

	svc.Emit(session.AuthEvent{Kind: session.EventSignedIn, Session: testSession(userB)})
	close(release)
	<-done

	// The stale restore result must not overwrite the newer event.
	snap := store.Snapshot()
	assert.Equal(t, session.StateAuthenticated, snap.State)
	assert.Equal(t, userB.ID, snap.User.ID)
}

func TestStoreSignOutEventClearsEverything(t *testing.T) {
	user := testIdentity("ada@example.com")

	svc := new(MockIdentityService)
	svc.On("Session", mock.Anything).Return(testSession(user), nil)

	profiles := new(MockProfileStore)
	profiles.On("GetByID", mock.Anything, user.ID.String()).
		Return(&session.Profile{ID: user.ID, Username: "ada"}, nil)

	store := session.NewStore(svc, session.NewProfileService(profiles))
	require.NoError(t, store.Init(context.Background()))

	require.Eventually(t, func() bool {
		return store.Snapshot().Profile != nil
	}, time.Second, 10*time.Millisecond)

	svc.Emit(session.AuthEvent{Kind: session.EventSignedOut})

	snap := store.Snapshot()
	assert.Equal(t, session.StateAnonymous, snap.State)
	assert.Nil(t, snap.Session)
	assert.Nil(t, snap.User)
	assert.Nil(t, snap.Profile)
}

func TestStoreClearResetsToAnonymous(t *testing.T) {
	user := testIdentity("ada@example.com")

	svc := new(MockIdentityService)
	svc.On("Session", mock.Anything).Return(testSession(user), nil)

	store := session.NewStore(svc, nil)
	require.NoError(t, store.Init(context.Background()))
	require.Equal(t, session.StateAuthenticated, store.Snapshot().State)

	store.Clear()
	assert.Equal(t, session.StateAnonymous, store.Snapshot().State)
}

func TestStoreProfileFetchFailureDegradesToAbsent(t *testing.T) {
	user := testIdentity("ada@example.com")

	svc := new(MockIdentityService)
	svc.On("Session", mock.Anything).Return(testSession(user), nil)

	profiles := new(MockProfileStore)
	profiles.On("GetByID", mock.Anything, user.ID.String()).
		Return(nil, errors.New("db offline"))

	store := session.NewStore(svc, session.NewProfileService(profiles))
	require.NoError(t, store.Init(context.Background()))

	// The session stays authenticated; the profile simply never arrives.
	time.Sleep(50 * time.Millisecond)
	snap := store.Snapshot()
	assert.Equal(t, session.StateAuthenticated, snap.State)
	assert.Nil(t, snap.Profile)

	profiles.AssertCalled(t, "GetByID", mock.Anything, user.ID.String())
}

func TestStoreLateProfileAfterSignOutIsDropped(t *testing.T) {
	user := testIdentity("ada@example.com")
	release := make(chan struct{})

	svc := new(MockIdentityService)
	svc.On("Session", mock.Anything).Return(testSession(user), nil)

	profiles := new(MockProfileStore)
	profiles.On("GetByID", mock.Anything, user.ID.String()).
		Run(func(args mock.Arguments) { <-release }).
		Return(&session.Profile{ID: user.ID, Username: "ada"}, nil)

	store := session.NewStore(svc, session.NewProfileService(profiles))
	require.NoError(t, store.Init(context.Background()))

	// Sign out while the profile read is still in flight, then let the
	// read complete.
	store.Clear()
	close(release)

	time.Sleep(50 * time.Millisecond)
	snap := store.Snapshot()
	assert.Equal(t, session.StateAnonymous, snap.State)
	assert.Nil(t, snap.Profile)
}

func TestStoreInitAfterDispose(t *testing.T) {
	svc := new(MockIdentityService)
	store := session.NewStore(svc, nil)
	store.Dispose()

	assert.ErrorIs(t, store.Init(context.Background()), session.ErrStoreDisposed)
}

func TestStoreDisposeStopsEventDelivery(t *testing.T) {
	svc := new(MockIdentityService)
	svc.On("Session", mock.Anything).Return(nil, nil)

	store := session.NewStore(svc, nil)
	require.NoError(t, store.Init(context.Background()))
	store.Dispose()

	svc.Emit(session.AuthEvent{
		Kind:    session.EventSignedIn,
		Session: testSession(testIdentity("late@example.com")),
	})

	assert.Equal(t, session.StateAnonymous, store.Snapshot().State)
}

func TestStoreOnChangeNotifiesAndRemoves(t *testing.T) {
	svc := new(MockIdentityService)
	svc.On("Session", mock.Anything).Return(nil, nil)

	store := session.NewStore(svc, nil)

	var mu sync.Mutex
	var states []session.State
	remove := store.OnChange(func(snap session.Snapshot) {
		mu.Lock()
		states = append(states, snap.State)
		mu.Unlock()
	})

	require.NoError(t, store.Init(context.Background()))

	mu.Lock()
	assert.Equal(t, []session.State{session.StateLoading, session.StateAnonymous}, states)
	mu.Unlock()

	remove()
	svc.Emit(session.AuthEvent{
		Kind:    session.EventSignedIn,
		Session: testSession(testIdentity("ada@example.com")),
	})

	mu.Lock()
	assert.Len(t, states, 2)
	mu.Unlock()
}

func TestStoreTokenRefreshKeepsUserAndProfile(t *testing.T) {
	user := testIdentity("ada@example.com")

	svc := new(MockIdentityService)
	svc.On("Session", mock.Anything).Return(testSession(user), nil)

	profiles := new(MockProfileStore)
	profiles.On("GetByID", mock.Anything, user.ID.String()).
		Return(&session.Profile{ID: user.ID, Username: "ada"}, nil)

	store := session.NewStore(svc, session.NewProfileService(profiles))
	require.NoError(t, store.Init(context.Background()))

	require.Eventually(t, func() bool {
		return store.Snapshot().Profile != nil
	}, time.Second, 10*time.Millisecond)

	refreshed := testSession(user)
	svc.Emit(session.AuthEvent{Kind: session.EventTokenRefreshed, Session: refreshed})

	require.Eventually(t, func() bool {
		snap := store.Snapshot()
		return snap.Session.AccessToken == refreshed.AccessToken && snap.Profile != nil
	}, time.Second, 10*time.Millisecond)
}
