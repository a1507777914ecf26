package reconcile

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shotsapp/shots/internal/identity"
	"github.com/shotsapp/shots/internal/model"
	"github.com/shotsapp/shots/internal/profile"
)

var (
	anonSession = model.Session{UserID: "anon_1", Anonymous: true}
	userSession = model.Session{UserID: "uid_1", Email: "ann@example.com"}
	storedUser  = model.User{ID: "uid_1", CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), Email: "ann@example.com"}
)

func TestTransition_NoSessionStartsOneAnonymousSignIn(t *testing.T) {
	t.Parallel()

	st, effects := Transition(State{}, SessionChanged{Session: model.NoSession})
	assert.Equal(t, Unauthenticated, st.Phase)
	assert.True(t, st.AnonymousPending)
	assert.Contains(t, effects, Effect(StartAnonymousSignIn{}))

	// A second empty session while the first sign-in is pending.
	st, effects = Transition(st, SessionChanged{Session: model.NoSession})
	assert.NotContains(t, effects, Effect(StartAnonymousSignIn{}))

	st, _ = Transition(st, SessionChanged{Session: anonSession})
	st, effects = Transition(st, AnonymousSignInFinished{UserID: anonSession.UserID})
	assert.False(t, st.AnonymousPending)
	assert.Empty(t, effects)

	_, effects = Transition(st, SessionChanged{Session: model.NoSession})
	assert.Contains(t, effects, Effect(StartAnonymousSignIn{}))
}

func TestTransition_SessionLostWhileAnonymousSignInRuns(t *testing.T) {
	t.Parallel()

	st, _ := Transition(State{}, SessionChanged{Session: model.NoSession})
	require.True(t, st.AnonymousPending)

	// The provider reports the new session before the sign-in goroutine
	// reports back, then drops it again.
	st, _ = Transition(st, SessionChanged{Session: anonSession})
	st, effects := Transition(st, SessionChanged{Session: model.NoSession})
	assert.NotContains(t, effects, Effect(StartAnonymousSignIn{}))

	st, effects = Transition(st, AnonymousSignInFinished{UserID: anonSession.UserID})
	assert.Equal(t, Unauthenticated, st.Phase)
	assert.True(t, st.AnonymousPending)
	assert.Equal(t, []Effect{StartAnonymousSignIn{}}, effects)
}

func TestTransition_AnonymousSignInFinishedBeforeItsSession(t *testing.T) {
	t.Parallel()

	st, _ := Transition(State{}, SessionChanged{Session: model.NoSession})

	// The finished event overtakes the listener's report of the new session.
	st, effects := Transition(st, AnonymousSignInFinished{UserID: anonSession.UserID})
	assert.False(t, st.AnonymousPending)
	assert.Empty(t, effects, "no second anonymous account while the session is in flight")

	st, effects = Transition(st, SessionChanged{Session: anonSession})
	assert.Equal(t, Anonymous, st.Phase)
	assert.NotContains(t, effects, Effect(StartAnonymousSignIn{}))
}

func TestTransition_FailedAnonymousSignInRestarts(t *testing.T) {
	t.Parallel()

	st, _ := Transition(State{}, SessionChanged{Session: model.NoSession})
	st, effects := Transition(st, AnonymousSignInFinished{Err: errors.New("gave up")})
	assert.True(t, st.AnonymousPending)
	assert.Equal(t, []Effect{StartAnonymousSignIn{}}, effects)
}

func TestTransition_SessionStartsReconcile(t *testing.T) {
	t.Parallel()

	st, effects := Transition(State{}, SessionChanged{Session: anonSession})
	assert.Equal(t, Anonymous, st.Phase)
	assert.True(t, st.Reconciling)
	assert.Equal(t, []Effect{ReconcileProfile{Session: anonSession}}, effects)
}

func TestTransition_ReconcileInFlightIsDeferred(t *testing.T) {
	t.Parallel()

	st, _ := Transition(State{}, SessionChanged{Session: anonSession})
	st, effects := Transition(st, SessionChanged{Session: userSession})
	assert.Empty(t, effects)
	assert.True(t, st.ReconcilePending)

	// The stale result is discarded and the latest session reconciled.
	st, effects = Transition(st, ProfileReconciled{Session: anonSession, Result: profile.Result{Outcome: profile.Absent}})
	assert.Equal(t, []Effect{ReconcileProfile{Session: userSession}}, effects)
	assert.True(t, st.Reconciling)
	assert.False(t, st.ReconcilePending)

	st, effects = Transition(st, ProfileReconciled{Session: userSession, Result: profile.Result{User: storedUser, Outcome: profile.Created}})
	assert.Equal(t, Authenticated, st.Phase)
	assert.Equal(t, storedUser, st.User)
	assert.Equal(t, "uid_1", st.Watching)
	assert.Equal(t, []Effect{SetCache{User: storedUser}, WatchProfile{UserID: "uid_1"}}, effects)
}

func TestTransition_ReconcileErrorKeepsState(t *testing.T) {
	t.Parallel()

	st := State{Phase: Authenticated, Session: userSession, User: storedUser, Watching: "uid_1", Reconciling: true}
	next, effects := Transition(st, ProfileReconciled{Session: userSession, Err: errors.New("store down")})
	assert.Empty(t, effects)
	assert.Equal(t, Authenticated, next.Phase)
	assert.Equal(t, storedUser, next.User)
	assert.False(t, next.Reconciling)
}

func TestTransition_DifferentPrincipalClearsCache(t *testing.T) {
	t.Parallel()

	st := State{Phase: Authenticated, Session: userSession, User: storedUser, Watching: "uid_1"}
	next, effects := Transition(st, SessionChanged{Session: model.Session{UserID: "uid_2"}})
	assert.Equal(t, Anonymous, next.Phase)
	assert.Empty(t, next.User.ID)
	assert.Empty(t, next.Watching)
	assert.Equal(t, []Effect{ClearCache{}, StopWatch{}, ReconcileProfile{Session: model.Session{UserID: "uid_2"}}}, effects)
}

func TestTransition_SignOutClearsProfile(t *testing.T) {
	t.Parallel()

	st := State{Phase: Authenticated, Session: userSession, User: storedUser, Watching: "uid_1"}
	next, effects := Transition(st, SessionChanged{Session: model.NoSession})
	assert.Equal(t, Unauthenticated, next.Phase)
	assert.Equal(t, []Effect{ClearCache{}, StopWatch{}, StartAnonymousSignIn{}}, effects)
}

func TestTransition_AbsentProfileStaysAnonymous(t *testing.T) {
	t.Parallel()

	st, _ := Transition(State{}, SessionChanged{Session: anonSession})
	st, effects := Transition(st, ProfileReconciled{Session: anonSession, Result: profile.Result{Outcome: profile.Absent}})
	assert.Equal(t, Anonymous, st.Phase)
	assert.Equal(t, []Effect{ClearCache{}}, effects)
}

func TestTransition_SignInCompleted(t *testing.T) {
	t.Parallel()

	reply := make(chan SignInResult, 1)
	completion := identity.Completion{IDToken: "token", Email: "ann@example.com"}

	t.Run("without request", func(t *testing.T) {
		_, effects := Transition(State{}, SignInCompleted{Completion: completion, Reply: reply})
		require.Len(t, effects, 2)
		n, ok := effects[0].(Notify)
		require.True(t, ok)
		assert.Equal(t, SignInFailed, n.Notification.Kind)
		assert.ErrorIs(t, n.Notification.Err, identity.ErrNoLoginRequest)
	})

	t.Run("links anonymous session", func(t *testing.T) {
		st := State{Phase: Anonymous, Session: anonSession, Nonce: "raw"}
		next, effects := Transition(st, SignInCompleted{Completion: completion, Reply: reply})
		assert.Empty(t, next.Nonce)
		assert.True(t, next.SigningIn)
		assert.Equal(t, []Effect{SignIn{Nonce: "raw", Completion: completion, Link: true, Reply: reply}}, effects)
	})

	t.Run("signs in without session", func(t *testing.T) {
		next, effects := Transition(State{Nonce: "raw"}, SignInCompleted{Completion: completion, Reply: reply})
		assert.True(t, next.SigningIn)
		assert.Equal(t, []Effect{SignIn{Nonce: "raw", Completion: completion, Link: false, Reply: reply}}, effects)
	})

	t.Run("rejects concurrent completion", func(t *testing.T) {
		st := State{SigningIn: true, Nonce: "raw"}
		next, effects := Transition(st, SignInCompleted{Completion: completion, Reply: reply})
		assert.Equal(t, "raw", next.Nonce)
		assert.Equal(t, []Effect{Reply{To: reply, Result: SignInResult{Err: ErrSignInInProgress}}}, effects)
	})
}

func TestTransition_SignInFinished(t *testing.T) {
	t.Parallel()

	reply := make(chan SignInResult, 1)

	t.Run("success authenticates and notifies once", func(t *testing.T) {
		st := State{Phase: Anonymous, Session: userSession, SigningIn: true, ReconcilePending: true}
		next, effects := Transition(st, SignInFinished{User: storedUser, Reply: reply})
		assert.Equal(t, Authenticated, next.Phase)
		assert.False(t, next.SigningIn)
		assert.True(t, next.Reconciling)

		var notes int
		for _, eff := range effects {
			if n, ok := eff.(Notify); ok {
				notes++
				assert.Equal(t, SignInSucceeded, n.Notification.Kind)
			}
		}
		assert.Equal(t, 1, notes)
		assert.Contains(t, effects, Effect(ReconcileProfile{Session: userSession}))
	})

	t.Run("failure keeps prior state", func(t *testing.T) {
		st := State{Phase: Anonymous, Session: anonSession, SigningIn: true}
		boom := errors.New("boom")
		next, effects := Transition(st, SignInFinished{Err: boom, Reply: reply})
		assert.Equal(t, Anonymous, next.Phase)
		assert.Equal(t, []Effect{
			Notify{Notification: Notification{Kind: SignInFailed, Err: boom}},
			Reply{To: reply, Result: SignInResult{Err: boom}},
		}, effects)
	})
}

func TestTransition_ProfileUpdated(t *testing.T) {
	t.Parallel()

	st := State{Phase: Authenticated, Session: userSession, User: storedUser, Watching: "uid_1"}
	renamed := storedUser
	renamed.Name = "Ann"

	next, effects := Transition(st, ProfileUpdated{UserID: "uid_1", User: renamed, Present: true})
	assert.Equal(t, renamed, next.User)
	assert.Equal(t, []Effect{SetCache{User: renamed}}, effects)

	_, effects = Transition(next, ProfileUpdated{UserID: "uid_1", User: renamed, Present: true})
	assert.Empty(t, effects)

	_, effects = Transition(next, ProfileUpdated{UserID: "uid_2", User: model.User{ID: "uid_2"}, Present: true})
	assert.Empty(t, effects)

	_, effects = Transition(next, ProfileUpdated{UserID: "uid_1"})
	assert.Empty(t, effects)
}
