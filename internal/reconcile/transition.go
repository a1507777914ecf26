package reconcile

import (
	"github.com/shotsapp/shots/internal/identity"
	"github.com/shotsapp/shots/internal/model"
	"github.com/shotsapp/shots/internal/profile"
)

// Transition applies ev to st. It performs no I/O.
func Transition(st State, ev Event) (State, []Effect) {
	switch ev := ev.(type) {
	case SessionChanged:
		return onSessionChanged(st, ev)
	case AnonymousSignInFinished:
		return onAnonymousSignInFinished(st, ev)
	case ProfileReconciled:
		return onProfileReconciled(st, ev)
	case NonceIssued:
		st.Nonce = ev.Nonce
		return st, nil
	case SignInCompleted:
		return onSignInCompleted(st, ev)
	case SignInFinished:
		return onSignInFinished(st, ev)
	case ProfileUpdated:
		return onProfileUpdated(st, ev)
	default:
		return st, nil
	}
}

func onSessionChanged(st State, ev SessionChanged) (State, []Effect) {
	st.Session = ev.Session
	if ev.Session.Present() {
		st.LastUserID = ev.Session.UserID
	}
	var effects []Effect

	if !ev.Session.Present() {
		effects = append(effects, leaveProfile(&st)...)
		st.Phase = Unauthenticated
		st.ReconcilePending = false
		if !st.AnonymousPending {
			st.AnonymousPending = true
			effects = append(effects, StartAnonymousSignIn{})
		}
		return st, effects
	}

	switch {
	case st.Phase == Authenticated && st.User.ID != ev.Session.UserID:
		effects = append(effects, leaveProfile(&st)...)
		st.Phase = Anonymous
	case st.Phase == Unauthenticated:
		st.Phase = Anonymous
	}

	effects = append(effects, requestReconcile(&st)...)
	return st, effects
}

// onAnonymousSignInFinished starts another attempt when the session it
// produced was already seen and lost again. A principal not yet seen is
// still on its way from the listener.
func onAnonymousSignInFinished(st State, ev AnonymousSignInFinished) (State, []Effect) {
	st.AnonymousPending = false
	if st.Session.Present() {
		return st, nil
	}
	if ev.Err == nil && ev.UserID != "" && ev.UserID != st.LastUserID {
		return st, nil
	}
	st.AnonymousPending = true
	return st, []Effect{StartAnonymousSignIn{}}
}

func onProfileReconciled(st State, ev ProfileReconciled) (State, []Effect) {
	st.Reconciling = false

	// A newer session arrived while this one was in flight.
	if st.ReconcilePending {
		return st, requestReconcile(&st)
	}
	if ev.Session != st.Session {
		return st, nil
	}
	if ev.Err != nil {
		// Keep whatever was cached; a stale profile never blocks usage.
		return st, nil
	}

	switch ev.Result.Outcome {
	case profile.Found, profile.Created:
		return authenticate(st, ev.Result.User)
	default:
		effects := leaveProfile(&st)
		st.Phase = Anonymous
		return st, effects
	}
}

func onSignInCompleted(st State, ev SignInCompleted) (State, []Effect) {
	if st.SigningIn {
		return st, []Effect{Reply{To: ev.Reply, Result: SignInResult{Err: ErrSignInInProgress}}}
	}
	if st.Nonce == "" {
		err := identity.ErrNoLoginRequest
		return st, []Effect{
			Notify{Notification: Notification{Kind: SignInFailed, Err: err}},
			Reply{To: ev.Reply, Result: SignInResult{Err: err}},
		}
	}

	nonce := st.Nonce
	st.Nonce = ""
	st.SigningIn = true
	return st, []Effect{SignIn{
		Nonce:      nonce,
		Completion: ev.Completion,
		Link:       st.Session.Present() && st.Session.Anonymous,
		Reply:      ev.Reply,
	}}
}

func onSignInFinished(st State, ev SignInFinished) (State, []Effect) {
	st.SigningIn = false

	if ev.Err != nil {
		effects := []Effect{
			Notify{Notification: Notification{Kind: SignInFailed, Err: ev.Err}},
			Reply{To: ev.Reply, Result: SignInResult{Err: ev.Err}},
		}
		if st.ReconcilePending {
			effects = append(effects, requestReconcile(&st)...)
		}
		return st, effects
	}

	st, effects := authenticate(st, ev.User)
	effects = append(effects,
		Notify{Notification: Notification{Kind: SignInSucceeded, User: ev.User}},
		Reply{To: ev.Reply, Result: SignInResult{User: ev.User}},
	)
	if st.ReconcilePending {
		effects = append(effects, requestReconcile(&st)...)
	}
	return st, effects
}

func onProfileUpdated(st State, ev ProfileUpdated) (State, []Effect) {
	if st.Phase != Authenticated || st.User.ID != ev.UserID || !ev.Present {
		return st, nil
	}
	if st.User == ev.User {
		return st, nil
	}
	st.User = ev.User
	return st, []Effect{SetCache{User: ev.User}}
}

// authenticate enters the Authenticated phase for u.
func authenticate(st State, u model.User) (State, []Effect) {
	st.Phase = Authenticated
	st.User = u
	effects := []Effect{SetCache{User: u}}
	if st.Watching != u.ID {
		if st.Watching != "" {
			effects = append(effects, StopWatch{})
		}
		st.Watching = u.ID
		effects = append(effects, WatchProfile{UserID: u.ID})
	}
	return st, effects
}

// leaveProfile drops the cached profile and its watch.
func leaveProfile(st *State) []Effect {
	effects := []Effect{ClearCache{}}
	if st.Watching != "" {
		st.Watching = ""
		effects = append(effects, StopWatch{})
	}
	st.User = model.User{}
	return effects
}

// requestReconcile starts a reconciliation of the current session, or
// queues one if a reconciliation or sign-in is already running.
func requestReconcile(st *State) []Effect {
	if !st.Session.Present() {
		st.ReconcilePending = false
		return nil
	}
	if st.Reconciling || st.SigningIn {
		st.ReconcilePending = true
		return nil
	}
	st.ReconcilePending = false
	st.Reconciling = true
	return []Effect{ReconcileProfile{Session: st.Session}}
}
