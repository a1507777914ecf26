// Package reconcile drives the session state machine: anonymous bootstrap,
// profile reconciliation, provider sign-in and the profile cache.
//
// Transition is a pure function from (State, Event) to the next State and
// the Effects to run. Flow owns the only goroutine that applies it, so
// events are handled strictly in order.
package reconcile

import (
	"errors"

	"github.com/shotsapp/shots/internal/model"
)

// ErrSignInInProgress is returned when a sign-in completion arrives while
// another is still being exchanged.
var ErrSignInInProgress = errors.New("sign-in already in progress")

// Phase is the coarse session state.
type Phase int

const (
	// Unauthenticated: no provider session.
	Unauthenticated Phase = iota
	// Anonymous: a provider session with no profile.
	Anonymous
	// Authenticated: a provider session with a reconciled profile.
	Authenticated
)

func (p Phase) String() string {
	switch p {
	case Anonymous:
		return "anonymous"
	case Authenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// State is the flow's full state. The zero value is the start state.
type State struct {
	Phase   Phase
	Session model.Session
	// User is set only in the Authenticated phase.
	User model.User

	AnonymousPending bool
	// LastUserID is the most recent present session's user id.
	LastUserID string
	Reconciling      bool
	// ReconcilePending asks for another reconciliation of the latest
	// session once the current one (or a sign-in) finishes.
	ReconcilePending bool

	// Nonce is the raw nonce of the outstanding sign-in request.
	Nonce     string
	SigningIn bool

	// Watching is the user id whose profile document is being watched.
	Watching string
}

// NotificationKind tells sign-in notifications apart.
type NotificationKind int

const (
	SignInSucceeded NotificationKind = iota + 1
	SignInFailed
)

func (k NotificationKind) String() string {
	switch k {
	case SignInSucceeded:
		return "sign_in_succeeded"
	case SignInFailed:
		return "sign_in_failed"
	default:
		return "unknown"
	}
}

// Notification is an outbound message to collaborators such as onboarding.
type Notification struct {
	Kind NotificationKind
	User model.User
	Err  error
}

// SignInResult answers a CompleteSignIn call.
type SignInResult struct {
	User model.User
	Err  error
}
