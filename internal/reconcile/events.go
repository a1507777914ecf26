package reconcile

import (
	"github.com/shotsapp/shots/internal/identity"
	"github.com/shotsapp/shots/internal/model"
	"github.com/shotsapp/shots/internal/profile"
)

// Event is an input to Transition.
type Event interface {
	event()
}

// SessionChanged carries a Session Listener emission.
type SessionChanged struct {
	Session model.Session
}

// AnonymousSignInFinished reports the end of an anonymous sign-in loop.
// UserID is the principal it produced.
type AnonymousSignInFinished struct {
	UserID string
	Err    error
}

// ProfileReconciled reports the result of a ReconcileProfile effect.
type ProfileReconciled struct {
	Session model.Session
	Result  profile.Result
	Err     error
}

// NonceIssued records the raw nonce of a new sign-in request.
type NonceIssued struct {
	Nonce string
}

// SignInCompleted is the provider's sign-in callback.
type SignInCompleted struct {
	Completion identity.Completion
	Reply      chan<- SignInResult
}

// SignInFinished reports the result of a SignIn effect.
type SignInFinished struct {
	User  model.User
	Err   error
	Reply chan<- SignInResult
}

// ProfileUpdated is a snapshot from the live profile watch.
type ProfileUpdated struct {
	UserID  string
	User    model.User
	Present bool
}

func (SessionChanged) event()          {}
func (AnonymousSignInFinished) event() {}
func (ProfileReconciled) event()       {}
func (NonceIssued) event()             {}
func (SignInCompleted) event()         {}
func (SignInFinished) event()          {}
func (ProfileUpdated) event()          {}

// Effect is an action requested by Transition.
type Effect interface {
	effect()
}

// StartAnonymousSignIn signs in anonymously with unbounded retries.
type StartAnonymousSignIn struct{}

// ReconcileProfile fetches or creates the profile for Session.
type ReconcileProfile struct {
	Session model.Session
}

// SignIn exchanges a completion for a session and ensures its profile.
// Link attaches the credential to the current anonymous account.
type SignIn struct {
	Nonce      string
	Completion identity.Completion
	Link       bool
	Reply      chan<- SignInResult
}

// SetCache writes User to the profile cache.
type SetCache struct {
	User model.User
}

// ClearCache empties the profile cache.
type ClearCache struct{}

// Notify broadcasts a notification.
type Notify struct {
	Notification Notification
}

// WatchProfile starts a live watch on a profile document, replacing any
// previous watch.
type WatchProfile struct {
	UserID string
}

// StopWatch ends the live profile watch.
type StopWatch struct{}

// Reply answers a pending CompleteSignIn call.
type Reply struct {
	To     chan<- SignInResult
	Result SignInResult
}

func (StartAnonymousSignIn) effect() {}
func (ReconcileProfile) effect()     {}
func (SignIn) effect()               {}
func (SetCache) effect()             {}
func (ClearCache) effect()           {}
func (Notify) effect()               {}
func (WatchProfile) effect()         {}
func (StopWatch) effect()            {}
func (Reply) effect()                {}
