package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shotsapp/shots/internal/docstore"
	"github.com/shotsapp/shots/internal/identity"
	"github.com/shotsapp/shots/internal/metrics"
	"github.com/shotsapp/shots/internal/model"
	"github.com/shotsapp/shots/internal/profile"
	"github.com/shotsapp/shots/internal/retry"
)

// Flow errors.
var (
	ErrAlreadyRunning = errors.New("reconcile flow is already running")
	ErrNotRunning     = errors.New("reconcile flow is not running")
	ErrStreamClosed   = errors.New("session stream closed")
)

const (
	eventBuffer        = 32
	notificationBuffer = 8
)

// Profiles is the profile repository as seen by the flow.
type Profiles interface {
	Reconcile(ctx context.Context, session model.Session) (profile.Result, error)
	Ensure(ctx context.Context, id, email, name string) (model.User, bool, error)
	Watch(ctx context.Context, id string) (*docstore.Stream[model.User], error)
	Delete(ctx context.Context, id string) error
}

// Deps are the collaborators of a Flow.
type Deps struct {
	Provider identity.Provider
	Profiles Profiles
	Cache    *profile.Cache
	Logger   *slog.Logger
	Recorder metrics.Recorder
	// Listener is shared by every flow over Provider so only one session
	// stream is active at a time. Defaults to a new listener on Provider.
	Listener *identity.Listener

	// AnonymousRetry is used for anonymous sign-in. Defaults to unbounded
	// attempts one second apart.
	AnonymousRetry *retry.Retrier
	// ProviderRetry is used for every other provider call.
	ProviderRetry *retry.Retrier
	// ProviderID names the third-party provider for credentials.
	ProviderID string
}

// Flow runs the reconciliation state machine.
type Flow struct {
	provider   identity.Provider
	listener   *identity.Listener
	profiles   Profiles
	cache      *profile.Cache
	logger     *slog.Logger
	recorder   metrics.Recorder
	anonRetry  *retry.Retrier
	provRetry  *retry.Retrier
	providerID string

	events  chan Event
	running atomic.Bool
	wg      sync.WaitGroup

	stateMu sync.RWMutex
	state   State

	subsMu sync.Mutex
	subs   map[uint64]chan Notification
	nextID uint64

	// Owned by the Run goroutine.
	watchCancel context.CancelFunc
}

// New creates a Flow. Provider, Profiles and Cache are required.
func New(deps Deps) (*Flow, error) {
	if deps.Provider == nil || deps.Profiles == nil || deps.Cache == nil {
		return nil, fmt.Errorf("reconcile: provider, profiles and cache are required")
	}

	f := &Flow{
		provider:   deps.Provider,
		listener:   deps.Listener,
		profiles:   deps.Profiles,
		cache:      deps.Cache,
		logger:     deps.Logger,
		recorder:   deps.Recorder,
		anonRetry:  deps.AnonymousRetry,
		provRetry:  deps.ProviderRetry,
		providerID: deps.ProviderID,
		events:     make(chan Event, eventBuffer),
		subs:       make(map[uint64]chan Notification),
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	f.logger = f.logger.With("component", "reconcile.flow")
	if f.recorder == nil {
		f.recorder = metrics.NewNoop()
	}
	if f.listener == nil {
		f.listener = identity.NewListener(f.provider)
	}
	if f.anonRetry == nil {
		f.anonRetry = retry.New(retry.Forever, time.Second)
	}
	if f.provRetry == nil {
		f.provRetry = retry.Default()
	}
	if f.providerID == "" {
		f.providerID = identity.DefaultProviderID
	}
	return f, nil
}

// Run listens for session changes and applies events until ctx ends.
// Background effects are waited for before Run returns.
func (f *Flow) Run(ctx context.Context) error {
	if !f.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer f.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		f.stopWatch()
		f.wg.Wait()
	}()

	stream := f.listener.Listen(ctx)
	defer stream.Close()

	f.logger.Info("reconcile flow started")
	for {
		select {
		case <-ctx.Done():
			f.logger.Info("reconcile flow stopped")
			return nil
		case session, ok := <-stream.Sessions():
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrStreamClosed
			}
			f.handle(ctx, SessionChanged{Session: session})
		case ev := <-f.events:
			f.handle(ctx, ev)
		}
	}
}

func (f *Flow) handle(ctx context.Context, ev Event) {
	f.logEvent(ev)

	f.stateMu.Lock()
	next, effects := Transition(f.state, ev)
	f.state = next
	f.stateMu.Unlock()

	for _, eff := range effects {
		f.execute(ctx, eff)
	}
}

func (f *Flow) logEvent(ev Event) {
	switch ev := ev.(type) {
	case SessionChanged:
		f.logger.Info("session changed",
			"present", ev.Session.Present(),
			"user_id", ev.Session.UserID,
			"anonymous", ev.Session.Anonymous,
		)
	case AnonymousSignInFinished:
		if ev.Err != nil {
			f.logger.Warn("anonymous sign-in stopped", "error", ev.Err)
		}
	case ProfileReconciled:
		if ev.Err != nil {
			f.logger.Error("profile reconciliation failed", "user_id", ev.Session.UserID, "error", ev.Err)
		} else {
			f.logger.Debug("profile reconciled", "user_id", ev.Session.UserID, "outcome", ev.Result.Outcome.String())
		}
	case SignInFinished:
		if ev.Err != nil {
			f.logger.Warn("sign-in failed", "error", ev.Err)
		} else {
			f.logger.Info("sign-in succeeded", "user_id", ev.User.ID)
		}
	}
}

func (f *Flow) execute(ctx context.Context, eff Effect) {
	switch eff := eff.(type) {
	case StartAnonymousSignIn:
		f.goEffect(ctx, func(ctx context.Context) Event {
			uid, err := f.signInAnonymously(ctx)
			return AnonymousSignInFinished{UserID: uid, Err: err}
		})
	case ReconcileProfile:
		f.goEffect(ctx, func(ctx context.Context) Event {
			res, err := f.profiles.Reconcile(ctx, eff.Session)
			return ProfileReconciled{Session: eff.Session, Result: res, Err: err}
		})
	case SignIn:
		f.goEffect(ctx, func(ctx context.Context) Event {
			u, err := f.signIn(ctx, eff)
			return SignInFinished{User: u, Err: err, Reply: eff.Reply}
		})
	case SetCache:
		f.cache.Set(eff.User)
	case ClearCache:
		f.cache.Clear()
	case Notify:
		f.broadcast(eff.Notification)
	case WatchProfile:
		f.startWatch(ctx, eff.UserID)
	case StopWatch:
		f.stopWatch()
	case Reply:
		if eff.To != nil {
			select {
			case eff.To <- eff.Result:
			default:
			}
		}
	}
}

// goEffect runs fn in the background and feeds its event back to the loop.
func (f *Flow) goEffect(ctx context.Context, fn func(ctx context.Context) Event) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ev := fn(ctx)
		select {
		case f.events <- ev:
		case <-ctx.Done():
		}
	}()
}

func (f *Flow) signInAnonymously(ctx context.Context) (string, error) {
	p, err := retry.Do(ctx, f.anonRetry, func(ctx context.Context) (*identity.Principal, error) {
		p, err := f.provider.SignInAnonymously(ctx)
		if err != nil {
			f.recorder.IncSignIn(metrics.MethodAnonymous, metrics.OutcomeFailure)
			f.logger.Warn("anonymous sign-in attempt failed", "error", err)
			return nil, err
		}
		return p, nil
	})
	if err != nil {
		return "", err
	}
	f.recorder.IncSignIn(metrics.MethodAnonymous, metrics.OutcomeSuccess)
	return p.UID, nil
}

// signIn builds the credential, exchanges it and ensures the profile.
func (f *Flow) signIn(ctx context.Context, eff SignIn) (model.User, error) {
	cred, err := identity.NewCredential(f.providerID, eff.Nonce, eff.Completion.IDToken)
	if err != nil {
		return model.User{}, err
	}
	// The provider only returns the email on the first authorization, so
	// the completion value wins over the token claim.
	if eff.Completion.Email != "" {
		cred.Email = eff.Completion.Email
	}

	method := metrics.MethodCredential
	exchange := f.provider.SignInWithCredential
	if eff.Link {
		method = metrics.MethodLink
		exchange = f.provider.LinkWithCredential
	}

	principal, err := f.exchange(ctx, exchange, cred)
	if eff.Link && errors.Is(err, identity.ErrCredentialInUse) {
		// The credential already owns an account: sign into it instead.
		f.logger.Info("credential already linked, signing in to the existing account")
		method = metrics.MethodCredential
		principal, err = f.exchange(ctx, f.provider.SignInWithCredential, cred)
	}
	if err != nil {
		f.recorder.IncSignIn(method, metrics.OutcomeFailure)
		return model.User{}, err
	}
	f.recorder.IncSignIn(method, metrics.OutcomeSuccess)

	email := cred.Email
	if email == "" {
		email = principal.Email
	}
	u, _, err := f.profiles.Ensure(ctx, principal.UID, email, eff.Completion.GivenName)
	if err != nil {
		return model.User{}, err
	}
	return u, nil
}

func (f *Flow) exchange(ctx context.Context, fn func(context.Context, identity.Credential) (*identity.Principal, error), cred identity.Credential) (*identity.Principal, error) {
	return retry.Do(ctx, f.provRetry, func(ctx context.Context) (*identity.Principal, error) {
		p, err := fn(ctx, cred)
		if identity.KindOf(err) == identity.KindCredential {
			return nil, retry.Permanent(err)
		}
		return p, err
	})
}

// startWatch replaces the profile watch. Must run on the loop goroutine.
func (f *Flow) startWatch(ctx context.Context, userID string) {
	f.stopWatch()

	wctx, cancel := context.WithCancel(ctx)
	f.watchCancel = cancel

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()

		stream, err := f.profiles.Watch(wctx, userID)
		if err != nil {
			if wctx.Err() == nil {
				f.logger.Warn("failed to watch profile", "user_id", userID, "error", err)
			}
			return
		}
		defer stream.Close()

		for users := range stream.Snapshots() {
			ev := ProfileUpdated{UserID: userID}
			if len(users) > 0 {
				ev.User = users[0]
				ev.Present = true
			}
			select {
			case f.events <- ev:
			case <-wctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil && wctx.Err() == nil {
			f.logger.Warn("profile watch ended", "user_id", userID, "error", err)
		}
	}()
}

func (f *Flow) stopWatch() {
	if f.watchCancel != nil {
		f.watchCancel()
		f.watchCancel = nil
	}
}

func (f *Flow) post(ctx context.Context, ev Event) error {
	if !f.running.Load() {
		return ErrNotRunning
	}
	select {
	case f.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestSignIn issues a one-time nonce for a provider sign-in request and
// returns its SHA-256 hex digest. A newer request replaces an older one.
func (f *Flow) RequestSignIn(ctx context.Context) (string, error) {
	nonce, err := identity.NewNonce(identity.NonceLength)
	if err != nil {
		return "", err
	}
	if err := f.post(ctx, NonceIssued{Nonce: nonce}); err != nil {
		return "", err
	}
	return identity.HashNonce(nonce), nil
}

// CompleteSignIn finishes the sign-in started by RequestSignIn.
func (f *Flow) CompleteSignIn(ctx context.Context, c identity.Completion) (model.User, error) {
	reply := make(chan SignInResult, 1)
	if err := f.post(ctx, SignInCompleted{Completion: c, Reply: reply}); err != nil {
		return model.User{}, err
	}
	select {
	case res := <-reply:
		return res.User, res.Err
	case <-ctx.Done():
		return model.User{}, ctx.Err()
	}
}

// SignOut signs out of the provider. The resulting session change clears
// the cache and starts a new anonymous session.
func (f *Flow) SignOut(ctx context.Context) error {
	return retry.Run(ctx, f.provRetry, f.provider.SignOut)
}

// DeleteAccount deletes the profile document and then the provider
// account.
func (f *Flow) DeleteAccount(ctx context.Context) error {
	session := f.State().Session
	if !session.Present() {
		return identity.ErrNoCurrentUser
	}

	if err := f.profiles.Delete(ctx, session.UserID); err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}

	err := retry.Run(ctx, f.provRetry, func(ctx context.Context) error {
		err := f.provider.DeleteAccount(ctx)
		if err != nil && identity.KindOf(err) != identity.KindTransient {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	f.logger.Info("account deleted", "user_id", session.UserID)
	return nil
}

// State returns a snapshot of the current state.
func (f *Flow) State() State {
	f.stateMu.RLock()
	defer f.stateMu.RUnlock()
	return f.state
}

// Subscribe registers for notifications. A subscriber that falls behind
// loses messages. Call the returned function to unsubscribe.
func (f *Flow) Subscribe() (<-chan Notification, func()) {
	ch := make(chan Notification, notificationBuffer)

	f.subsMu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = ch
	f.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.subsMu.Lock()
			delete(f.subs, id)
			f.subsMu.Unlock()
			close(ch)
		})
	}
}

func (f *Flow) broadcast(n Notification) {
	f.subsMu.Lock()
	defer f.subsMu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- n:
		default:
			f.recorder.IncNotificationDropped()
			f.logger.Warn("notification dropped, subscriber is full", "kind", n.Kind.String())
		}
	}
}
