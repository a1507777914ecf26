package onboarding

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shotsapp/shots/internal/reconcile"
	"github.com/shotsapp/shots/internal/settings"
)

func newTestOnboarding(t *testing.T) (*Onboarding, *settings.Settings) {
	t.Helper()
	s := settings.New(settings.NewMemory())
	return New(s, slog.New(slog.NewTextHandler(io.Discard, nil))), s
}

func nextEvent(t *testing.T, o *Onboarding) Event {
	t.Helper()
	select {
	case ev := <-o.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("no onboarding event")
		return Event{}
	}
}

func TestContinue_BeforeCompletionNavigates(t *testing.T) {
	t.Parallel()

	o, _ := newTestOnboarding(t)
	if err := o.Continue(context.Background()); err != nil {
		t.Fatalf("Continue() failed: %v", err)
	}

	if got := o.State(); got != Notifications {
		t.Errorf("State() = %s, want notifications", got)
	}
	if ev := nextEvent(t, o); ev.Kind != Navigate || ev.Step != Notifications {
		t.Errorf("event = %+v, want navigate to notifications", ev)
	}
}

func TestContinue_AfterCompletionDidContinue(t *testing.T) {
	t.Parallel()

	o, s := newTestOnboarding(t)
	ctx := context.Background()
	if err := s.SetHasCompletedOnboarding(ctx, true); err != nil {
		t.Fatal(err)
	}

	if err := o.Continue(ctx); err != nil {
		t.Fatalf("Continue() failed: %v", err)
	}
	if got := o.State(); got != Done {
		t.Errorf("State() = %s, want done", got)
	}
	if ev := nextEvent(t, o); ev.Kind != DidContinue {
		t.Errorf("event kind = %s, want did_continue", ev.Kind)
	}
}

func TestLater_PersistsFlag(t *testing.T) {
	t.Parallel()

	o, s := newTestOnboarding(t)
	ctx := context.Background()

	if err := o.Later(ctx); err != nil {
		t.Fatalf("Later() failed: %v", err)
	}
	done, err := s.HasCompletedOnboarding(ctx)
	if err != nil || !done {
		t.Fatalf("HasCompletedOnboarding() = %v, %v; want true", done, err)
	}
	if ev := nextEvent(t, o); ev.Kind != DidComplete {
		t.Errorf("event kind = %s, want did_complete", ev.Kind)
	}

	// A later Continue finishes straight away.
	if err := o.Continue(ctx); err != nil {
		t.Fatal(err)
	}
	if ev := nextEvent(t, o); ev.Kind != DidContinue {
		t.Errorf("event kind = %s, want did_continue", ev.Kind)
	}
}

type failingFlags struct{}

func (failingFlags) HasCompletedOnboarding(context.Context) (bool, error) {
	return false, errors.New("disk gone")
}

func (failingFlags) SetHasCompletedOnboarding(context.Context, bool) error {
	return errors.New("disk gone")
}

func TestFlagErrorsLeaveStepUnchanged(t *testing.T) {
	t.Parallel()

	o := New(failingFlags{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := o.Continue(context.Background()); err == nil {
		t.Error("Continue() should fail")
	}
	if err := o.Later(context.Background()); err == nil {
		t.Error("Later() should fail")
	}
	if got := o.State(); got != Welcome {
		t.Errorf("State() = %s, want welcome", got)
	}
}

type fakeSource struct {
	ch           chan reconcile.Notification
	unsubscribed chan struct{}
}

func (f *fakeSource) Subscribe() (<-chan reconcile.Notification, func()) {
	return f.ch, func() { close(f.unsubscribed) }
}

func TestRun_SignInSucceededContinues(t *testing.T) {
	t.Parallel()

	o, _ := newTestOnboarding(t)
	src := &fakeSource{ch: make(chan reconcile.Notification, 2), unsubscribed: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- o.Run(ctx, src) }()

	src.ch <- reconcile.Notification{Kind: reconcile.SignInFailed, Err: errors.New("nope")}
	src.ch <- reconcile.Notification{Kind: reconcile.SignInSucceeded}

	if ev := nextEvent(t, o); ev.Kind != Navigate {
		t.Errorf("event kind = %s, want navigate", ev.Kind)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() = %v", err)
	}
	select {
	case <-src.unsubscribed:
	case <-time.After(time.Second):
		t.Error("Run() did not unsubscribe")
	}
}
