// Package onboarding tracks the first-run progression that follows sign-in.
package onboarding

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shotsapp/shots/internal/reconcile"
)

// Step is a position in the onboarding sequence.
type Step int

const (
	Welcome Step = iota
	Notifications
	Done
)

func (s Step) String() string {
	switch s {
	case Notifications:
		return "notifications"
	case Done:
		return "done"
	default:
		return "welcome"
	}
}

// EventKind tells progression events apart.
type EventKind int

const (
	// Navigate asks the UI to show Step.
	Navigate EventKind = iota + 1
	// DidContinue means onboarding was already complete and the user moved on.
	DidContinue
	// DidComplete means the user finished onboarding for good.
	DidComplete
)

func (k EventKind) String() string {
	switch k {
	case Navigate:
		return "navigate"
	case DidContinue:
		return "did_continue"
	case DidComplete:
		return "did_complete"
	default:
		return "unknown"
	}
}

// Event is emitted on every progression.
type Event struct {
	Kind EventKind `json:"kind"`
	Step Step      `json:"step"`
}

// Flags persists the completion flag. *settings.Settings satisfies it.
type Flags interface {
	HasCompletedOnboarding(ctx context.Context) (bool, error)
	SetHasCompletedOnboarding(ctx context.Context, v bool) error
}

// Source delivers sign-in notifications. *reconcile.Flow satisfies it.
type Source interface {
	Subscribe() (<-chan reconcile.Notification, func())
}

const eventBuffer = 16

// Onboarding holds the current step and publishes events.
type Onboarding struct {
	flags  Flags
	logger *slog.Logger
	events chan Event

	mu   sync.Mutex
	step Step
}

// New starts onboarding at Welcome.
func New(flags Flags, logger *slog.Logger) *Onboarding {
	if logger == nil {
		logger = slog.Default()
	}
	return &Onboarding{
		flags:  flags,
		logger: logger.With("component", "onboarding"),
		events: make(chan Event, eventBuffer),
	}
}

// State returns the current step.
func (o *Onboarding) State() Step {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.step
}

// Events returns the progression events. Events are dropped when nobody
// keeps up.
func (o *Onboarding) Events() <-chan Event {
	return o.events
}

// Completed reports the persisted completion flag.
func (o *Onboarding) Completed(ctx context.Context) (bool, error) {
	done, err := o.flags.HasCompletedOnboarding(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read onboarding flag: %w", err)
	}
	return done, nil
}

// Continue moves past the welcome screen. A first-time user is sent to the
// notifications step; a returning one finishes immediately.
func (o *Onboarding) Continue(ctx context.Context) error {
	done, err := o.Completed(ctx)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if !done {
		o.step = Notifications
		o.emit(Event{Kind: Navigate, Step: Notifications})
		return nil
	}
	o.step = Done
	o.emit(Event{Kind: DidContinue, Step: Done})
	return nil
}

// Later skips the notifications prompt and marks onboarding complete.
func (o *Onboarding) Later(ctx context.Context) error {
	if err := o.flags.SetHasCompletedOnboarding(ctx, true); err != nil {
		return fmt.Errorf("failed to persist onboarding flag: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.step = Done
	o.emit(Event{Kind: DidComplete, Step: Done})
	return nil
}

// Run treats every successful sign-in from src as Continue until ctx ends.
func (o *Onboarding) Run(ctx context.Context, src Source) error {
	notes, unsubscribe := src.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-notes:
			if !ok {
				return nil
			}
			if n.Kind != reconcile.SignInSucceeded {
				continue
			}
			if err := o.Continue(ctx); err != nil {
				o.logger.Error("failed to continue onboarding after sign-in", "error", err)
			}
		}
	}
}

// emit must be called with o.mu held so events keep their order.
func (o *Onboarding) emit(ev Event) {
	select {
	case o.events <- ev:
	default:
		o.logger.Warn("onboarding event dropped", "kind", ev.Kind.String())
	}
}
