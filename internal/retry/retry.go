// Package retry runs an operation with a fixed attempt budget and a fixed
// delay between attempts.
package retry

import (
	"context"
	"errors"
	"math"
	"time"
)

// Forever is an attempt budget that never runs out.
const Forever = math.MaxInt

// Default bounded policy for provider and document calls.
const (
	DefaultAttempts = 3
	DefaultDelay    = 1 * time.Second
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Observer is notified after each failed guarded attempt.
// attempt is 1-indexed.
type Observer func(attempt int, err error)

// Retrier holds a retry policy. It is safe for concurrent use.
type Retrier struct {
	attempts int
	delay    time.Duration
	sleep    Sleeper
	observe  Observer
}

// Option configures a Retrier.
type Option func(*Retrier)

// WithSleeper replaces the timer used between attempts.
func WithSleeper(s Sleeper) Option {
	return func(r *Retrier) {
		r.sleep = s
	}
}

// WithObserver sets a hook that sees every failed guarded attempt.
func WithObserver(o Observer) Option {
	return func(r *Retrier) {
		r.observe = o
	}
}

// New creates a Retrier. attempts below 1 are treated as 1.
func New(attempts int, delay time.Duration, opts ...Option) *Retrier {
	if attempts < 1 {
		attempts = 1
	}
	if delay < 0 {
		delay = 0
	}
	r := &Retrier{
		attempts: attempts,
		delay:    delay,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Default returns the bounded policy used for ordinary network calls.
func Default(opts ...Option) *Retrier {
	return New(DefaultAttempts, DefaultDelay, opts...)
}

// Attempts returns the attempt budget.
func (r *Retrier) Attempts() int {
	return r.attempts
}

// Delay returns the wait between attempts.
func (r *Retrier) Delay() time.Duration {
	return r.delay
}

// Do runs op until it succeeds or the budget is spent.
//
// The first attempts-1 failures are swallowed and followed by a wait of the
// configured delay. The last attempt runs unguarded and its error is returned
// as-is. If ctx ends while waiting, Do returns the context error joined with
// the last operation error.
func Do[T any](ctx context.Context, r *Retrier, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 1; r.attempts == Forever || attempt < r.attempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if perr, ok := asPermanent(err); ok {
			return zero, perr
		}
		if r.observe != nil {
			r.observe(attempt, err)
		}
		if serr := r.sleep(ctx, r.delay); serr != nil {
			return zero, errors.Join(serr, err)
		}
	}
	v, err := op(ctx)
	if perr, ok := asPermanent(err); ok {
		return zero, perr
	}
	return v, err
}

// Run is Do for operations without a result.
func Run(ctx context.Context, r *Retrier, op func(ctx context.Context) error) error {
	_, err := Do(ctx, r, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error
// immediately, without waiting.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func asPermanent(err error) (error, bool) {
	var p *permanentError
	if errors.As(err, &p) {
		return p.err, true
	}
	return nil, false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
