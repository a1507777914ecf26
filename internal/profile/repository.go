package profile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shotsapp/shots/internal/docstore"
	"github.com/shotsapp/shots/internal/metrics"
	"github.com/shotsapp/shots/internal/model"
	"github.com/shotsapp/shots/internal/retry"
)

// Outcome describes how Reconcile resolved a session.
type Outcome int

const (
	// Absent means no profile exists and none was created.
	Absent Outcome = iota
	// Found means a stored profile was returned unchanged.
	Found
	// Created means a new profile document was written.
	Created
)

func (o Outcome) String() string {
	switch o {
	case Found:
		return metrics.ReconcileFound
	case Created:
		return metrics.ReconcileCreated
	default:
		return metrics.ReconcileAbsent
	}
}

// Result is the outcome of reconciling a session with the store.
type Result struct {
	User    model.User
	Outcome Outcome
}

// Repository reads and writes user profile documents.
//
// CreatedAt is assigned in exactly one place: the create path of Ensure.
// Every other write carries the stored value through.
type Repository struct {
	users    *docstore.Typed[model.User]
	retrier  *retry.Retrier
	now      func() time.Time
	logger   *slog.Logger
	recorder metrics.Recorder
}

// Option configures a Repository.
type Option func(*Repository)

// WithClock overrides the time source used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		r.now = now
	}
}

// WithRetrier overrides the retry policy for store calls.
func WithRetrier(rt *retry.Retrier) Option {
	return func(r *Repository) {
		r.retrier = rt
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(rec metrics.Recorder) Option {
	return func(r *Repository) {
		r.recorder = rec
	}
}

// NewRepository creates a Repository over store.
func NewRepository(store docstore.Store, logger *slog.Logger, opts ...Option) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Repository{
		users:    docstore.NewTyped[model.User](store, model.UserCodec{}),
		retrier:  retry.Default(),
		now:      time.Now,
		logger:   logger.With("component", "profile.repository"),
		recorder: metrics.NewNoop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Fetch returns the stored profile for id. A missing document is Absent,
// not an error.
func (r *Repository) Fetch(ctx context.Context, id string) (docstore.DocumentState[model.User], error) {
	return retry.Do(ctx, r.retrier, func(ctx context.Context) (docstore.DocumentState[model.User], error) {
		u, err := r.users.Get(ctx, docstore.Users, id)
		if docstore.IsNotFound(err) {
			return docstore.Absent[model.User](), nil
		}
		if err != nil {
			return docstore.Absent[model.User](), err
		}
		return docstore.Exists(u), nil
	})
}

// Save overwrites the stored profile with u. u must carry the CreatedAt
// value that was read from the store.
func (r *Repository) Save(ctx context.Context, u model.User) error {
	if u.ID == "" {
		return model.ErrMissingID
	}
	return retry.Run(ctx, r.retrier, func(ctx context.Context) error {
		_, err := r.users.Put(ctx, docstore.Users, u.ID, u)
		return err
	})
}

// Ensure returns the profile for id, creating it if nothing is stored yet.
// The second return value reports whether this call created the document.
//
// Creation is a conditional write, so two concurrent callers for the same
// id never clobber each other; the loser re-reads the winner's record.
func (r *Repository) Ensure(ctx context.Context, id, email, name string) (model.User, bool, error) {
	if id == "" {
		return model.User{}, false, model.ErrMissingID
	}

	state, err := retry.Do(ctx, r.retrier, func(ctx context.Context) (docstore.DocumentState[model.User], error) {
		return r.users.Check(ctx, docstore.Where(docstore.Users, model.FieldID, id))
	})
	if err != nil {
		return model.User{}, false, fmt.Errorf("failed to check profile: %w", err)
	}
	if u, ok := state.Value(); ok {
		return u, false, nil
	}

	u := model.NewUser(id, r.now(), email, name)
	created, err := retry.Do(ctx, r.retrier, func(ctx context.Context) (bool, error) {
		return r.users.Create(ctx, docstore.Users, id, u)
	})
	if err != nil {
		return model.User{}, false, fmt.Errorf("failed to create profile: %w", err)
	}
	if created {
		r.logger.Info("profile created", "user_id", id)
		return u, true, nil
	}

	r.logger.Debug("profile created concurrently, re-reading", "user_id", id)
	stored, err := retry.Do(ctx, r.retrier, func(ctx context.Context) (model.User, error) {
		return r.users.Get(ctx, docstore.Users, id)
	})
	if err != nil {
		return model.User{}, false, fmt.Errorf("failed to read profile: %w", err)
	}
	return stored, false, nil
}

// Reconcile aligns the store with session.
//
// A stored profile is written back unchanged to keep the remote copy fresh.
// A missing profile is created for durable principals and left absent for
// anonymous ones.
func (r *Repository) Reconcile(ctx context.Context, session model.Session) (Result, error) {
	if !session.Present() {
		return Result{}, model.ErrMissingID
	}

	res, err := r.reconcile(ctx, session)
	if err != nil {
		r.recorder.IncReconcile(metrics.ReconcileFailed)
		return Result{}, err
	}
	r.recorder.IncReconcile(res.Outcome.String())
	return res, nil
}

func (r *Repository) reconcile(ctx context.Context, session model.Session) (Result, error) {
	state, err := r.Fetch(ctx, session.UserID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to fetch profile: %w", err)
	}

	if u, ok := state.Value(); ok {
		if err := r.Save(ctx, u); err != nil {
			return Result{}, fmt.Errorf("failed to refresh profile: %w", err)
		}
		return Result{User: u, Outcome: Found}, nil
	}

	if session.Anonymous {
		return Result{Outcome: Absent}, nil
	}

	u, created, err := r.Ensure(ctx, session.UserID, session.Email, "")
	if err != nil {
		return Result{}, err
	}
	if created {
		return Result{User: u, Outcome: Created}, nil
	}
	return Result{User: u, Outcome: Found}, nil
}

// Watch streams the profile for id. Each snapshot holds zero or one user.
func (r *Repository) Watch(ctx context.Context, id string) (*docstore.Stream[model.User], error) {
	return r.users.Watch(ctx, docstore.Where(docstore.Users, model.FieldID, id))
}

// Delete removes the profile for id. Deleting a missing profile succeeds.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if id == "" {
		return model.ErrMissingID
	}
	return retry.Run(ctx, r.retrier, func(ctx context.Context) error {
		return r.users.Store().DeleteOne(ctx, docstore.Users, id)
	})
}
