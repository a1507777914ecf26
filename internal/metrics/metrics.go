// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Sign-in methods.
const (
	MethodAnonymous  = "anonymous"
	MethodCredential = "credential"
	MethodLink       = "link"
)

// Reconcile outcomes.
const (
	ReconcileFound   = "found"
	ReconcileCreated = "created"
	ReconcileAbsent  = "absent"
	ReconcileFailed  = "failed"
)

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// Retry metrics
	IncRetryAttempt(op string)

	// Identity metrics
	IncSignIn(method, outcome string)
	IncReconcile(outcome string)
	IncNotificationDropped()

	// Document store metrics
	ObserveStoreOp(op string, duration time.Duration, err error)
	AddActiveSubscriptions(delta int)
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
