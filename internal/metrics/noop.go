package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncRetryAttempt is a no-op.
func (n *NoopRecorder) IncRetryAttempt(op string) {}

// IncSignIn is a no-op.
func (n *NoopRecorder) IncSignIn(method, outcome string) {}

// IncReconcile is a no-op.
func (n *NoopRecorder) IncReconcile(outcome string) {}

// IncNotificationDropped is a no-op.
func (n *NoopRecorder) IncNotificationDropped() {}

// ObserveStoreOp is a no-op.
func (n *NoopRecorder) ObserveStoreOp(op string, duration time.Duration, err error) {}

// AddActiveSubscriptions is a no-op.
func (n *NoopRecorder) AddActiveSubscriptions(delta int) {}
