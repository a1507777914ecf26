package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	RetryAttempts        map[string]uint64
	SignIns              map[string]uint64 // keyed "method/outcome"
	Reconciles           map[string]uint64
	NotificationsDropped uint64
	StoreOps             uint64
	StoreErrors          uint64
	StoreDurationTotalNs int64
	ActiveSubscriptions  int64
}

// InMemoryRecorder stores metrics in memory for tests.
type InMemoryRecorder struct {
	mu            sync.Mutex
	retryAttempts map[string]uint64
	signIns       map[string]uint64
	reconciles    map[string]uint64

	notificationsDropped uint64
	storeOps             uint64
	storeErrors          uint64
	storeDurationTotalNs int64
	activeSubscriptions  int64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{
		retryAttempts: make(map[string]uint64),
		signIns:       make(map[string]uint64),
		reconciles:    make(map[string]uint64),
	}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	s := Snapshot{
		RetryAttempts: copyCounts(m.retryAttempts),
		SignIns:       copyCounts(m.signIns),
		Reconciles:    copyCounts(m.reconciles),
	}
	m.mu.Unlock()

	s.NotificationsDropped = atomic.LoadUint64(&m.notificationsDropped)
	s.StoreOps = atomic.LoadUint64(&m.storeOps)
	s.StoreErrors = atomic.LoadUint64(&m.storeErrors)
	s.StoreDurationTotalNs = atomic.LoadInt64(&m.storeDurationTotalNs)
	s.ActiveSubscriptions = atomic.LoadInt64(&m.activeSubscriptions)
	return s
}

// IncRetryAttempt increments the retry counter for op.
func (m *InMemoryRecorder) IncRetryAttempt(op string) {
	m.mu.Lock()
	m.retryAttempts[op]++
	m.mu.Unlock()
}

// IncSignIn increments the sign-in counter.
func (m *InMemoryRecorder) IncSignIn(method, outcome string) {
	m.mu.Lock()
	m.signIns[method+"/"+outcome]++
	m.mu.Unlock()
}

// IncReconcile increments the reconcile counter.
func (m *InMemoryRecorder) IncReconcile(outcome string) {
	m.mu.Lock()
	m.reconciles[outcome]++
	m.mu.Unlock()
}

// IncNotificationDropped increments the dropped notification counter.
func (m *InMemoryRecorder) IncNotificationDropped() {
	atomic.AddUint64(&m.notificationsDropped, 1)
}

// ObserveStoreOp records a document store call.
func (m *InMemoryRecorder) ObserveStoreOp(op string, duration time.Duration, err error) {
	atomic.AddUint64(&m.storeOps, 1)
	atomic.AddInt64(&m.storeDurationTotalNs, duration.Nanoseconds())
	if err != nil {
		atomic.AddUint64(&m.storeErrors, 1)
	}
}

// AddActiveSubscriptions adjusts the live subscription gauge.
func (m *InMemoryRecorder) AddActiveSubscriptions(delta int) {
	atomic.AddInt64(&m.activeSubscriptions, int64(delta))
}

func copyCounts(src map[string]uint64) map[string]uint64 {
	dst := make(map[string]uint64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
