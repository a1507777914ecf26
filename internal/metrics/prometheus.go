package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder exports Recorder events as Prometheus series.
type PrometheusRecorder struct {
	retryAttempts        *prometheus.CounterVec
	signIns              *prometheus.CounterVec
	reconciles           *prometheus.CounterVec
	notificationsDropped prometheus.Counter
	storeOps             *prometheus.HistogramVec
	storeErrors          *prometheus.CounterVec
	activeSubscriptions  prometheus.Gauge
}

// NewPrometheus creates a recorder and registers its collectors on reg.
func NewPrometheus(reg prometheus.Registerer) *PrometheusRecorder {
	p := &PrometheusRecorder{
		retryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shots_retry_attempts_total",
			Help: "Failed attempts that were retried, by operation.",
		}, []string{"op"}),
		signIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shots_sign_ins_total",
			Help: "Identity provider sign-ins by method and outcome.",
		}, []string{"method", "outcome"}),
		reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shots_profile_reconciles_total",
			Help: "Profile reconciliations by outcome.",
		}, []string{"outcome"}),
		notificationsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shots_notifications_dropped_total",
			Help: "Sign-in notifications dropped because a subscriber was full.",
		}),
		storeOps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shots_docstore_op_duration_seconds",
			Help:    "Document store call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shots_docstore_errors_total",
			Help: "Document store calls that returned an error.",
		}, []string{"op"}),
		activeSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shots_docstore_active_subscriptions",
			Help: "Live document subscriptions.",
		}),
	}

	reg.MustRegister(
		p.retryAttempts,
		p.signIns,
		p.reconciles,
		p.notificationsDropped,
		p.storeOps,
		p.storeErrors,
		p.activeSubscriptions,
	)

	return p
}

// IncRetryAttempt records a retried failure.
func (p *PrometheusRecorder) IncRetryAttempt(op string) {
	p.retryAttempts.WithLabelValues(op).Inc()
}

// IncSignIn records a sign-in outcome.
func (p *PrometheusRecorder) IncSignIn(method, outcome string) {
	p.signIns.WithLabelValues(method, outcome).Inc()
}

// IncReconcile records a reconcile outcome.
func (p *PrometheusRecorder) IncReconcile(outcome string) {
	p.reconciles.WithLabelValues(outcome).Inc()
}

// IncNotificationDropped records a dropped notification.
func (p *PrometheusRecorder) IncNotificationDropped() {
	p.notificationsDropped.Inc()
}

// ObserveStoreOp records a document store call.
func (p *PrometheusRecorder) ObserveStoreOp(op string, duration time.Duration, err error) {
	p.storeOps.WithLabelValues(op).Observe(duration.Seconds())
	if err != nil {
		p.storeErrors.WithLabelValues(op).Inc()
	}
}

// AddActiveSubscriptions adjusts the live subscription gauge.
func (p *PrometheusRecorder) AddActiveSubscriptions(delta int) {
	p.activeSubscriptions.Add(float64(delta))
}

// Handler returns the Prometheus scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
