package orchestrator

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report submission handling.
type Metrics struct {
	submissionDuration  *prometheus.HistogramVec
	evaluations         *prometheus.CounterVec
	payments            *prometheus.CounterVec
	submissionsInFlight prometheus.Gauge
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// defaultMetrics returns the package-level metrics instance registered with
// the global Prometheus registry. The collectors are created only once to
// avoid duplicate registration panics when the orchestrator is instantiated
// multiple times (e.g. in unit tests).
func defaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// The caller supplies a fresh registry when isolated metric state is needed
// (for example in tests). Registration errors other than duplicate
// registration panic, mirroring the promauto helpers.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	submissionDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "meritpay",
			Subsystem: "orchestrator",
			Name:      "submission_duration_seconds",
			Help:      "Time spent handling a submission end to end.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"task_type", "outcome"},
	)
	evaluations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meritpay",
			Subsystem: "orchestrator",
			Name:      "evaluations_total",
			Help:      "Completed oracle evaluations by decision.",
		},
		[]string{"task_type", "decision"},
	)
	payments := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meritpay",
			Subsystem: "orchestrator",
			Name:      "payments_total",
			Help:      "Payment attempts by final status.",
		},
		[]string{"status"},
	)
	submissionsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "meritpay",
			Subsystem: "orchestrator",
			Name:      "submissions_in_flight",
			Help:      "Submissions currently being handled.",
		},
	)

	collectors := []prometheus.Collector{submissionDuration, evaluations, payments, submissionsInFlight}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch target := collector.(type) {
				case *prometheus.HistogramVec:
					submissionDuration = already.ExistingCollector.(*prometheus.HistogramVec)
				case *prometheus.CounterVec:
					switch target { //nolint:exhaustive
					case evaluations:
						evaluations = already.ExistingCollector.(*prometheus.CounterVec)
					case payments:
						payments = already.ExistingCollector.(*prometheus.CounterVec)
					}
				case prometheus.Gauge:
					submissionsInFlight = already.ExistingCollector.(prometheus.Gauge)
				}
				continue
			}
			panic(err)
		}
	}

	return &Metrics{
		submissionDuration:  submissionDuration,
		evaluations:         evaluations,
		payments:            payments,
		submissionsInFlight: submissionsInFlight,
	}
}

// ObserveSubmission records how long a submission took and how it ended.
func (m *Metrics) ObserveSubmission(taskType string, outcome string, duration time.Duration) {
	if m == nil || m.submissionDuration == nil {
		return
	}
	m.submissionDuration.WithLabelValues(taskType, outcome).Observe(duration.Seconds())
}

// IncEvaluation counts one completed evaluation.
func (m *Metrics) IncEvaluation(taskType string, decision string) {
	if m == nil || m.evaluations == nil {
		return
	}
	m.evaluations.WithLabelValues(taskType, decision).Inc()
}

// IncPayment counts one payment attempt by its final status.
func (m *Metrics) IncPayment(status string) {
	if m == nil || m.payments == nil {
		return
	}
	m.payments.WithLabelValues(status).Inc()
}

// IncInFlight marks a submission as active.
func (m *Metrics) IncInFlight() {
	if m == nil || m.submissionsInFlight == nil {
		return
	}
	m.submissionsInFlight.Inc()
}

// DecInFlight marks a submission as finished.
func (m *Metrics) DecInFlight() {
	if m == nil || m.submissionsInFlight == nil {
		return
	}
	m.submissionsInFlight.Dec()
}
