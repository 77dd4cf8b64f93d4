// Package metrics exports Prometheus metrics for a run: admissions and
// retirements as observed by the admission.Store, and the actions of every
// worker.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/notorious-go/giftchain/admission"
	"github.com/notorious-go/giftchain/worker"
)

const namespace = "giftchain"

// Metrics implements both admission.Observer and worker.Observer. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	admitted    prometheus.Counter
	retired     prometheus.Counter
	pending     prometheus.Gauge
	actions     *prometheus.CounterVec
	runDuration prometheus.Histogram
}

var (
	_ admission.Observer = (*Metrics)(nil)
	_ worker.Observer    = (*Metrics)(nil)
)

// New registers the metrics with reg. It returns nil if reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	return &Metrics{
		admitted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admitted_total",
			Help:      "Number of tags admitted to the sequence",
		}),
		retired: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retired_total",
			Help:      "Number of tags retired from the sequence",
		}),
		pending: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending",
			Help:      "Number of admitted tags waiting to be retired",
		}),
		actions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_actions_total",
			Help:      "Number of actions performed by workers, by action and outcome",
		}, []string{"action", "outcome"}),
		runDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of complete runs",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}
}

func (m *Metrics) Admitted(_ admission.Tag, pending int) {
	if m == nil {
		return
	}
	m.admitted.Inc()
	m.pending.Set(float64(pending))
}

func (m *Metrics) Retired(_ admission.Tag, pending int) {
	if m == nil {
		return
	}
	m.retired.Inc()
	m.pending.Set(float64(pending))
}

func (m *Metrics) Acted(_ int, action worker.Action, outcome worker.Outcome) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(action.String(), string(outcome)).Inc()
}

// RunFinished records the duration of a run.
func (m *Metrics) RunFinished(d time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.Observe(d.Seconds())
}
