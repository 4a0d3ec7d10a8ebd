package shinka

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "shinka"

// Metrics holds the collectors updated by an Upgrader. A nil *Metrics records nothing.
type Metrics struct {
	runs        *prometheus.CounterVec
	transitions *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "runs_total",
				Help:      "Upgrade runs by outcome.",
			},
			[]string{"plan", "result"},
		),
		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "transitions_total",
				Help:      "Transitions executed successfully.",
			},
			[]string{"plan", "step"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of upgrade runs in seconds.",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300, 900},
			},
			[]string{"plan"},
		),
	}
}

func (m *Metrics) observeRun(planName string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.runs.WithLabelValues(planName, resultLabel(err)).Inc()
	m.duration.WithLabelValues(planName).Observe(elapsed.Seconds())
}

func (m *Metrics) observeTransition(planName, step string) {
	if m == nil {
		return
	}

	m.transitions.WithLabelValues(planName, step).Inc()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrUnreachableState):
		return "unreachable"
	case errors.Is(err, ErrMigrationExecution):
		return "migration_failed"
	case errors.Is(err, ErrConcurrentStateMutation):
		return "conflict"
	case errors.Is(err, ErrLockUnavailable):
		return "lock_unavailable"
	case errors.Is(err, ErrPostMigration):
		return "post_migration_failed"
	case errors.Is(err, ErrEmptyState):
		return "empty_state"
	default:
		return "error"
	}
}
