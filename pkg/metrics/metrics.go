// Package metrics exposes Prometheus collectors for catalog imports.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "catalog_import"

// ImportMetrics records commit activity. A nil *ImportMetrics is valid and
// records nothing.
type ImportMetrics struct {
	outcomes      *prometheus.CounterVec
	retries       prometheus.Counter
	batchDuration prometheus.Histogram
	sessions      *prometheus.CounterVec
}

// NewImportMetrics creates the collectors and registers them on reg. A nil
// registerer leaves them unregistered. Collectors already registered on reg
// are reused.
func NewImportMetrics(reg prometheus.Registerer) (*ImportMetrics, error) {
	m := &ImportMetrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Committed records by final status.",
		}, []string{"status"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Store calls retried after a transient failure.",
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall time of one commit batch.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Import sessions opened by detected format.",
		}, []string{"format"}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	m.outcomes, err = register(reg, m.outcomes)
	if err != nil {
		return nil, err
	}
	m.retries, err = register(reg, m.retries)
	if err != nil {
		return nil, err
	}
	m.batchDuration, err = register(reg, m.batchDuration)
	if err != nil {
		return nil, err
	}
	m.sessions, err = register(reg, m.sessions)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Outcome counts one final record status.
func (m *ImportMetrics) Outcome(status string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(status).Inc()
}

// Retry counts one retried attempt.
func (m *ImportMetrics) Retry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

// Batch observes the duration of a batch.
func (m *ImportMetrics) Batch(d time.Duration) {
	if m == nil {
		return
	}
	m.batchDuration.Observe(d.Seconds())
}

// Session counts an opened session.
func (m *ImportMetrics) Session(format string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(format).Inc()
}
