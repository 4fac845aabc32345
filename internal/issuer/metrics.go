package issuer

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zhukov-alex/flakeid/pkg/flake"
)

type metrics struct {
	idsIssued    prometheus.Counter
	issueErrors  *prometheus.CounterVec
	issueLatency prometheus.Histogram
	batchSize    prometheus.Histogram
}

func initMetrics(register bool) *metrics {
	m := &metrics{
		idsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flakeid",
			Subsystem: "issuer",
			Name:      "ids_total",
			Help:      "Total number of ids issued",
		}),
		issueErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flakeid",
			Subsystem: "issuer",
			Name:      "errors_total",
			Help:      "Total number of failed id requests by reason",
		}, []string{"reason"}),
		issueLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flakeid",
			Subsystem: "issuer",
			Name:      "latency_seconds",
			Help:      "Time spent by the generator on one request, including waits for the next tick",
			Buckets:   []float64{0.00001, 0.0001, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5},
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flakeid",
			Subsystem: "issuer",
			Name:      "batch_size",
			Help:      "Number of ids requested per call",
			Buckets:   []float64{1, 2, 8, 32, 128, 256, 1024, 4096},
		}),
	}

	if register {
		prometheus.MustRegister(
			m.idsIssued,
			m.issueErrors,
			m.issueLatency,
			m.batchSize,
		)
	}
	return m
}

func (m *metrics) issueTimer() (stop func()) {
	timer := prometheus.NewTimer(m.issueLatency)
	stop = func() {
		timer.ObserveDuration()
	}
	return
}

func (m *metrics) incError(err error) {
	m.issueErrors.WithLabelValues(errorReason(err)).Inc()
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, flake.ErrOverTimeLimit):
		return "over_time_limit"
	case errors.Is(err, flake.ErrPoisoned):
		return "poisoned"
	case errors.Is(err, flake.ErrClockUnavailable):
		return "clock_unavailable"
	default:
		return "other"
	}
}
