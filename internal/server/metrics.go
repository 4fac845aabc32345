package server

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	tcpLatency prometheus.Histogram
	tcpErrors  prometheus.Counter
	grpcErrors *prometheus.CounterVec
}

func initMetrics(register bool) *metrics {
	m := &metrics{
		tcpLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flakeid",
			Subsystem: "server",
			Name:      "tcp_latency_seconds",
			Help:      "Time to read, serve and answer a TCP request",
			Buckets:   []float64{0.0001, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
		tcpErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flakeid",
			Subsystem: "server",
			Name:      "tcp_errors_total",
			Help:      "Total number of errors while serving TCP connections",
		}),
		grpcErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flakeid",
			Subsystem: "server",
			Name:      "grpc_errors_total",
			Help:      "Total number of failed gRPC calls by method",
		}, []string{"method"}),
	}

	if register {
		prometheus.MustRegister(
			m.tcpLatency,
			m.tcpErrors,
			m.grpcErrors,
		)
	}
	return m
}

func (m *metrics) incTcpError() {
	m.tcpErrors.Inc()
}
