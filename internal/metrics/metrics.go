package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server exposes /metrics and a /healthz probe backed by ready.
type Server struct {
	addr   string
	srv    *http.Server
	logger *zap.Logger
}

func New(logger *zap.Logger, addr string, ready func() error) (*Server, func(ctx context.Context) error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if err := ready(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok\n"))
	})

	srv := &http.Server{
		Addr:         addr,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		Handler:      mux,
	}

	server := &Server{
		addr:   addr,
		srv:    srv,
		logger: logger,
	}

	closer := func(ctx context.Context) error {
		logger.Info("Shutting down metrics server...")
		return srv.Shutdown(ctx)
	}

	return server, closer
}

func (m *Server) Start() {
	go func() {
		m.logger.Info("Metrics server started", zap.String("addr", m.addr))
		if err := m.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("Metrics server error", zap.Error(err))
		}
	}()
}

// RegisterGeneratorInfo publishes the generator identity as a constant gauge.
func RegisterGeneratorInfo(machineID uint16, startTime time.Time) error {
	info := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "flakeid",
		Subsystem: "generator",
		Name:      "info",
		Help:      "Generator identity, value is the start time in unix seconds",
		ConstLabels: prometheus.Labels{
			"machine_id": strconv.Itoa(int(machineID)),
		},
	})
	info.Set(float64(startTime.Unix()))
	return prometheus.Register(info)
}
