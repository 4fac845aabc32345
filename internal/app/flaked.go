package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zhukov-alex/flakeid/internal/config"
	"github.com/zhukov-alex/flakeid/internal/issuer"
	"github.com/zhukov-alex/flakeid/internal/logger"
	"github.com/zhukov-alex/flakeid/internal/metrics"
	"github.com/zhukov-alex/flakeid/internal/registry"
	"github.com/zhukov-alex/flakeid/internal/server"
	"github.com/zhukov-alex/flakeid/pkg/flake"
)

const (
	EnvStage = "ENVIRONMENT"

	claimTimeout    = 10 * time.Second
	shutdownTimeout = 3 * time.Second
)

func FlakedCmd(_ *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.New(viper.GetViper())
	if err != nil {
		return fmt.Errorf("create config: %w", err)
	}
	var devMode = strings.ToLower(os.Getenv(EnvStage)) != "prod"
	l, err := logger.New(cfg.Logger, devMode)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer l.Sync()

	reg, err := registry.New(l, &cfg.Generator.Check)
	if err != nil {
		return fmt.Errorf("registry init error: %w", err)
	}

	opts := append(cfg.Generator.Options(),
		flake.WithMachineIDCheck(registry.CheckFunc(ctx, l, reg, claimTimeout)),
	)
	gen, err := flake.New(opts...)
	if err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if cerr := reg.Close(closeCtx); cerr != nil {
			l.Warn("error releasing registry", zap.Error(cerr))
		}
		return fmt.Errorf("generator init error: %w", err)
	}
	l.Info("generator ready",
		zap.Uint16("machine_id", gen.MachineID()),
		zap.Time("start_time", gen.StartTime()),
	)

	collectMetrics := cfg.MetricsAddr != ""
	var metricsCloser func(ctx context.Context) error
	if collectMetrics {
		metricsSrv, cl := metrics.New(l, cfg.MetricsAddr, ctx.Err)
		if err := metrics.RegisterGeneratorInfo(gen.MachineID(), gen.StartTime()); err != nil {
			l.Warn("generator info metric not registered", zap.Error(err))
		}
		metricsSrv.Start()
		metricsCloser = cl
	}

	svc := issuer.New(l, cfg.Issuer, gen, collectMetrics)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start issuer: %w", err)
	}

	srv, err := newServer(l, &cfg.Server, collectMetrics)
	if err != nil {
		return fmt.Errorf("server init error: %w", err)
	}

	go func() {
		if err := srv.Serve(ctx, svc); err != nil {
			l.Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	l.Info("Shutdown signal received")

	clCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var extra []func(context.Context) error
	if collectMetrics {
		extra = append(extra, metricsCloser)
	}
	if err := shutdown(clCtx, l, srv, svc, reg, extra...); err != nil {
		l.Error("shutdown errors", zap.Error(err))
	} else {
		l.Info("Shutdown complete")
	}

	return nil
}

type closer interface {
	Close(ctx context.Context) error
}

// shutdown stops intake first, then the issuer, and releases the machine id
// only once no request can still be served with it.
func shutdown(ctx context.Context, l *zap.Logger, srv, svc, reg closer, extra ...func(context.Context) error) error {
	if err := srv.Close(ctx); err != nil {
		l.Error("error shutting down server", zap.Error(err))
	}
	if err := svc.Close(ctx); err != nil {
		l.Error("error shutting down issuer", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return reg.Close(gctx) })
	for _, fn := range extra {
		fn := fn
		g.Go(func() error { return fn(gctx) })
	}
	return g.Wait()
}

func newServer(l *zap.Logger, cfg *server.Config, collectMetrics bool) (server.Server, error) {
	switch cfg.Type {
	case "tcp":
		if cfg.TCP == nil {
			return nil, fmt.Errorf("tcp config is missing")
		}
		return server.NewTCPServer(l, cfg.TCP, collectMetrics), nil
	case "grpc":
		if cfg.GRPC == nil {
			return nil, fmt.Errorf("grpc config is missing")
		}
		return server.NewGRPCServer(l, cfg.GRPC, collectMetrics), nil
	default:
		return nil, fmt.Errorf("unsupported server type: %s", cfg.Type)
	}
}
