package registry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Registry reserves machine ids so that two live generators never share one.
type Registry interface {
	// Claim reserves id for this process. It reports false when another live
	// generator holds it.
	Claim(ctx context.Context, id uint16) (bool, error)
	// Close releases every id claimed by this process.
	Close(ctx context.Context) error
}

// New builds the registry selected by cfg.Type.
func New(logger *zap.Logger, cfg *Config) (Registry, error) {
	switch cfg.Type {
	case "", "none":
		return nopRegistry{}, nil
	case "lockfile":
		return NewLockDir(logger, cfg.LockFile.Dir), nil
	case "kafka":
		return NewKafka(logger, cfg.Kafka)
	default:
		return nil, fmt.Errorf("unsupported check type: %q", cfg.Type)
	}
}

// CheckFunc adapts r to the predicate form accepted by
// flake.WithMachineIDCheck. A failing claim is logged and treated as taken.
func CheckFunc(ctx context.Context, logger *zap.Logger, r Registry, timeout time.Duration) func(uint16) bool {
	return func(id uint16) bool {
		claimCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		ok, err := r.Claim(claimCtx, id)
		if err != nil {
			logger.Error("machine id claim failed", zap.Uint16("machine_id", id), zap.Error(err))
			return false
		}
		if !ok {
			logger.Warn("machine id is held by another generator", zap.Uint16("machine_id", id))
		}
		return ok
	}
}

type nopRegistry struct{}

func (nopRegistry) Claim(context.Context, uint16) (bool, error) { return true, nil }

func (nopRegistry) Close(context.Context) error { return nil }
