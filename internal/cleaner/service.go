package cleaner

import (
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/zhukov-alex/flakeid/internal/registry"
)

type Config struct {
	LockDir string
	DryRun  bool
}

type Service struct {
	cfg    *Config
	logger *zap.Logger
}

func NewService(logger *zap.Logger, cfg *Config) *Service {
	return &Service{
		cfg:    cfg,
		logger: logger,
	}
}

// CleanupStaleLocks removes machine id lock files that no live generator
// holds and returns how many were removed.
func (s *Service) CleanupStaleLocks() int {
	logger := s.logger.With(zap.String("method", "CleanupStaleLocks"))

	locks, err := filepath.Glob(filepath.Join(s.cfg.LockDir, registry.LockFilePattern))
	if err != nil {
		logger.Error("failed to list lock files", zap.String("dir", s.cfg.LockDir), zap.Error(err))
		return 0
	}
	sort.Strings(locks)

	removed, held := 0, 0
	for _, path := range locks {
		if s.cfg.DryRun {
			isHeld, err := registry.IsHeld(path)
			if err != nil {
				if !os.IsNotExist(err) {
					logger.Error("failed to probe lock file", zap.String("file", path), zap.Error(err))
				}
				continue
			}
			if isHeld {
				held++
				continue
			}
			logger.Info("stale lock file", zap.String("file", path))
			removed++
			continue
		}

		ok, err := registry.RemoveIfStale(path)
		switch {
		case err != nil:
			if !os.IsNotExist(err) {
				logger.Error("failed to remove lock file", zap.String("file", path), zap.Error(err))
			}
		case ok:
			removed++
		default:
			held++
		}
	}

	logger.Info("lock cleanup completed",
		zap.Int("total_locks", len(locks)),
		zap.Int("held_locks", held),
		zap.Int("removed_locks", removed),
		zap.Bool("dry_run", s.cfg.DryRun),
	)
	return removed
}
