package cleaner

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zhukov-alex/flakeid/internal/config"
	"github.com/zhukov-alex/flakeid/internal/logger"
)

const EnvStage = "ENVIRONMENT"

func CleanupCmd(cmd *cobra.Command, _ []string) error {
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

	check := cfg.Generator.Check
	if check.Type != "lockfile" {
		l.Info("Skipping cleanup: generator.check.type is not lockfile.")
		return nil
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	svc := NewService(l, &Config{
		LockDir: check.LockFile.Dir,
		DryRun:  dryRun,
	})
	svc.CleanupStaleLocks()

	return nil
}
