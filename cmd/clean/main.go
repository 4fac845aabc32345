package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/zhukov-alex/flakeid/internal/cleaner"
	"github.com/zhukov-alex/flakeid/internal/config"
)

func main() {
	log.SetFlags(log.Llongfile | log.Ldate | log.Ltime | log.Lmicroseconds)

	var cfgFile string
	cobra.OnInitialize(config.NewConfigInit(&cfgFile))

	cmd := &cobra.Command{
		Use:   "clean-locks",
		Short: "Remove machine id lock files left by dead generators",
		RunE:  cleaner.CleanupCmd,
	}

	cmd.Flags().StringVar(&cfgFile, "config", "config/config.yaml", "Path to the configuration file (default: config/config.yaml)")
	cmd.Flags().Bool("dry-run", false, "Only report stale lock files")

	if err := cmd.Execute(); err != nil {
		log.Fatalf("command error: %v", err)
	}
}
