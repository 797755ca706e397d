// Package cli provides the aves-engine command-line interface.
package cli

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aves-app/aves-engine/pkg/config"
	"github.com/aves-app/aves-engine/pkg/logging"
)

var (
	// Version is set at build time via ldflags on main.
	Version = "dev"

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "aves-engine",
	Short: "Annotation review and pattern learning service for Aves",
	Long: `aves-engine generates bird-feature annotations with a vision model,
serves the reviewer workflow over REST, and learns per-species patterns
from reviewer decisions to bias future generation.

Run without a subcommand to start the server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is fine; real deployments use the environment.
		_ = godotenv.Load()

		var err error
		cfg, err = config.Load(Version)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logger, err = logging.NewLogger(cfg.Env, cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("create logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runServe,
}

// Execute runs the root command.
func Execute(version string) error {
	Version = version
	rootCmd.Version = version
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(patternsCmd)
	rootCmd.AddCommand(reapCmd)
}
