package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Fail annotation jobs stuck past their deadline, then exit",
	Long: `Run one watchdog sweep. Intended for cron when the server's own
watchdog is not running, for example after a crash.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := connect(ctx, cfg, false, logger)
		if err != nil {
			return err
		}
		defer db.Close()

		ids, err := newApp(db, cfg, logger).watchdog.Sweep(ctx)
		if err != nil {
			return fmt.Errorf("sweep expired jobs: %w", err)
		}
		logger.Info("Reap finished", zap.Int("failed_jobs", len(ids)))
		fmt.Fprintf(cmd.OutOrStdout(), "%d job(s) marked failed\n", len(ids))
		return nil
	},
}
