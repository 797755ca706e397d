package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aves-app/aves-engine/pkg/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dbCfg := databaseConfig(cfg)
		if err := database.Migrate(dbCfg.URL, logger); err != nil {
			return err
		}
		logger.Info("Migrations applied", zap.String("database", cfg.Database.Database))
		return nil
	},
}
