package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aves-app/aves-engine/pkg/services"
)

var exportFormat string

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Inspect learned patterns",
}

var patternsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write every learned pattern to stdout",
	Long: `Dump the learned-pattern store for backup or offline analysis.

Examples:
  aves-engine patterns export > patterns.json
  aves-engine patterns export --format yaml`,
	Args: cobra.NoArgs,
	RunE: runPatternsExport,
}

func init() {
	patternsExportCmd.Flags().StringVarP(&exportFormat, "format", "f", "json", "output format: json or yaml")
	patternsCmd.AddCommand(patternsExportCmd)
}

func runPatternsExport(cmd *cobra.Command, args []string) error {
	format, err := services.ParseExportFormat(exportFormat)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	db, err := connect(ctx, cfg, false, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	a := newApp(db, cfg, logger)
	out, err := a.patterns.ExportLearnedPatterns(ctx, format)
	if err != nil {
		return fmt.Errorf("export patterns: %w", err)
	}

	if _, err := cmd.OutOrStdout().Write(out); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	return nil
}
