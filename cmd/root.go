package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/donor-import/internal/config"
)

var (
	cfg      *config.Config
	asCaller string
)

var rootCmd = &cobra.Command{
	Use:   "donor-import",
	Short: "Bulk donor-record import pipeline",
	Long:  "Reads donor spreadsheets, maps columns to donor fields, cleans and deduplicates rows, and imports them as tracked background jobs.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&asCaller, "user", "", "caller identity recorded on jobs (default anonymous)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
