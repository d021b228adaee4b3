package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/terracoord/digcheck/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "digcheck",
	Short: "Excavation conflict detection for municipal dig coordination",
	Long:  "Validates excavation geometries, detects spatial and temporal conflicts between projects, and enforces moratorium zones with coordinator exceptions.",
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

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
