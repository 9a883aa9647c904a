package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dubedad/jobforge/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "jobforge",
	Short: "Job title resolution and attribute enrichment",
	Long:  "Resolves free-text job titles against an occupational taxonomy and fills their attributes from inherited tables, external crosswalks and a generative fallback, recording provenance for every value.",
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
