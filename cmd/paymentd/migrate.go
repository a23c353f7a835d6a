package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/common/database"
)

func migrateCmd() *cobra.Command {
	var down int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply all pending migrations, or roll back with --down.

Examples:
  paymentd migrate
  paymentd migrate --down 1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

			if down > 0 {
				return database.MigrateDown(cfg.Database.URL, down, logger)
			}
			if down < 0 {
				return fmt.Errorf("--down must be positive")
			}
			return database.Migrate(cfg.Database.URL, logger)
		},
	}
	cmd.Flags().IntVar(&down, "down", 0, "number of migrations to roll back")

	return cmd
}
