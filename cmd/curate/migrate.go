package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ljtill/curate/pkg/config"
	"github.com/ljtill/curate/pkg/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply document store schema migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(envFile)
		if err != nil {
			return err
		}
		if err := store.Migrate(cfg.DatabaseURL); err != nil {
			return err
		}
		slog.Info("migrate: schema is up to date")
		return nil
	},
}
