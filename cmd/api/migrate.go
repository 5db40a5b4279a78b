package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jwalitptl/queue-api/internal/repository/postgres"
)

func newMigrateCommand(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(*configFlag)
			if err != nil {
				return err
			}

			db, err := postgres.Open(cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := postgres.AppliedMigrations(cmd.Context(), db)
			if err != nil {
				return err
			}
			log.Info("Database schema is up to date", "driver", cfg.Database.Driver, "migrations", len(applied))
			for _, version := range applied {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			}
			return nil
		},
	}
}
