package main

import (
	"fmt"

	"chatinbox/internal/store"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logCloser, err := loadConfig()
			if err != nil {
				return err
			}
			defer logCloser.Close()

			db, err := store.Open(cmd.Context(), cfg.Database.Path, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			v, err := db.SchemaVersion(cmd.Context())
			if err != nil {
				return fmt.Errorf("schema version: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s at schema version %d\n", cfg.Database.Path, v)
			return nil
		},
	}
}
