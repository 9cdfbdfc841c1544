package main

import (
	"context"
	"fmt"
	"time"

	"github.com/cemetery-system/payment-service/internal/config"
	"github.com/cemetery-system/payment-service/internal/repository"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the payment_record and service_order tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Store != config.StorePostgres {
				return fmt.Errorf("migrate requires STORE=%s, got %s", config.StorePostgres, cfg.Store)
			}

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			db, err := repository.NewDatabase(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := repository.Migrate(ctx, db); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Migrated database %s\n", cfg.Database.Name)
			return nil
		},
	}
}
