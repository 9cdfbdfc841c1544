package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Fail every in-flight payment older than PAYMENT_TIMEOUT, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout.SweepBudget)
			defer cancel()

			app, err := newApplication(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			count, err := app.service.SweepTimeouts(ctx)
			if err != nil {
				return fmt.Errorf("sweep failed after %d payments: %w", count, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d payments timed out (threshold %s)\n", count, cfg.Timeout.Threshold)
			return nil
		},
	}
}
