package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ledger/internal/reconcile"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one reconciliation sweep and print its report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.openStore(ctx); err != nil {
				return err
			}

			sweeper := reconcile.NewSweeper(a.store, nil, a.logger.With(zap.String("component", "Sweeper")))
			report, runErr := sweeper.Run(ctx)

			if err := printJSON(cmd, report); err != nil {
				return err
			}
			return runErr
		},
	}
}
