package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"ledger/internal/config"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations for the configured storage driver",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if a.cfg.Storage.Driver == config.DriverMemory {
				return fmt.Errorf("the memory driver has no schema to migrate")
			}
			// openStore migrates as part of opening.
			return a.openStore(cmd.Context())
		},
	}
}
