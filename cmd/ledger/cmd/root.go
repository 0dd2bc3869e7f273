package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Account ledger with holds and periodic reconciliation",
	Long: `Ledger keeps per-account balances and pending holds.

Deposits raise the balance, reservations raise the hold, and the
reconciliation sweep settles every open account's hold into its balance.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (environment variables override it)")

	rootCmd.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newSweepCmd(),
		newAccountCmd(),
	)
}
