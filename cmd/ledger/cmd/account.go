package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ledger/internal/app/ledger"
	"ledger/internal/domain"
)

func newAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Create and inspect accounts",
	}
	cmd.AddCommand(
		newAccountCreateCmd(),
		newAccountShowCmd(),
	)
	return cmd
}

func newAccountCreateCmd() *cobra.Command {
	var (
		owner   string
		balance string
		hold    string
		status  string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account and print it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			bal, err := decimal.NewFromString(balance)
			if err != nil {
				return fmt.Errorf("invalid --balance %q: %w", balance, err)
			}
			hld, err := decimal.NewFromString(hold)
			if err != nil {
				return fmt.Errorf("invalid --hold %q: %w", hold, err)
			}
			st, err := domain.ParseAccountStatus(status)
			if err != nil {
				return err
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.openStore(cmd.Context()); err != nil {
				return err
			}

			service := ledger.NewLedgerService(a.store, a.logger.With(zap.String("component", "LedgerService")))
			account, err := service.CreateAccount(cmd.Context(), ledger.CreateAccountRequest{
				OwnerName: owner,
				Balance:   bal,
				Hold:      hld,
				Status:    st,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, ledger.NewAccountView(account))
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner name")
	cmd.Flags().StringVar(&balance, "balance", "0", "initial balance")
	cmd.Flags().StringVar(&hold, "hold", "0", "initial hold")
	cmd.Flags().StringVar(&status, "status", string(domain.AccountStatusOpen), "OPEN or CLOSED")
	_ = cmd.MarkFlagRequired("owner")

	return cmd
}

func newAccountShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print an account with its available balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.openStore(cmd.Context()); err != nil {
				return err
			}

			service := ledger.NewLedgerService(a.store, a.logger.With(zap.String("component", "LedgerService")))
			view, err := service.Query(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, view)
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
