package cli

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/gophdeobf/internal/server/roles"
	"github.com/spf13/cobra"
)

// ledgerCmd operates on the ledger store directly. The local operator is
// trusted with every role.
func (a *App) ledgerCmd() *cobra.Command {
	var kind, dsn string

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect or adjust balances directly in the ledger store",
	}
	cmd.PersistentFlags().StringVar(&kind, "storage", "", "storage kind (postgres, sqlite)")
	cmd.PersistentFlags().StringVar(&dsn, "dsn", "", "storage DSN")

	with := func(ctx context.Context, fn func(LedgerAdmin) error) error {
		if kind == "" {
			kind = a.config.StorageKind
		}
		if dsn == "" {
			dsn = a.config.DatabaseDSN
		}
		l, closeFn, err := a.OpenLedger(ctx, kind, dsn)
		if err != nil {
			return err
		}
		defer closeFn()
		return fn(l)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "balance USER",
		Short: "Show a user's balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return with(cmd.Context(), func(l LedgerAdmin) error {
				b, err := l.GetBalance(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(a.out, "%s: %d\n", args[0], b)
				return err
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "grant USER AMOUNT",
		Short: "Credit tokens to a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := roles.Require(roles.All, a.config.GiftRoleID); err != nil {
				return err
			}
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			return with(cmd.Context(), func(l LedgerAdmin) error {
				b, err := l.Grant(cmd.Context(), args[0], amount)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(a.out, "%s: %d\n", args[0], b)
				return err
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "claim USER",
		Short: "Run the daily claim for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return with(cmd.Context(), func(l LedgerAdmin) error {
				ok, err := l.ClaimDaily(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				b, err := l.GetBalance(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(a.out, "%s: claimed=%t balance=%d\n", args[0], ok, b)
				return err
			})
		},
	})

	return cmd
}
