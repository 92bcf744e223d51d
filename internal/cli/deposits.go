package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/ledgersync/internal/model"
	"github.com/roach88/ledgersync/internal/store"
)

// NewDepositsCommand creates the deposits command group.
func NewDepositsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deposits",
		Short: "Manage unclaimed on-chain deposits",
	}
	cmd.AddCommand(newDepositsListCommand(rootOpts))
	cmd.AddCommand(newDepositsAddCommand(rootOpts))
	cmd.AddCommand(newDepositsRefundCommand(rootOpts))
	cmd.AddCommand(newDepositsDeleteCommand(rootOpts))
	return cmd
}

func newDepositsListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List unclaimed deposits by txid and vout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, rootOpts, func(ctx context.Context, s store.Storage) error {
				deposits, err := s.ListDeposits(ctx)
				if err != nil {
					return storeExit("failed to list deposits", err)
				}
				return formatter(cmd, rootOpts).Success(deposits, func(w io.Writer) error {
					return writeDepositTable(w, deposits)
				})
			})
		},
	}
}

func newDepositsAddCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <txid> <vout> <amount-sats>",
		Short: "Record an unclaimed deposit",
		Long:  "Record an unclaimed deposit. A deposit that is already known is left unchanged.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			vout, err := parseVout(args[1])
			if err != nil {
				return err
			}
			amount, err := strconv.ParseUint(args[2], 10, 64)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid amount", err)
			}
			return withStorage(cmd, rootOpts, func(ctx context.Context, s store.Storage) error {
				if err := s.AddDeposit(ctx, args[0], vout, amount); err != nil {
					return storeExit("failed to add deposit", err)
				}
				return formatter(cmd, rootOpts).Success(map[string]any{"txid": args[0], "vout": vout}, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "deposit %s:%d recorded\n", args[0], vout)
					return err
				})
			})
		},
	}
}

func newDepositsRefundCommand(rootOpts *RootOptions) *cobra.Command {
	var refundTx, refundTxID string

	cmd := &cobra.Command{
		Use:   "refund <txid> <vout>",
		Short: "Attach a refund transaction to a deposit",
		Long:  "Attach a refund transaction to a deposit. Any stored claim error is cleared.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			vout, err := parseVout(args[1])
			if err != nil {
				return err
			}
			update := model.DepositUpdate{Refund: &model.DepositRefund{Tx: refundTx, TxID: refundTxID}}
			return withStorage(cmd, rootOpts, func(ctx context.Context, s store.Storage) error {
				if err := s.UpdateDeposit(ctx, args[0], vout, update); err != nil {
					return storeExit("failed to update deposit", err)
				}
				return formatter(cmd, rootOpts).Success(update, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "deposit %s:%d refunded by %s\n", args[0], vout, refundTxID)
					return err
				})
			})
		},
	}
	cmd.Flags().StringVar(&refundTx, "tx", "", "raw refund transaction hex (required)")
	cmd.Flags().StringVar(&refundTxID, "txid", "", "refund transaction id (required)")
	_ = cmd.MarkFlagRequired("tx")
	_ = cmd.MarkFlagRequired("txid")
	return cmd
}

func newDepositsDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <txid> <vout>",
		Short: "Forget a deposit",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			vout, err := parseVout(args[1])
			if err != nil {
				return err
			}
			return withStorage(cmd, rootOpts, func(ctx context.Context, s store.Storage) error {
				if err := s.DeleteDeposit(ctx, args[0], vout); err != nil {
					return storeExit("failed to delete deposit", err)
				}
				return formatter(cmd, rootOpts).Success(map[string]any{"txid": args[0], "vout": vout}, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "deposit %s:%d deleted\n", args[0], vout)
					return err
				})
			})
		},
	}
}

func parseVout(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, WrapExitError(ExitCommandError, "invalid vout", err)
	}
	return uint32(v), nil
}

func writeDepositTable(w io.Writer, deposits []model.DepositInfo) error {
	if len(deposits) == 0 {
		_, err := fmt.Fprintln(w, "No deposits found.")
		return err
	}
	fmt.Fprintln(w, "TXID\tVOUT\tAMOUNT\tSTATE")
	for _, d := range deposits {
		amount := "-"
		if d.AmountSats != nil {
			amount = strconv.FormatUint(*d.AmountSats, 10)
		}
		state := "unclaimed"
		switch {
		case d.ClaimError != nil:
			state = "claim failed: " + d.ClaimError.Message()
		case d.RefundTxID != nil:
			state = "refunded by " + *d.RefundTxID
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", d.TxID, d.Vout, amount, state)
	}
	return nil
}
