package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roach88/ledgersync/internal/model"
	"github.com/roach88/ledgersync/internal/store"
)

// PaymentsListOptions holds flags for payments list.
type PaymentsListOptions struct {
	Types      []string
	Statuses   []string
	Asset      string
	TokenID    string
	HTLCStatus []string
	From       uint64
	To         uint64
	Offset     uint32
	Limit      uint32
	Ascending  bool
}

// NewPaymentsCommand creates the payments command group.
func NewPaymentsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payments",
		Short: "Query and import payments",
	}
	cmd.AddCommand(newPaymentsListCommand(rootOpts))
	cmd.AddCommand(newPaymentsGetCommand(rootOpts))
	cmd.AddCommand(newPaymentsChildrenCommand(rootOpts))
	cmd.AddCommand(newPaymentsImportCommand(rootOpts))
	return cmd
}

func newPaymentsListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PaymentsListOptions{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List top-level payments, newest first",
		Long: `List payments that have no parent, newest first.

Filters of different kinds are combined with AND; repeated values of one
filter are combined with OR.

Examples:
  ledgersync payments list --status completed --limit 20
  ledgersync payments list --type send --asset token --token-id btkn1
  ledgersync payments list --htlc-status waiting_for_preimage --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := opts.request(cmd)
			return withStorage(cmd, rootOpts, func(ctx context.Context, s store.Storage) error {
				payments, err := s.ListPayments(ctx, req)
				if err != nil {
					return storeExit("failed to list payments", err)
				}
				return formatter(cmd, rootOpts).Success(payments, func(w io.Writer) error {
					return writePaymentTable(w, payments)
				})
			})
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&opts.Types, "type", nil, "payment type (send|receive), repeatable")
	f.StringSliceVar(&opts.Statuses, "status", nil, "status (pending|completed|failed), repeatable")
	f.StringVar(&opts.Asset, "asset", "", "asset kind (bitcoin|token)")
	f.StringVar(&opts.TokenID, "token-id", "", "token identifier, with --asset token")
	f.StringSliceVar(&opts.HTLCStatus, "htlc-status", nil, "spark HTLC status, repeatable")
	f.Uint64Var(&opts.From, "from", 0, "earliest timestamp, inclusive (unix seconds)")
	f.Uint64Var(&opts.To, "to", 0, "latest timestamp, exclusive (unix seconds)")
	f.Uint32Var(&opts.Offset, "offset", 0, "rows to skip")
	f.Uint32Var(&opts.Limit, "limit", 0, "maximum rows (default unbounded)")
	f.BoolVar(&opts.Ascending, "asc", false, "oldest first")

	return cmd
}

// request builds the store query. Unset flags stay nil.
func (o *PaymentsListOptions) request(cmd *cobra.Command) model.ListPaymentsRequest {
	f := cmd.Flags()
	req := model.ListPaymentsRequest{SortAscending: o.Ascending}
	for _, t := range o.Types {
		req.TypeFilter = append(req.TypeFilter, model.PaymentType(t))
	}
	for _, s := range o.Statuses {
		req.StatusFilter = append(req.StatusFilter, model.PaymentStatus(s))
	}
	if o.Asset != "" {
		req.AssetFilter = &model.AssetFilter{Kind: model.AssetKind(o.Asset)}
		if o.TokenID != "" {
			req.AssetFilter.TokenIdentifier = &o.TokenID
		}
	}
	if len(o.HTLCStatus) > 0 {
		spark := &model.SparkDetailsFilter{}
		for _, s := range o.HTLCStatus {
			spark.HTLCStatus = append(spark.HTLCStatus, model.SparkHTLCStatus(s))
		}
		req.PaymentDetailsFilter = []model.PaymentDetailsFilter{{Spark: spark}}
	}
	if f.Changed("from") {
		req.FromTimestamp = &o.From
	}
	if f.Changed("to") {
		req.ToTimestamp = &o.To
	}
	if f.Changed("offset") {
		req.Offset = &o.Offset
	}
	if f.Changed("limit") {
		req.Limit = &o.Limit
	}
	return req
}

func newPaymentsGetCommand(rootOpts *RootOptions) *cobra.Command {
	var invoice bool

	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one payment",
		Long: `Show one payment with its metadata.

With --invoice the argument is a Lightning invoice and the newest payment
carrying it is shown.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, rootOpts, func(ctx context.Context, s store.Storage) error {
				var p model.Payment
				if invoice {
					found, err := s.GetPaymentByInvoice(ctx, args[0])
					if err != nil {
						return storeExit("failed to get payment", err)
					}
					if found == nil {
						return NewExitError(ExitFailure, "no payment for invoice")
					}
					p = *found
				} else {
					var err error
					if p, err = s.GetPaymentByID(ctx, args[0]); err != nil {
						return storeExit("failed to get payment", err)
					}
				}
				return formatter(cmd, rootOpts).Success(p, func(w io.Writer) error {
					return writePaymentDetail(w, p)
				})
			})
		},
	}
	cmd.Flags().BoolVar(&invoice, "invoice", false, "look up by Lightning invoice")
	return cmd
}

func newPaymentsChildrenCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "children <parent-id>...",
		Short: "List payments linked to parent payments",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, rootOpts, func(ctx context.Context, s store.Storage) error {
				groups, err := s.GetPaymentsByParentIDs(ctx, args)
				if err != nil {
					return storeExit("failed to get child payments", err)
				}
				return formatter(cmd, rootOpts).Success(groups, func(w io.Writer) error {
					for _, parent := range args {
						children, ok := groups[parent]
						if !ok {
							continue
						}
						fmt.Fprintf(w, "%s:\n", parent)
						if err := writePaymentTable(w, children); err != nil {
							return err
						}
					}
					return nil
				})
			})
		},
	}
}

// ImportResult is the output of payments import.
type ImportResult struct {
	Imported int      `json:"imported"`
	IDs      []string `json:"ids"`
}

func newPaymentsImportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Upsert payments from a JSON array",
		Long: `Upsert every payment in a JSON array file ("-" reads stdin).
Payments without an id get a fresh UUIDv7. Each payment is validated
before it is written; the first invalid payment stops the import.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payments, err := readPayments(cmd, args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read payments", err)
			}
			return withStorage(cmd, rootOpts, func(ctx context.Context, s store.Storage) error {
				res := ImportResult{IDs: []string{}}
				for _, p := range payments {
					if p.ID == "" {
						id, err := uuid.NewV7()
						if err != nil {
							return WrapExitError(ExitFailure, "failed to generate payment id", err)
						}
						p.ID = id.String()
					}
					if err := s.UpsertPayment(ctx, p); err != nil {
						return storeExit(fmt.Sprintf("failed to import payment %q", p.ID), err)
					}
					res.Imported++
					res.IDs = append(res.IDs, p.ID)
				}
				return formatter(cmd, rootOpts).Success(res, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "imported %d payments\n", res.Imported)
					return err
				})
			})
		},
	}
}

func readPayments(cmd *cobra.Command, path string) ([]model.Payment, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	var payments []model.Payment
	if err := json.Unmarshal(data, &payments); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return payments, nil
}

func writePaymentTable(w io.Writer, payments []model.Payment) error {
	if len(payments) == 0 {
		_, err := fmt.Fprintln(w, "No payments found.")
		return err
	}
	fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tAMOUNT\tFEES\tTIMESTAMP\tDETAILS")
	for _, p := range payments {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			p.ID, p.PaymentType, p.Status, p.Amount, p.Fees, p.Timestamp, p.Details.Kind())
	}
	return nil
}

func writePaymentDetail(w io.Writer, p model.Payment) error {
	fmt.Fprintf(w, "ID:\t%s\n", p.ID)
	fmt.Fprintf(w, "Type:\t%s\n", p.PaymentType)
	fmt.Fprintf(w, "Status:\t%s\n", p.Status)
	fmt.Fprintf(w, "Amount:\t%s\n", p.Amount)
	fmt.Fprintf(w, "Fees:\t%s\n", p.Fees)
	fmt.Fprintf(w, "Timestamp:\t%d\n", p.Timestamp)
	if p.Method != "" {
		fmt.Fprintf(w, "Method:\t%s\n", p.Method)
	}
	kind := p.Details.Kind()
	if kind == "" {
		return nil
	}
	details, err := json.Marshal(p.Details)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "Details (%s):\t%s\n", kind, details)
	return err
}
