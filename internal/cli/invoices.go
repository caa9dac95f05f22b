package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	pixflow "github.com/arcdeck/pixflow/go"
)

func newCreateCommand(a *app) *cobra.Command {
	var (
		due    time.Duration
		ref    string
		refHex string
		token  string
		splits []string
	)
	cmd := &cobra.Command{
		Use:   "create <amount>",
		Short: "Create an invoice and cache it as PENDING",
		Long: `Create an invoice on the ledger. The amount is in BRL as you would type it:
"10", "10,50" or "R$ 1.234,56".`,
		Example: `  pixflow create "R$ 25,00" --due 30m --ref "table 7"
  pixflow create 100 --split 0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC:2500`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cents, err := pixflow.ParseCents(args[0])
			if err != nil {
				return err
			}
			req := pixflow.CreateRequest{Token: token, Amount: cents, DueIn: due}
			if req.Splits, err = parseSplits(splits); err != nil {
				return err
			}
			if req.RefID, err = resolveRef(ref, refHex); err != nil {
				return err
			}
			if err := pixflow.ValidateCreate(req); err != nil {
				return err
			}

			return a.withSession(cmd, modeWrite, func(ctx context.Context, s *session) error {
				res, err := s.engine.Create(ctx, req)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if res.Warning != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", res.Warning)
				}
				if a.jsonOut {
					return a.printJSON(out, res.Record)
				}
				fmt.Fprintf(out, "Invoice %s created for %s (tx %s)\n",
					res.Record.Label(), pixflow.FormatAmount(res.Record.AmountCents), txRef(s, res.Record.CreateTx))
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&due, "due", 0, "due date offset, e.g. 30m or 24h (default: no due date)")
	cmd.Flags().StringVar(&ref, "ref", "", "reference text, hashed into the refId")
	cmd.Flags().StringVar(&refHex, "ref-hex", "", "raw 0x-prefixed 32-byte refId")
	cmd.Flags().StringVar(&token, "token", "", "invoice token (default: PIXFLOW_TOKEN_ADDRESS)")
	cmd.Flags().StringArrayVar(&splits, "split", nil, "payout split as address:bps, repeatable")
	return cmd
}

// parseSplits reads "address:bps" pairs.
func parseSplits(raw []string) ([]pixflow.Split, error) {
	var out []pixflow.Split
	for _, r := range raw {
		addr, bps, ok := strings.Cut(r, ":")
		if !ok {
			return nil, &pixflow.ValidationError{Field: "split", Reason: "want address:bps, got " + r}
		}
		v, err := strconv.ParseUint(strings.TrimSpace(bps), 10, 16)
		if err != nil {
			return nil, &pixflow.ValidationError{Field: "split", Reason: "bps must be a number: " + bps, Err: err}
		}
		out = append(out, pixflow.Split{To: strings.TrimSpace(addr), BasisPoints: uint16(v)})
	}
	return out, nil
}

// resolveRef hashes text, parses raw hex, or falls back to random bytes.
func resolveRef(text, hex string) ([32]byte, error) {
	switch {
	case text != "" && hex != "":
		return [32]byte{}, &pixflow.ValidationError{Field: "ref", Reason: "use either --ref or --ref-hex"}
	case hex != "":
		return pixflow.ParseBytes32(hex)
	case strings.TrimSpace(text) != "":
		return pixflow.RefFromText(text), nil
	default:
		return pixflow.RandomBytes32()
	}
}

func newPayCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pay <id>",
		Short: "Pay a cached PENDING invoice (sandbox payment)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := pixflow.ParseInvoiceID(args[0])
			if err != nil {
				return err
			}
			return a.withSession(cmd, modeWrite, func(ctx context.Context, s *session) error {
				receipt, err := s.engine.Pay(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Invoice #%d paid (tx %s)\n", id, txRef(s, receipt.TxHash))
				return nil
			})
		},
	}
}

func newCancelCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a cached PENDING invoice",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := pixflow.ParseInvoiceID(args[0])
			if err != nil {
				return err
			}
			return a.withSession(cmd, modeWrite, func(ctx context.Context, s *session) error {
				receipt, err := s.engine.Cancel(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Invoice #%d cancelled (tx %s)\n", id, txRef(s, receipt.TxHash))
				return nil
			})
		},
	}
}

func newSyncCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Refresh every visible cached invoice from the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, modeRead, func(ctx context.Context, s *session) error {
				res, err := s.engine.Sync(ctx)
				if err != nil {
					return err
				}
				if a.jsonOut {
					return a.printJSON(cmd.OutOrStdout(), syncSummary(res))
				}
				fmt.Fprintln(cmd.OutOrStdout(), res.String())
				for _, f := range res.Failures {
					fmt.Fprintf(cmd.ErrOrStderr(), "  #%d: %v\n", f.InvoiceID, f.Err)
				}
				return nil
			})
		},
	}
}

type syncOutput struct {
	PassID    string   `json:"passId"`
	Total     int      `json:"total"`
	Refreshed int      `json:"refreshed"`
	Skipped   int      `json:"skipped"`
	Failures  []string `json:"failures,omitempty"`
}

func syncSummary(res *pixflow.SyncResult) syncOutput {
	out := syncOutput{PassID: res.PassID, Total: res.Total, Refreshed: res.Refreshed, Skipped: res.Skipped}
	for _, f := range res.Failures {
		out.Failures = append(out.Failures, fmt.Sprintf("#%d: %v", f.InvoiceID, f.Err))
	}
	return out
}

func newListCommand(a *app) *cobra.Command {
	var (
		status string
		all    bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached invoices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter pixflow.InvoiceStatus
			if status != "" {
				filter = pixflow.InvoiceStatus(strings.ToUpper(status))
				if !filter.Valid() {
					return &pixflow.ValidationError{Field: "status", Reason: "unknown status " + status}
				}
			}
			return a.withSession(cmd, modeLocal, func(ctx context.Context, s *session) error {
				if s.engine.Identity() == "" {
					return pixflow.ErrNoIdentity
				}
				var list []pixflow.InvoiceRecord
				switch {
				case filter != "":
					list = s.engine.Filter(filter)
				case all:
					list = s.engine.Invoices()
				default:
					list = s.engine.Visible()
				}
				if err := a.printRecords(cmd.OutOrStdout(), list); err != nil {
					return err
				}
				if !a.jsonOut && filter == "" {
					t := s.engine.Totals()
					fmt.Fprintf(cmd.OutOrStdout(), "\n%d invoices, %s created, %s paid\n",
						t.Count, pixflow.FormatCents(t.Created), pixflow.FormatCents(t.Paid))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only show PENDING, PAID or CANCELLED invoices")
	cmd.Flags().BoolVar(&all, "all", false, "include hidden invoices")
	return cmd
}

func newHideCommand(a *app, hide bool) *cobra.Command {
	use, short := "hide <id>", "Hide a cached invoice from lists and sync"
	if !hide {
		use, short = "unhide <id>", "Show a hidden invoice again"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := pixflow.ParseInvoiceID(args[0])
			if err != nil {
				return err
			}
			return a.withSession(cmd, modeLocal, func(ctx context.Context, s *session) error {
				var list []pixflow.InvoiceRecord
				if hide {
					list, err = s.engine.HideInvoice(id)
				} else {
					list, err = s.engine.UnhideInvoice(id)
				}
				if err != nil {
					return err
				}
				return a.printRecords(cmd.OutOrStdout(), visibleOnly(list))
			})
		},
	}
}

func newHidePendingCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "hide-pending",
		Short: "Hide every PENDING invoice",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, modeLocal, func(ctx context.Context, s *session) error {
				list, err := s.engine.HideAllPending()
				if err != nil {
					return err
				}
				return a.printRecords(cmd.OutOrStdout(), visibleOnly(list))
			})
		},
	}
}

func newBackfillCommand(a *app) *cobra.Command {
	var fromBlock uint64
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Import invoices this identity created but the cache does not know",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, modeRead, func(ctx context.Context, s *session) error {
				added, err := s.engine.Backfill(ctx, fromBlock)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d invoices imported; run \"pixflow sync\" to settle their status\n", added)
				return nil
			})
		},
	}
	cmd.Flags().Uint64Var(&fromBlock, "from-block", 0, "first block to scan")
	return cmd
}

func visibleOnly(list []pixflow.InvoiceRecord) []pixflow.InvoiceRecord {
	var out []pixflow.InvoiceRecord
	for _, rec := range list {
		if !rec.Hidden {
			out = append(out, rec)
		}
	}
	return out
}
