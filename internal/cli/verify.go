package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	pixflow "github.com/arcdeck/pixflow/go"
	"github.com/arcdeck/pixflow/go/payload"
)

func newVerifyCommand(a *app) *cobra.Command {
	var save bool
	cmd := &cobra.Command{
		Use:   "verify <id>",
		Short: "Read one invoice straight from the ledger",
		Long: `Read one invoice from the ledger without touching the cache. With --save the
result is stored in the selected identity's cache.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := pixflow.ParseInvoiceID(args[0]); err != nil {
				return err
			}
			return a.withSession(cmd, modeRead, func(ctx context.Context, s *session) error {
				rec, err := s.engine.Verify(ctx, args[0])
				if err != nil {
					return err
				}
				if rec.Status == pixflow.StatusNone {
					return fmt.Errorf("invoice %s: %w", rec.Label(), pixflow.ErrInvoiceNotFound)
				}
				if err := a.printRecord(cmd.OutOrStdout(), *rec); err != nil {
					return err
				}
				if save {
					if _, err := s.engine.SaveVerified(*rec); err != nil {
						return err
					}
					fmt.Fprintf(cmd.ErrOrStderr(), "Saved %s to the cache of %s\n", rec.Label(), s.engine.Identity())
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "store the result in the local cache")
	return cmd
}

func newShareCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "share <id>",
		Short: "Print the share payload of a cached invoice",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := pixflow.ParseInvoiceID(args[0])
			if err != nil {
				return err
			}
			return a.withSession(cmd, modeLocal, func(ctx context.Context, s *session) error {
				encoded, err := s.engine.SharePayload(id)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), encoded)
				return nil
			})
		},
	}
}

func newDecodeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "decode <payload>",
		Short: "Decode a share payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := payload.Decode(args[0])
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(cmd.OutOrStdout(), p)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Invoice   #%d\n", p.InvoiceID)
			fmt.Fprintf(out, "Amount    %s\n", pixflow.FormatAmount(p.AmountCents))
			fmt.Fprintf(out, "Invoices  %s\n", p.Invoices)
			fmt.Fprintf(out, "Token     %s\n", p.Token)
			if p.RefID != "" {
				fmt.Fprintf(out, "Ref       %s\n", p.RefID)
			}
			return nil
		},
	}
}
