package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	pixflow "github.com/arcdeck/pixflow/go"
)

func (a *app) printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) printRecords(w io.Writer, list []pixflow.InvoiceRecord) error {
	if a.jsonOut {
		if list == nil {
			list = []pixflow.InvoiceRecord{}
		}
		return a.printJSON(w, list)
	}
	if len(list) == 0 {
		_, err := fmt.Fprintln(w, "No invoices.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tAMOUNT\tDUE\tCREATED\t")
	for _, rec := range list {
		status := rec.Status.String()
		if rec.Hidden {
			status += " (hidden)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t\n",
			rec.Label(), status, pixflow.FormatAmount(rec.AmountCents), formatDue(rec.DueAt), formatTime(rec.CreatedAt))
	}
	return tw.Flush()
}

func (a *app) printRecord(w io.Writer, rec pixflow.InvoiceRecord) error {
	if a.jsonOut {
		return a.printJSON(w, rec)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Invoice\t%s\n", rec.Label())
	fmt.Fprintf(tw, "Status\t%s\n", rec.Status)
	fmt.Fprintf(tw, "Amount\t%s\n", pixflow.FormatAmount(rec.AmountCents))
	fmt.Fprintf(tw, "Merchant\t%s\n", rec.Merchant)
	fmt.Fprintf(tw, "Token\t%s\n", rec.Token)
	fmt.Fprintf(tw, "Due\t%s\n", formatDue(rec.DueAt))
	fmt.Fprintf(tw, "Ref\t%s\n", rec.RefID)
	fmt.Fprintf(tw, "Created\t%s\n", formatTime(rec.CreatedAt))
	if !rec.PaidAt.IsZero() {
		fmt.Fprintf(tw, "Paid\t%s\n", formatTime(rec.PaidAt))
	}
	return tw.Flush()
}

// txRef links hash on the session's explorer when one is configured.
func txRef(s *session, hash string) string {
	if s.network.ExplorerURL == "" {
		return hash
	}
	return s.network.TxURL(hash)
}

func formatDue(dueAt uint64) string {
	if dueAt == 0 {
		return "-"
	}
	return time.Unix(int64(dueAt), 0).UTC().Format(time.RFC3339)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
