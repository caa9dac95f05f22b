// Package cli implements the pixflow command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// NewRootCommand builds the command tree.
func NewRootCommand(version string) *cobra.Command {
	return newRootCommand(newApp(), version)
}

func newRootCommand(a *app, version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "pixflow",
		Short: "Invoice cache and reconciliation for the pixflow invoices contract",
		Long: `pixflow keeps a local cache of the invoices you created on the invoices
contract and reconciles it with the ledger.

Configuration is read from .env and the environment:
  PIXFLOW_RPC_URL           JSON-RPC endpoint
  PIXFLOW_CHAIN_ID          expected chain id
  PIXFLOW_INVOICES_ADDRESS  invoices contract
  PIXFLOW_TOKEN_ADDRESS     default invoice token
  PIXFLOW_PRIVATE_KEY       signer key for create, pay and cancel
  PIXFLOW_DB_PATH           SQLite cache file
  PIXFLOW_HTTP_ADDR         listen address of "serve"`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg != nil {
				return nil
			}
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.shutdown()
		},
	}

	root.PersistentFlags().StringVar(&a.envFile, "env-file", "", "load configuration from this file instead of .env")
	root.PersistentFlags().StringVar(&a.identity, "as", "", "operate on this identity's cache (read-only commands)")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "print JSON instead of tables")

	root.AddCommand(
		newCreateCommand(a),
		newPayCommand(a),
		newCancelCommand(a),
		newSyncCommand(a),
		newListCommand(a),
		newHideCommand(a, true),
		newHideCommand(a, false),
		newHidePendingCommand(a),
		newVerifyCommand(a),
		newShareCommand(a),
		newDecodeCommand(a),
		newBackfillCommand(a),
		newServeCommand(a),
	)
	return root
}

// Execute runs the CLI and exits non-zero on failure.
func Execute(version string) {
	if err := NewRootCommand(version).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// withSession runs fn against a connected engine.
func (a *app) withSession(cmd *cobra.Command, m mode, fn func(ctx context.Context, s *session) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	var timeout time.Duration
	switch {
	case m == modeWrite && a.cfg != nil:
		timeout = a.cfg.TxTimeout
	case m == modeRead:
		timeout = readTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	s, err := a.connect(ctx, a, m)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

// readTimeout bounds commands that only read from the ledger.
const readTimeout = 60 * time.Second
