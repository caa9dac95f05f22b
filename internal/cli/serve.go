package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	pixhttp "github.com/arcdeck/pixflow/go/http"
	"github.com/arcdeck/pixflow/go/internal/logger"
	pixmcp "github.com/arcdeck/pixflow/go/mcp"
)

const shutdownTimeout = 5 * time.Second

func newServeCommand(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve public receipts over HTTP and invoice tools over MCP",
		Long: `Serve read-only invoice verification:

  GET  /health
  GET  /r/:invoiceId     receipt JSON
  POST /payload/decode   decode a share payload
  GET  /sse              MCP over SSE (tools verify_invoice, decode_payload)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.cfg.HTTPAddr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			s, err := a.connect(ctx, a, modeRead)
			if err != nil {
				return err
			}
			defer s.Close()

			handler := newServeHandler(s, cmd.Root().Version)
			server := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

			log := logger.WithComponent("serve")
			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", addr).Msg("listening")
				errCh <- server.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("http server: %w", err)
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			log.Info().Msg("shutting down")
			return server.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: PIXFLOW_HTTP_ADDR)")
	return cmd
}

// newServeHandler mounts the MCP SSE endpoints on the receipt router.
func newServeHandler(s *session, version string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	opts := []pixhttp.RouterOption{pixhttp.WithRouterLogger(logger.WithComponent("http"))}
	if s.network.ExplorerURL != "" {
		opts = append(opts, pixhttp.WithAddressURL(s.network.AddressURL))
	}
	r := pixhttp.NewReceiptRouter(s.engine, opts...)

	if version == "" {
		version = "dev"
	}
	sse := gin.WrapH(pixmcp.NewSSEHandler(pixmcp.NewServer(s.engine,
		pixmcp.WithLogger(logger.WithComponent("mcp")),
		pixmcp.WithVersion(version),
	)))
	r.Any("/sse", sse)
	r.Any("/messages", sse)
	return r
}
