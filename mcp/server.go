package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	pixflow "github.com/arcdeck/pixflow/go"
	"github.com/arcdeck/pixflow/go/payload"
)

const (
	ToolVerifyInvoice = "verify_invoice"
	ToolDecodePayload = "decode_payload"

	ServerName = "pixflow"
)

// Verifier reads one invoice from the ledger. *pixflow.Engine implements it.
type Verifier interface {
	Verify(ctx context.Context, raw string) (*pixflow.InvoiceRecord, error)
}

// ServerOption configures NewServer.
type ServerOption func(*tools)

func WithLogger(logger zerolog.Logger) ServerOption {
	return func(t *tools) {
		t.logger = logger
	}
}

// WithVersion sets the version advertised during initialization.
func WithVersion(version string) ServerOption {
	return func(t *tools) {
		t.version = version
	}
}

// NewServer builds an MCP server exposing the read-only invoice tools.
// Tool failures come back as results with IsError set; protocol errors are
// reserved for transport problems.
func NewServer(verifier Verifier, opts ...ServerOption) *mcpsdk.Server {
	t := &tools{verifier: verifier, logger: zerolog.Nop(), version: "dev"}
	for _, opt := range opts {
		opt(t)
	}

	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    ServerName,
		Version: t.version,
	}, nil)

	server.AddTool(&mcpsdk.Tool{
		Name:        ToolVerifyInvoice,
		Description: "Read an invoice straight from the ledger. Accepts \"12\" or \"#12\".",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"id": map[string]interface{}{"type": "string", "description": "Invoice id"},
			},
			"required": []string{"id"},
		},
	}, t.verifyInvoice)

	server.AddTool(&mcpsdk.Tool{
		Name:        ToolDecodePayload,
		Description: "Decode an ARCDECK:PIXFLOW share payload.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"payload": map[string]interface{}{"type": "string", "description": "Encoded share payload"},
			},
			"required": []string{"payload"},
		},
	}, t.decodePayload)

	return server
}

// NewSSEHandler serves server over the SSE transport. Mount it on both the
// stream and message paths.
func NewSSEHandler(server *mcpsdk.Server) http.Handler {
	return mcpsdk.NewSSEHandler(func(*http.Request) *mcpsdk.Server {
		return server
	}, nil)
}

type tools struct {
	verifier Verifier
	logger   zerolog.Logger
	version  string
}

type verifyArgs struct {
	ID string `json:"id"`
}

type verifyOutput struct {
	pixflow.InvoiceRecord
	Exists      bool   `json:"exists"`
	AmountLabel string `json:"amountLabel"`
}

func (t *tools) verifyInvoice(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args verifyArgs
	if err := unmarshalArgs(req, &args); err != nil {
		return errorResult(err), nil
	}

	rec, err := t.verifier.Verify(ctx, args.ID)
	if err != nil {
		if pixflow.IsRemoteCallError(err) {
			t.logger.Warn().Err(err).Str("invoiceId", args.ID).Msg("verify tool failed")
			return errorResult(fmt.Errorf("ledger unavailable")), nil
		}
		return errorResult(err), nil
	}
	return jsonResult(verifyOutput{
		InvoiceRecord: *rec,
		Exists:        rec.Status != pixflow.StatusNone,
		AmountLabel:   pixflow.FormatAmount(rec.AmountCents),
	})
}

type decodeArgs struct {
	Payload string `json:"payload"`
}

func (t *tools) decodePayload(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args decodeArgs
	if err := unmarshalArgs(req, &args); err != nil {
		return errorResult(err), nil
	}
	p, err := payload.Decode(args.Payload)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(p)
}

func unmarshalArgs(req *mcpsdk.CallToolRequest, v interface{}) error {
	if req == nil || req.Params == nil || len(req.Params.Arguments) == 0 {
		return fmt.Errorf("missing tool arguments")
	}
	if err := json.Unmarshal(req.Params.Arguments, v); err != nil {
		return fmt.Errorf("invalid tool arguments: %w", err)
	}
	return nil
}

func jsonResult(v interface{}) (*mcpsdk.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	var structured map[string]interface{}
	if err := json.Unmarshal(data, &structured); err != nil {
		return nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return &mcpsdk.CallToolResult{
		Content:           []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}},
		StructuredContent: structured,
	}, nil
}

func errorResult(err error) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
		IsError: true,
	}
}
