// Package mcp exposes read-only invoice tools to MCP clients using the
// official Go SDK (github.com/modelcontextprotocol/go-sdk/mcp).
//
// Tools:
//
//	verify_invoice  {"id": "12"}       reads one invoice from the ledger
//	decode_payload  {"payload": "..."} decodes an ARCDECK:PIXFLOW share payload
//
// Serving over SSE:
//
//	server := mcp.NewServer(engine)
//	handler := mcp.NewSSEHandler(server)
//	mux.Handle("/sse", handler)
//	mux.Handle("/messages", handler)
package mcp
