// Package mcp implements the MCP Source Adapter of spec §4.6.2: a JSON-RPC
// Caller over stdio or HTTP transport, used both to list a server's tools
// (fetch_and_normalize) and, later, to invoke one (the Executor's MCP_CALL
// path). Adapted from the teacher's runtime/mcp and features/mcp/runtime
// packages.
package mcp

import (
	"context"
	"encoding/json"
)

// Caller invokes MCP tools over whichever transport a source binds to.
type Caller interface {
	CallTool(ctx context.Context, req CallRequest) (CallResponse, error)
	ListTools(ctx context.Context) ([]ToolInfo, error)
	Close() error
}

// Error represents a JSON-RPC error returned by the MCP server.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// CallRequest describes one tools/call invocation.
type CallRequest struct {
	Tool    string
	Payload json.RawMessage
}

// CallResponse captures the MCP tool result.
type CallResponse struct {
	Result     json.RawMessage
	Structured json.RawMessage
	IsError    bool
}

// ToolInfo is one entry of a tools/list response (§4.6.2 step 1).
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}
