// Package sourcing defines the single capability every Source Adapter
// implements (spec §4.6): fetch_and_normalize and validate_url, returning a
// uniform IngestionResult for the Inventory Reconciler to diff.
package sourcing

import (
	"context"

	"goa.design/tools-provider/internal/secrets"
	"goa.design/tools-provider/internal/tools"
)

// IngestionResult is the uniform output of every adapter's fetch_and_normalize.
type IngestionResult struct {
	Tools         []tools.ToolDefinition
	InventoryHash string
	Success       bool
	Error         string
	SourceVersion string
	Warnings      []string
}

// Adapter is implemented by the OpenAPI, MCP, and Built-in source adapters.
type Adapter interface {
	FetchAndNormalize(ctx context.Context, url string, authConfig *secrets.AuthConfig, defaultAudience string, mcpConfig *tools.MCPConfig) (IngestionResult, error)
	ValidateURL(ctx context.Context, url string, authConfig *secrets.AuthConfig) (bool, error)
}
