package mcp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"goa.design/tools-provider/internal/secrets"
	"goa.design/tools-provider/internal/sourcing"
	"goa.design/tools-provider/internal/tools"
	"goa.design/tools-provider/internal/toolserr"
)

// Adapter implements sourcing.Adapter for MCP servers (§4.6.2). SINGLETON
// sources keep one live Caller across reconciliation cycles; TRANSIENT
// sources spin one up per fetch and close it afterward.
type Adapter struct {
	httpClient *http.Client

	mu       sync.Mutex
	singletons map[string]Caller
}

// New constructs an Adapter. httpClient is used for the HTTP MCP transport.
func New(httpClient *http.Client) *Adapter {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Adapter{httpClient: httpClient, singletons: make(map[string]Caller)}
}

var _ sourcing.Adapter = (*Adapter)(nil)

// ValidateURL always reports true without contacting the server or running
// the command; no initialize handshake happens here, and connectivity is
// first exercised by FetchAndNormalize.
func (a *Adapter) ValidateURL(ctx context.Context, sourceURL string, _ *secrets.AuthConfig) (bool, error) {
	// sourceURL is unused for MCP; connectivity is validated via mcpConfig in
	// FetchAndNormalize. A bare ValidateURL call without config cannot
	// establish a session, so report true and defer to the first reconcile.
	return true, nil
}

// FetchAndNormalize connects to the MCP server described by mcpConfig,
// lists its tools, and normalizes them into ToolDefinitions (§4.6.2).
func (a *Adapter) FetchAndNormalize(ctx context.Context, sourceID string, _ *secrets.AuthConfig, defaultAudience string, mcpConfig *tools.MCPConfig) (sourcing.IngestionResult, error) {
	if mcpConfig == nil {
		return sourcing.IngestionResult{}, toolserr.New(toolserr.KindValidation, "mcp source requires mcp_config")
	}

	caller, transient, err := a.connect(ctx, sourceID, mcpConfig)
	if err != nil {
		return sourcing.IngestionResult{}, toolserr.Wrap(toolserr.KindUpstreamConnection, err, "connect to mcp server")
	}
	if transient {
		defer caller.Close()
	}

	infos, err := caller.ListTools(ctx)
	if err != nil {
		if transient {
			caller.Close()
		} else {
			a.evictSingleton(sourceID)
		}
		return sourcing.IngestionResult{}, toolserr.Wrap(toolserr.KindUpstreamError, err, "mcp tools/list")
	}

	defs := make([]tools.ToolDefinition, 0, len(infos))
	for _, info := range infos {
		defs = append(defs, tools.ToolDefinition{
			Name:        info.Name,
			Description: info.Description,
			InputSchema: defaultSchema(info.InputSchema),
			SourcePath:  "mcp:" + info.Name,
			Execution: tools.ExecutionProfile{
				Mode:             tools.ModeMCPCall,
				MCPToolName:      info.Name,
				RequiredAudience: defaultAudience,
			},
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })

	return sourcing.IngestionResult{
		Tools:         defs,
		InventoryHash: inventoryHash(defs),
		Success:       true,
	}, nil
}

func defaultSchema(schema map[string]any) map[string]any {
	if schema != nil {
		return schema
	}
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

// connect returns a live Caller for sourceID, reusing a cached SINGLETON
// connection when one exists and is still alive, and reports whether the
// caller is transient (caller-owned, must be closed after use).
func (a *Adapter) connect(ctx context.Context, sourceID string, cfg *tools.MCPConfig) (Caller, bool, error) {
	if cfg.LifecycleMode == tools.MCPLifecycleSingleton {
		a.mu.Lock()
		if existing, ok := a.singletons[sourceID]; ok {
			a.mu.Unlock()
			return existing, false, nil
		}
		a.mu.Unlock()
	}

	caller, err := dial(ctx, cfg)
	if err != nil {
		return nil, false, err
	}

	if cfg.LifecycleMode == tools.MCPLifecycleSingleton {
		a.mu.Lock()
		a.singletons[sourceID] = caller
		a.mu.Unlock()
		return caller, false, nil
	}
	return caller, true, nil
}

func (a *Adapter) evictSingleton(sourceID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.singletons[sourceID]; ok {
		c.Close()
		delete(a.singletons, sourceID)
	}
}

func dial(ctx context.Context, cfg *tools.MCPConfig) (Caller, error) {
	switch cfg.Transport {
	case tools.MCPTransportStdio:
		var env []string
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		return NewStdioCaller(ctx, StdioOptions{
			Command:     cfg.Command,
			Args:        cfg.Args,
			Env:         env,
			Dir:         cfg.PluginDir,
			InitTimeout: 10 * time.Second,
		})
	case tools.MCPTransportHTTP:
		return NewHTTPCaller(ctx, HTTPOptions{
			Endpoint:    cfg.ServerURL,
			InitTimeout: 10 * time.Second,
		})
	default:
		return nil, toolserr.Newf(toolserr.KindValidation, "unsupported mcp transport %q", cfg.Transport)
	}
}

// Close releases every cached SINGLETON connection, for graceful shutdown.
func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, c := range a.singletons {
		c.Close()
		delete(a.singletons, id)
	}
}

func inventoryHash(defs []tools.ToolDefinition) string {
	b, _ := json.Marshal(defs)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:16]
}
