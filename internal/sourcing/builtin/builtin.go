// Package builtin implements the Built-in Source Adapter of spec §4.6.3: a
// fixed catalogue of utility tools registered in code, flagged with the
// builtin:// source_path scheme the Executor uses to short-circuit local
// execution instead of proxying upstream.
package builtin

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"goa.design/tools-provider/internal/builtintools"
	"goa.design/tools-provider/internal/secrets"
	"goa.design/tools-provider/internal/sourcing"
	"goa.design/tools-provider/internal/tools"
)

// schemas gives each catalogue entry a minimal input schema; §4.11 leaves
// per-tool argument shapes to the implementation.
var schemas = map[string]map[string]any{
	"fetch_url":         objSchema(req("url"), prop("url", "string"), prop("download_only", "boolean")),
	"current_time":      objSchema(nil, prop("timezone", "string"), prop("format", "string")),
	"calculate":         objSchema(req("expression"), prop("expression", "string")),
	"generate_uuid":     objSchema(nil),
	"encode_text":       objSchema(req("text", "encoding"), prop("text", "string"), prop("encoding", "string"), prop("direction", "string")),
	"write_file":        objSchema(req("name", "content"), prop("name", "string"), prop("content", "string"), prop("binary", "boolean")),
	"read_file":         objSchema(req("name"), prop("name", "string")),
	"spreadsheet_read":  objSchema(req("name"), prop("name", "string"), prop("sheet", "string"), prop("offset", "integer"), prop("limit", "integer"), prop("columns", "array")),
	"spreadsheet_write": objSchema(req("name", "mode"), prop("name", "string"), prop("mode", "string"), prop("sheet", "string"), prop("rows", "array"), prop("row", "integer"), prop("column", "integer"), prop("value", "string")),
	"memory_get":        objSchema(req("key"), prop("key", "string")),
	"memory_set":        objSchema(req("key", "value"), prop("key", "string"), prop("value", "string"), prop("ttl_days", "number")),
	"run_code":          objSchema(req("code"), prop("code", "string")),
	"ask_human":         objSchema(req("question"), prop("question", "string")),
}

func prop(name, typ string) map[string]any { return map[string]any{name: map[string]any{"type": typ}} }

func req(names ...string) []string { return names }

func objSchema(required []string, props ...map[string]any) map[string]any {
	merged := map[string]any{}
	for _, p := range props {
		for k, v := range p {
			merged[k] = v
		}
	}
	s := map[string]any{"type": "object", "properties": merged}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// Adapter implements sourcing.Adapter over a builtintools.Registry.
type Adapter struct {
	registry *builtintools.Registry
}

// New constructs an Adapter exposing every tool in registry.
func New(registry *builtintools.Registry) *Adapter {
	return &Adapter{registry: registry}
}

var _ sourcing.Adapter = (*Adapter)(nil)

// ValidateURL always succeeds: built-in sources have no upstream to reach.
func (a *Adapter) ValidateURL(_ context.Context, _ string, _ *secrets.AuthConfig) (bool, error) {
	return true, nil
}

// FetchAndNormalize returns the fixed catalogue as ToolDefinitions.
func (a *Adapter) FetchAndNormalize(_ context.Context, _ string, _ *secrets.AuthConfig, _ string, _ *tools.MCPConfig) (sourcing.IngestionResult, error) {
	names := a.registry.Names()
	sort.Strings(names)

	defs := make([]tools.ToolDefinition, 0, len(names))
	for _, name := range names {
		schema, ok := schemas[name]
		if !ok {
			schema = objSchema(nil)
		}
		defs = append(defs, tools.ToolDefinition{
			Name:        name,
			Description: "built-in " + name,
			InputSchema: schema,
			SourcePath:  tools.BuiltinScheme + name,
			Execution: tools.ExecutionProfile{
				Mode:        tools.ModeBuiltin,
				URLTemplate: tools.BuiltinScheme + name,
			},
		})
	}

	return sourcing.IngestionResult{
		Tools:         defs,
		InventoryHash: hashNames(names),
		Success:       true,
	}, nil
}

func hashNames(names []string) string {
	sum := sha256.Sum256([]byte(strings.Join(names, ",")))
	return hex.EncodeToString(sum[:])[:16]
}
