// Package builtintools implements the concrete built-in tool catalogue of
// spec §4.11: a name-to-function dispatch table running in-process, scoped
// per user via the context extracted from the agent token.
package builtintools

import (
	"context"
	"sync"
	"time"

	"goa.design/tools-provider/internal/userctx"
)

// Result is the uniform outcome of a built-in tool invocation.
type Result struct {
	Success bool
	Output  any
	Error   string
}

// Func is the signature every built-in tool implements.
type Func func(ctx context.Context, args map[string]any, user userctx.Context) (Result, error)

// Registry is the name-to-function dispatch table (§4.11).
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry constructs the concrete catalogue named in SPEC_FULL: one
// tool per category so the dispatch table and per-category invariants are
// exercised end-to-end.
func NewRegistry(workspaceRoot string, memory *MemoryStore, fetcher *Fetcher, sandbox *Sandbox) *Registry {
	r := &Registry{funcs: make(map[string]Func)}

	r.Register("fetch_url", fetcher.FetchURL)
	r.Register("current_time", CurrentTime)
	r.Register("calculate", Calculate)
	r.Register("generate_uuid", GenerateUUID)
	r.Register("encode_text", EncodeText)

	files := &FileTools{root: workspaceRoot}
	r.Register("write_file", files.WriteFile)
	r.Register("read_file", files.ReadFile)

	sheets := &SpreadsheetTools{root: workspaceRoot}
	r.Register("spreadsheet_read", sheets.Read)
	r.Register("spreadsheet_write", sheets.Write)

	r.Register("memory_get", memory.Get)
	r.Register("memory_set", memory.Set)

	r.Register("run_code", sandbox.Run)
	r.Register("ask_human", AskHuman)

	return r
}

// Register adds or replaces a built-in tool by name.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

// Lookup returns the function registered for name, if any.
func (r *Registry) Lookup(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// Names returns every registered tool name, for inventory listing by the
// built-in Source Adapter.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	return names
}

// Run dispatches to the named tool, reporting an unknown-tool Result rather
// than an error so callers get a uniform Result/error pairing.
func (r *Registry) Run(ctx context.Context, name string, args map[string]any, user userctx.Context) (Result, error) {
	fn, ok := r.Lookup(name)
	if !ok {
		return Result{Success: false, Error: "unknown built-in tool: " + name}, nil
	}
	return fn(ctx, args, user)
}

const fileWorkspaceTTL = 24 * time.Hour
