package executor

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/tools-provider/internal/builtintools"
	"goa.design/tools-provider/internal/circuitbreaker"
	"goa.design/tools-provider/internal/schema"
	"goa.design/tools-provider/internal/tools"
)

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	dir := t.TempDir()
	builtinRegistry := builtintools.NewRegistry(dir, builtintools.NewMemoryStore(dir, nil, nil), builtintools.NewFetcher(dir), builtintools.NewSandbox())
	return New(schema.New(true), circuitbreaker.NewRegistry(), nil, nil, builtinRegistry, nil)
}

func TestExecute_SyncHTTPSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "42", "name": "widget"}`))
	}))
	defer srv.Close()

	exec := newTestExecutor(t)
	in := ExecuteInput{
		ToolID: "src:get_widget",
		Definition: tools.ToolDefinition{
			Name:        "get_widget",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{"id": map[string]any{"type": "string"}}, "required": []any{"id"}},
			Execution:   tools.ExecutionProfile{Mode: tools.ModeSyncHTTP, Method: "GET", URLTemplate: srv.URL + "/widgets/{{ id }}"},
		},
		Arguments: map[string]any{"id": "42"},
		SourceID:  "src",
		AuthMode:  tools.AuthNone,
	}

	result := exec.Execute(t.Context(), in)
	require.Equal(t, "completed", result.Status)
	assert.Equal(t, 200, result.UpstreamStatus)
}

func TestExecute_SyncHTTPClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "bad request"}`))
	}))
	defer srv.Close()

	exec := newTestExecutor(t)
	in := ExecuteInput{
		ToolID: "src:get_widget",
		Definition: tools.ToolDefinition{
			Name:        "get_widget",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
			Execution:   tools.ExecutionProfile{Mode: tools.ModeSyncHTTP, Method: "GET", URLTemplate: srv.URL},
		},
		SourceID: "src",
		AuthMode: tools.AuthNone,
	}

	result := exec.Execute(t.Context(), in)
	assert.Equal(t, "failed", result.Status)
	assert.Equal(t, 400, result.UpstreamStatus)
}

func TestExecute_SyncHTTPServerErrorIsRetryableUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	exec := newTestExecutor(t)
	in := ExecuteInput{
		ToolID: "src:op",
		Definition: tools.ToolDefinition{
			Name:        "op",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
			Execution:   tools.ExecutionProfile{Mode: tools.ModeSyncHTTP, Method: "GET", URLTemplate: srv.URL},
		},
		SourceID: "src-500",
		AuthMode: tools.AuthNone,
	}

	result := exec.Execute(t.Context(), in)
	assert.Equal(t, "failed", result.Status)
	require.NotNil(t, result.Error)
	assert.Equal(t, "UPSTREAM_ERROR", result.Error.ErrorCode)
}

func TestExecute_ValidationFailureNeverReachesUpstream(t *testing.T) {
	exec := newTestExecutor(t)
	in := ExecuteInput{
		ToolID: "src:op",
		Definition: tools.ToolDefinition{
			Name:        "op",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{"id": map[string]any{"type": "string"}}, "required": []any{"id"}},
			Execution:   tools.ExecutionProfile{Mode: tools.ModeSyncHTTP, Method: "GET", URLTemplate: "http://example.invalid/{{ id }}"},
		},
		Arguments: map[string]any{},
		SourceID:  "src",
		AuthMode:  tools.AuthNone,
	}

	result := exec.Execute(t.Context(), in)
	assert.Equal(t, "failed", result.Status)
	require.NotNil(t, result.Error)
	assert.Equal(t, "VALIDATION_ERROR", result.Error.ErrorCode)
}

func TestExecute_BuiltinShortCircuitSkipsHTTP(t *testing.T) {
	exec := newTestExecutor(t)
	in := ExecuteInput{
		ToolID: "builtin:generate_uuid",
		Definition: tools.ToolDefinition{
			Name:        "generate_uuid",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
			SourcePath:  "builtin://generate_uuid",
			Execution:   tools.ExecutionProfile{Mode: tools.ModeBuiltin, URLTemplate: "builtin://generate_uuid"},
		},
		SourceID: "builtin",
		AuthMode: tools.AuthNone,
	}

	result := exec.Execute(t.Context(), in)
	assert.Equal(t, "completed", result.Status)
	assert.Len(t, result.Result.(string), 36)
}

func TestExecute_AsyncPollResolvesToCompleted(t *testing.T) {
	polls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/trigger":
			w.Write([]byte(`{"job_id": "abc"}`))
		case "/status/abc":
			polls++
			if polls < 2 {
				w.Write([]byte(`{"state": "running"}`))
			} else {
				w.Write([]byte(`{"state": "done", "output": {"url": "https://example.com/result"}}`))
			}
		}
	}))
	defer srv.Close()

	exec := newTestExecutor(t)
	in := ExecuteInput{
		ToolID: "src:long_job",
		Definition: tools.ToolDefinition{
			Name:        "long_job",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
			Execution: tools.ExecutionProfile{
				Mode:        tools.ModeAsyncPoll,
				Method:      "POST",
				URLTemplate: srv.URL + "/trigger",
				PollConfig: &tools.PollConfig{
					StatusURLTemplate:   srv.URL + "/status/{{ job_id }}",
					StatusFieldPath:     "state",
					ResultFieldPath:     "output",
					CompletedValues:     []string{"done"},
					FailedValues:        []string{"error"},
					PollIntervalSeconds: 0.01,
					MaxIntervalSeconds:  0.05,
					BackoffMultiplier:   1.5,
					MaxPollAttempts:     10,
				},
			},
		},
		SourceID: "src-poll",
		AuthMode: tools.AuthNone,
	}

	result := exec.Execute(t.Context(), in)
	require.Equal(t, "completed", result.Status)
	assert.NotNil(t, result.Result)
}
