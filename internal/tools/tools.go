// Package tools defines the normalized tool data model shared by every
// source adapter, the inventory reconciler, and the executor: ToolDefinition,
// ExecutionProfile, and PollConfig from spec §3.
package tools

import "time"

// ExecutionMode selects how the executor dispatches a ToolDefinition.
type ExecutionMode string

const (
	ModeSyncHTTP  ExecutionMode = "SYNC_HTTP"
	ModeAsyncPoll ExecutionMode = "ASYNC_POLL"
	ModeMCPCall   ExecutionMode = "MCP_CALL"
	ModeBuiltin   ExecutionMode = "BUILTIN"
)

// PollConfig describes asynchronous completion polling for ASYNC_POLL tools.
type PollConfig struct {
	StatusURLTemplate   string   `json:"status_url_template"`
	StatusFieldPath     string   `json:"status_field_path"`
	ResultFieldPath     string   `json:"result_field_path"`
	CompletedValues     []string `json:"completed_values"`
	FailedValues        []string `json:"failed_values"`
	PollIntervalSeconds float64  `json:"poll_interval_seconds"`
	MaxIntervalSeconds  float64  `json:"max_interval_seconds"`
	BackoffMultiplier   float64  `json:"backoff_multiplier"`
	MaxPollAttempts     int      `json:"max_poll_attempts"`
}

// ExecutionProfile describes how a ToolDefinition is invoked.
type ExecutionProfile struct {
	Mode             ExecutionMode     `json:"mode"`
	Method           string            `json:"method"`
	URLTemplate      string            `json:"url_template"`
	HeadersTemplate  map[string]string `json:"headers_template,omitempty"`
	BodyTemplate     string            `json:"body_template,omitempty"`
	ContentType      string            `json:"content_type,omitempty"`
	RequiredAudience string            `json:"required_audience,omitempty"`
	RequiredScopes   []string          `json:"required_scopes,omitempty"`
	TimeoutSeconds   float64           `json:"timeout_seconds,omitempty"`
	PollConfig       *PollConfig       `json:"poll_config,omitempty"`
	// ResponseMapping maps an output field name to a dotted path into the
	// upstream JSON response (e.g. "url" -> "data.output.0.url").
	ResponseMapping map[string]string `json:"response_mapping,omitempty"`
	// MCPToolName is the MCP-local tool identifier to invoke when Mode is
	// MODE_MCP_CALL; URLTemplate is unused in that mode.
	MCPToolName string `json:"mcp_tool_name,omitempty"`
}

// BuiltinScheme is the URL-template scheme that flags a ToolDefinition as
// locally executed rather than proxied upstream (§4.10 step 2, §4.6.3).
const BuiltinScheme = "builtin://"

// IsBuiltin reports whether the profile's URL template uses the built-in
// short-circuit scheme.
func (p ExecutionProfile) IsBuiltin() bool {
	return p.Mode == ModeBuiltin || len(p.URLTemplate) >= len(BuiltinScheme) && p.URLTemplate[:len(BuiltinScheme)] == BuiltinScheme
}

// ToolDefinition is the normalized shape for any callable operation,
// regardless of originating source.
type ToolDefinition struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	InputSchema map[string]any   `json:"input_schema"`
	SourcePath  string           `json:"source_path"`
	Tags        []string         `json:"tags,omitempty"`
	Deprecated  bool             `json:"deprecated"`
	Execution   ExecutionProfile `json:"execution_profile"`
}

// ID returns the aggregate key "source_id:name" used throughout §3/§6/§8.
func ID(sourceID, name string) string { return sourceID + ":" + name }

// SourceType enumerates the kinds of upstream a SourceAggregate can bind to.
type SourceType string

const (
	SourceTypeOpenAPI SourceType = "OPENAPI"
	SourceTypeMCP     SourceType = "MCP"
	SourceTypeBuiltin SourceType = "BUILTIN"
)

// AuthMode enumerates the four authentication bridging modes of §3/§4.10.
type AuthMode string

const (
	AuthNone               AuthMode = "NONE"
	AuthAPIKey             AuthMode = "API_KEY"
	AuthHTTPBasic          AuthMode = "HTTP_BASIC"
	AuthClientCredentials  AuthMode = "CLIENT_CREDENTIALS"
	AuthTokenExchange      AuthMode = "TOKEN_EXCHANGE"
)

// MCPLifecycleMode controls whether an MCP transport is closed after one
// fetch (TRANSIENT) or held open across refreshes (SINGLETON), per §4.6.2.
type MCPLifecycleMode string

const (
	MCPLifecycleTransient MCPLifecycleMode = "TRANSIENT"
	MCPLifecycleSingleton MCPLifecycleMode = "SINGLETON"
)

// MCPTransport selects stdio (local plugin) or HTTP (remote server) framing.
type MCPTransport string

const (
	MCPTransportStdio MCPTransport = "STDIO"
	MCPTransportHTTP  MCPTransport = "HTTP"
)

// MCPConfig carries the plugin directory / command / environment bindings
// needed to connect to an MCP server (§3 SourceAggregate.mcp_config).
type MCPConfig struct {
	PluginDir     string            `json:"plugin_dir,omitempty"`
	Command       string            `json:"command,omitempty"`
	Args          []string          `json:"args,omitempty"`
	Env           map[string]string `json:"env,omitempty"`
	ServerURL     string            `json:"server_url,omitempty"`
	Transport     MCPTransport      `json:"transport"`
	LifecycleMode MCPLifecycleMode  `json:"lifecycle_mode"`
}

// HealthStatus mirrors the coarse up/down/degraded signal persisted on a
// SourceAggregate after each reconciliation.
type HealthStatus string

const (
	HealthHealthy     HealthStatus = "HEALTHY"
	HealthDegraded    HealthStatus = "DEGRADED"
	HealthUnreachable HealthStatus = "UNREACHABLE"
)

// SourceAggregate is the persistent record of an upstream source (§3).
// Mutation happens only through command handlers in internal/inventory;
// callers must never mutate fields directly.
type SourceAggregate struct {
	ID                 string
	Name               string
	URL                string
	SpecURL            string
	SourceType         SourceType
	AuthMode           AuthMode
	DefaultAudience    string
	RequiredScopes     []string
	MCPConfig          *MCPConfig
	HealthStatus       HealthStatus
	IsEnabled          bool
	InventoryHash      string
	LastSyncAt         time.Time
	LastSyncError      string
	ConsecutiveFailures int
}

// ToolStatus enumerates the lifecycle states of a ToolAggregate (§3).
type ToolStatus string

const (
	ToolStatusActive     ToolStatus = "ACTIVE"
	ToolStatusDeprecated ToolStatus = "DEPRECATED"
	ToolStatusDeleted    ToolStatus = "DELETED"
)

// ToolAggregate is the persistent record of one tool bound to a source.
type ToolAggregate struct {
	SourceID     string
	Definition   ToolDefinition
	IsEnabled    bool
	Status       ToolStatus
	LabelIDs     []string
	DiscoveredAt time.Time
	LastSeenAt   time.Time
	UpdatedAt    time.Time
}

// Key returns the aggregate key "source_id:name".
func (t ToolAggregate) Key() string { return ID(t.SourceID, t.Definition.Name) }
