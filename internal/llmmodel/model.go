// Package llmmodel defines the provider-agnostic message and streaming types
// consumed by the Agent-Host Orchestrator (§4.12) and implemented by its LLM
// provider adapters (internal/llmprovider/anthropic). Trimmed from the
// teacher's runtime/agent/model package down to the parts the conversation
// flow actually exercises: text, thinking, and tool use/result content.
package llmmodel

import (
	"context"
	"encoding/json"
	"errors"
)

// Ident identifies a tool by its canonical name as seen by the model.
type Ident string

func (i Ident) String() string { return string(i) }

// ToolUnavailable is the sentinel tool name name-mapping falls back to when a
// requested tool cannot be resolved to a provider-safe identifier.
const ToolUnavailable Ident = "tool_unavailable"

// ConversationRole is the role for a message in a conversation.
type ConversationRole string

const (
	ConversationRoleSystem    ConversationRole = "system"
	ConversationRoleUser      ConversationRole = "user"
	ConversationRoleAssistant ConversationRole = "assistant"
)

// Part is a marker interface implemented by all message parts.
type Part interface{ isPart() }

// TextPart is a plain text content block in a message.
type TextPart struct{ Text string }

// ThinkingPart represents provider-issued reasoning content.
type ThinkingPart struct {
	Text      string
	Signature string
	Redacted  []byte
	Index     int
	Final     bool
}

// ToolUsePart declares a tool invocation by the assistant.
type ToolUsePart struct {
	ID    string
	Name  string
	Input any
}

// ToolResultPart carries a tool result provided by the user side.
type ToolResultPart struct {
	ToolUseID string
	Content   any
	IsError   bool
}

func (TextPart) isPart()       {}
func (ThinkingPart) isPart()   {}
func (ToolUsePart) isPart()    {}
func (ToolResultPart) isPart() {}

// Message is a single chat message.
type Message struct {
	Role  ConversationRole
	Parts []Part
	Meta  map[string]any
}

// ToolDefinition describes a tool exposed to the model.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema any
}

// ToolCall is a requested tool invocation from the model.
type ToolCall struct {
	Name    Ident
	Payload json.RawMessage
	ID      string
}

// ToolCallDelta is an incremental tool-call payload fragment streamed by
// providers while still constructing the full tool input JSON.
type ToolCallDelta struct {
	Name  Ident
	ID    string
	Delta string
}

// ToolChoiceMode controls how the model uses tools for a request.
type ToolChoiceMode string

const (
	ToolChoiceModeAuto ToolChoiceMode = "auto"
	ToolChoiceModeNone ToolChoiceMode = "none"
	ToolChoiceModeAny  ToolChoiceMode = "any"
	ToolChoiceModeTool ToolChoiceMode = "tool"
)

// ToolChoice configures optional tool-use behavior for a Request.
type ToolChoice struct {
	Mode ToolChoiceMode
	Name string
}

// TokenUsage tracks token counts for a model call.
type TokenUsage struct {
	InputTokens      int
	OutputTokens     int
	TotalTokens      int
	CacheReadTokens  int
	CacheWriteTokens int
}

// ThinkingOptions configures provider thinking behavior.
type ThinkingOptions struct {
	Enable       bool
	Interleaved  bool
	BudgetTokens int
}

// ModelClass identifies the model family.
type ModelClass string

const (
	ModelClassHighReasoning ModelClass = "high-reasoning"
	ModelClassDefault       ModelClass = "default"
	ModelClassSmall         ModelClass = "small"
)

// Request captures inputs for a model invocation.
type Request struct {
	RunID       string
	Model       string
	ModelClass  ModelClass
	Messages    []*Message
	Temperature float32
	Tools       []*ToolDefinition
	ToolChoice  *ToolChoice
	MaxTokens   int
	Stream      bool
	Thinking    *ThinkingOptions
}

// Response is the result of a non-streaming invocation.
type Response struct {
	Content    []Message
	ToolCalls  []ToolCall
	Usage      TokenUsage
	StopReason string
}

// Chunk is a streaming event from the model.
type Chunk struct {
	Type          string
	Message       *Message
	Thinking      string
	ToolCall      *ToolCall
	ToolCallDelta *ToolCallDelta
	UsageDelta    *TokenUsage
	StopReason    string
}

const (
	ChunkTypeText          = "text"
	ChunkTypeToolCall      = "tool_call"
	ChunkTypeToolCallDelta = "tool_call_delta"
	ChunkTypeThinking      = "thinking"
	ChunkTypeUsage         = "usage"
	ChunkTypeStop          = "stop"
)

// Client is the provider-agnostic model client.
type Client interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
	Stream(ctx context.Context, req *Request) (Streamer, error)
}

// Streamer delivers incremental model output.
type Streamer interface {
	Recv() (Chunk, error)
	Close() error
	Metadata() map[string]any
}

// ErrStreamingUnsupported indicates the provider does not support streaming.
var ErrStreamingUnsupported = errors.New("llmmodel: streaming not supported")

// ErrRateLimited indicates the provider rejected the request due to rate
// limiting after exhausting any configured retries.
var ErrRateLimited = errors.New("llmmodel: rate limited")
