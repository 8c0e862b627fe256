// Package wire defines concrete Go types for the conversation channel's
// wire protocol (spec §6): every message is a JSON object with a "type"
// field and a typed "payload", letting the Conversation Orchestrator emit
// real structs instead of map[string]any.
package wire

import "encoding/json"

// Type enumerates every wire message type named in §6 (non-exhaustive
// there; this is the concrete superset SPEC_FULL implements).
type Type string

const (
	TypeConversationConfig Type = "control.conversation.config"
	TypeFlowChatInput      Type = "control.flow.chatInput"
	TypeItemContext        Type = "control.item.context"
	TypeWidgetRender       Type = "control.widget.render"
	TypeContentChunk       Type = "data.content.chunk"
	TypeContentComplete    Type = "data.content.complete"
	TypeToolCall           Type = "data.tool.call"
	TypeToolResult         Type = "data.tool.result"
	TypeMessageAck         Type = "data.message.ack"
	TypeResponseAck        Type = "data.response.ack"
	TypeSystemError        Type = "system.error"
)

// Message is the envelope every wire message is marshaled as.
type Message struct {
	Type    Type `json:"type"`
	Payload any  `json:"payload"`
}

// Marshal encodes a typed payload into its enclosing Message envelope.
func Marshal(t Type, payload any) ([]byte, error) {
	return json.Marshal(Message{Type: t, Payload: payload})
}

// ConversationConfigPayload is sent once on connect (§4.12 step 5, §6).
type ConversationConfigPayload struct {
	TemplateID                  string `json:"templateId,omitempty"`
	TemplateName                 string `json:"templateName,omitempty"`
	TotalItems                   int    `json:"totalItems"`
	DisplayMode                  string `json:"displayMode,omitempty"`
	ShowConversationHistory       bool   `json:"showConversationHistory"`
	AllowBackwardNavigation       bool   `json:"allowBackwardNavigation"`
	AllowConcurrentItemWidgets    bool   `json:"allowConcurrentItemWidgets"`
	AllowSkip                     bool   `json:"allowSkip"`
	EnableChatInputInitially      bool   `json:"enableChatInputInitially"`
	DisplayProgressIndicator      bool   `json:"displayProgressIndicator"`
	DisplayFinalScoreReport       bool   `json:"displayFinalScoreReport"`
	ContinueAfterCompletion       bool   `json:"continueAfterCompletion"`
}

// FlowChatInputPayload toggles chat input enablement.
type FlowChatInputPayload struct {
	Enabled bool `json:"enabled"`
}

// ItemContextPayload describes a presented template item (§4.12 step 2).
type ItemContextPayload struct {
	ItemID                    string `json:"itemId"`
	ItemIndex                 int    `json:"itemIndex"`
	TotalItems                int    `json:"totalItems"`
	ItemTitle                 string `json:"itemTitle,omitempty"`
	EnableChatInput           bool   `json:"enableChatInput"`
	TimeLimitSeconds          *int   `json:"timeLimitSeconds,omitempty"`
	ShowRemainingTime         bool   `json:"showRemainingTime"`
	WidgetCompletionBehavior  string `json:"widgetCompletionBehavior,omitempty"`
	ConversationDeadline      *string `json:"conversationDeadline,omitempty"`
}

// WidgetRenderPayload describes one rendered widget (§4.12 step 3).
type WidgetRenderPayload struct {
	ItemID           string         `json:"itemId"`
	WidgetID         string         `json:"widgetId"`
	WidgetType       string         `json:"widgetType"`
	Stem             string         `json:"stem,omitempty"`
	Options          []WidgetOption `json:"options,omitempty"`
	WidgetConfig     map[string]any `json:"widgetConfig,omitempty"`
	Required         bool           `json:"required"`
	Skippable        bool           `json:"skippable"`
	InitialValue     any            `json:"initialValue,omitempty"`
	ShowUserResponse bool           `json:"showUserResponse"`
	Layout           string         `json:"layout,omitempty"`
	Constraints      map[string]any `json:"constraints,omitempty"`
}

// WidgetOption is one selectable option of a choice-style widget.
type WidgetOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// ContentChunkPayload is a partial assistant response chunk.
type ContentChunkPayload struct {
	Content   string `json:"content"`
	MessageID string `json:"messageId"`
	Final     bool   `json:"final"`
}

// ContentCompletePayload is the fully accumulated assistant message.
type ContentCompletePayload struct {
	MessageID   string `json:"messageId"`
	Role        string `json:"role"`
	FullContent string `json:"fullContent"`
}

// ToolCallPayload announces a tool invocation started by the LLM run.
type ToolCallPayload struct {
	CallID    string         `json:"callId"`
	ToolName  string         `json:"toolName"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResultPayload announces a tool invocation's outcome.
type ToolResultPayload struct {
	CallID          string `json:"callId"`
	ToolName        string `json:"toolName"`
	Success         bool   `json:"success"`
	Result          any    `json:"result,omitempty"`
	ExecutionTimeMs int64  `json:"executionTimeMs"`
}

// AckPayload acknowledges an inbound client message.
type AckPayload struct {
	Status string         `json:"status"`
	Extra  map[string]any `json:"-"`
}

// MarshalJSON flattens Extra alongside Status so the ack payload can carry
// additional fields (e.g. a pending assistant message id) without a second
// type per ack kind.
func (a AckPayload) MarshalJSON() ([]byte, error) {
	out := map[string]any{"status": a.Status}
	for k, v := range a.Extra {
		out[k] = v
	}
	return json.Marshal(out)
}

// SystemErrorPayload reports a terminal error to the client (§6, §7).
type SystemErrorPayload struct {
	Category    string `json:"category"`
	Code        string `json:"code"`
	Message     string `json:"message"`
	IsRetryable bool   `json:"isRetryable"`
}

// InboundType enumerates client-to-server message types the Orchestrator
// consumes (§4.12): chat messages, widget responses, and flow controls.
type InboundType string

const (
	InboundChatMessage    InboundType = "chat.message"
	InboundWidgetResponse InboundType = "widget.response"
	InboundFlowBegin      InboundType = "flow.begin"
	InboundFlowPause      InboundType = "flow.pause"
	InboundFlowResume     InboundType = "flow.resume"
	InboundFlowCancel     InboundType = "flow.cancel"
	InboundModelChange    InboundType = "flow.modelChange"
)

// Inbound is the envelope for every client-to-server message.
type Inbound struct {
	Type    InboundType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ChatMessagePayload carries a reactive user chat message.
type ChatMessagePayload struct {
	Content string `json:"content"`
}

// WidgetResponsePayload carries a client's response to a rendered widget.
type WidgetResponsePayload struct {
	ItemID   string `json:"itemId"`
	WidgetID string `json:"widgetId"`
	Value    any    `json:"value"`
}

// ModelChangePayload requests switching the active LLM model.
type ModelChangePayload struct {
	ModelID string `json:"modelId"`
}
