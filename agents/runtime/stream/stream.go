// Package stream contains streaming abstractions for agent interactions:
// a Sink clients implement to receive typed events, and the concrete event
// types the runtime emits (assistant replies, planner thoughts, tool
// start/end).
package stream

import "context"

// Sink delivers streaming updates (planner thoughts, tool statuses, assistant messages) to clients.
type Sink interface {
	Send(ctx context.Context, event Event) error
	Close(ctx context.Context) error
}

// EventType enumerates stream payload flavors.
type EventType string

const (
	// EventPlannerThought streams planner reasoning snippets.
	EventPlannerThought EventType = "planner_thought"
	// EventToolStart streams a tool call's scheduling.
	EventToolStart EventType = "tool_start"
	// EventToolEnd streams a tool call's outcome.
	EventToolEnd EventType = "tool_end"
	// EventAssistantReply streams assistant responses incrementally.
	EventAssistantReply EventType = "assistant_reply"
)

// Event is the interface every concrete stream event satisfies so a Sink can
// accept any of them through one Send method.
type Event interface {
	Type() EventType
	Run() string
	Payload() any
}

// Base carries the metadata common to every concrete stream event.
type Base struct {
	T EventType
	R string
	P any
}

func (b Base) Type() EventType { return b.T }
func (b Base) Run() string     { return b.R }
func (b Base) Payload() any    { return b.P }

// AssistantReply streams an assistant response chunk or final message.
type AssistantReply struct {
	Base
	Text string
}

// PlannerThought streams a planner's intermediate reasoning note.
type PlannerThought struct {
	Base
	Note string
}

// ToolStartPayload describes a tool call as it is scheduled.
type ToolStartPayload struct {
	ToolCallID            string
	ToolName              string
	Payload               any
	Queue                 string
	ParentToolCallID      string
	ExpectedChildrenTotal int
}

// ToolStart streams a tool call's scheduling.
type ToolStart struct {
	Base
	Data ToolStartPayload
}

// ToolEndPayload describes a tool call's outcome.
type ToolEndPayload struct {
	ToolCallID       string
	ParentToolCallID string
	ToolName         string
	Result           any
	Duration         int64
	Error            *ToolError
}

// ToolError is the minimal error shape streamed alongside a failed tool call.
type ToolError struct {
	Message   string
	ErrorCode string
}

// ToolEnd streams a tool call's outcome.
type ToolEnd struct {
	Base
	Data ToolEndPayload
}
