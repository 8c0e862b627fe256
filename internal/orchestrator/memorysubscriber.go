package orchestrator

import (
	"context"
	"time"

	"goa.design/tools-provider/agents/runtime/hooks"
	"goa.design/tools-provider/agents/runtime/memory"
)

// MemorySubscriber adapts the hooks.Bus to a memory.Store, recording every
// run-lifecycle event it receives as a durable memory.Event. Registering it
// on an Orchestrator's hooks.Bus is what turns "this conversation happened"
// into a queryable history a planner or operator can load back with
// memory.Store.LoadRun.
type MemorySubscriber struct {
	Store memory.Store
}

// HandleEvent implements hooks.Subscriber.
func (m *MemorySubscriber) HandleEvent(ctx context.Context, event hooks.Event) error {
	evt := memory.Event{Timestamp: time.Now(), Labels: map[string]string{"agent_id": event.AgentID()}}

	switch e := event.(type) {
	case *hooks.RunStartedEvent:
		evt.Type = memory.EventUserMessage
		evt.Data = e.Input
	case *hooks.ToolCallScheduledEvent:
		evt.Type = memory.EventToolCall
		evt.Data = map[string]any{"tool": e.ToolName, "payload": e.Payload}
	case *hooks.ToolResultReceivedEvent:
		evt.Type = memory.EventToolResult
		evt.Data = e.Result
		if e.Error != nil {
			evt.Labels["error"] = e.Error.Message
		}
	case *hooks.AssistantMessageEvent:
		evt.Type = memory.EventAssistantMessage
		evt.Data = e.Message
	case *hooks.RunCompletedEvent:
		evt.Type = memory.EventAnnotation
		evt.Data = e.Status
	default:
		return nil
	}

	return m.Store.AppendEvents(ctx, event.AgentID(), event.RunID(), evt)
}
