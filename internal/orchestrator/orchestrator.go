package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"goa.design/tools-provider/agents/runtime/hooks"
	"goa.design/tools-provider/agents/runtime/policy"
	"goa.design/tools-provider/agents/runtime/session"
	"goa.design/tools-provider/internal/executor"
	model "goa.design/tools-provider/internal/llmmodel"
	"goa.design/tools-provider/internal/telemetry"
	"goa.design/tools-provider/internal/toolserr"
	"goa.design/tools-provider/internal/wire"
)

// ModelFactory validates and resolves a model id requested via flow.modelChange
// against the set of models the provider supports (§4.12 "Pause/resume/cancel").
type ModelFactory interface {
	Resolve(modelID string) (string, bool)
}

// Orchestrator implements the Conversation Orchestrator of §4.12, wiring
// together the catalogue, tool executor, LLM client, and the persistence
// command facade behind one ConversationContext per connection.
type Orchestrator struct {
	Conversations ConversationRepository
	Definitions   DefinitionRepository
	Templates     TemplateRepository
	Catalogue     *Catalogue
	Commands      Commands
	Executor      *executor.Executor
	Client        model.Client
	Models        ModelFactory
	Logger        telemetry.Logger
	// Hooks, when set, receives run lifecycle events (started, tool calls,
	// completion) for observability and memory subscribers. Nil disables
	// publication entirely.
	Hooks *hooks.Bus
	// Policy bounds each run's tool-call budget, filtering the tools a
	// turn may invoke. Nil disables enforcement (every bound tool stays
	// callable for the run's full duration).
	Policy policy.Engine
}

// New constructs an Orchestrator from its collaborators. Logger defaults to
// a noop implementation when nil.
func New(conversations ConversationRepository, definitions DefinitionRepository, templates TemplateRepository, catalogue *Catalogue, commands Commands, exec *executor.Executor, client model.Client, models ModelFactory, logger telemetry.Logger) *Orchestrator {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Orchestrator{
		Conversations: conversations,
		Definitions:   definitions,
		Templates:     templates,
		Catalogue:     catalogue,
		Commands:      commands,
		Executor:      exec,
		Client:        client,
		Models:        models,
		Logger:        logger,
	}
}

// Initialize runs §4.12's connect-time sequence: load the conversation and
// its definition, resolve the template (if any), fetch the tool catalogue,
// and return the control.conversation.config message to send. The returned
// context's State is READY (reactive) or PRESENTING (proactive); the flow
// itself has not started yet (§4.12 "Begin flow" is explicit).
func (o *Orchestrator) Initialize(ctx context.Context, connectionID, conversationID, userID, accessToken string) (*ConversationContext, wire.Type, any, error) {
	conv, found, err := o.Conversations.Get(ctx, conversationID)
	if err != nil {
		return nil, "", nil, err
	}
	if !found || conv.UserID != userID {
		return nil, "", nil, toolserr.New(toolserr.KindNotFound, "conversation not found or not owned by caller")
	}

	def, found, err := o.Definitions.Get(ctx, conv.DefinitionID)
	if err != nil {
		return nil, "", nil, err
	}
	if !found {
		return nil, "", nil, toolserr.New(toolserr.KindNotFound, "agent definition not found")
	}

	cc := &ConversationContext{
		ConnectionID:   connectionID,
		ConversationID: conversationID,
		UserID:         userID,
		AccessToken:    accessToken,
		DefinitionID:   def.ID,
		Model:          def.Model,
		State:          StateReady,
	}

	cfg := wire.ConversationConfigPayload{EnableChatInputInitially: true}

	if def.TemplateID != "" {
		tmpl, found, err := o.Templates.Get(ctx, def.TemplateID)
		if err != nil {
			return nil, "", nil, err
		}
		if found {
			cc.TemplateID = tmpl.ID
			cc.IsProactive = tmpl.AgentStartsFirst
			if cc.IsProactive {
				cc.State = StatePresenting
			}
			cfg = wire.ConversationConfigPayload{
				TemplateID:                 tmpl.ID,
				TemplateName:               tmpl.Name,
				TotalItems:                 tmpl.TotalItems,
				DisplayMode:                tmpl.DisplayMode,
				ShowConversationHistory:    tmpl.ShowConversationHistory,
				AllowBackwardNavigation:    tmpl.AllowBackwardNavigation,
				AllowConcurrentItemWidgets: tmpl.AllowConcurrentItemWidgets,
				AllowSkip:                  tmpl.AllowSkip,
				EnableChatInputInitially:   tmpl.EnableChatInputInitially,
				DisplayProgressIndicator:   tmpl.DisplayProgressIndicator,
				DisplayFinalScoreReport:    tmpl.DisplayFinalScoreReport,
				ContinueAfterCompletion:    tmpl.ContinueAfterCompletion,
			}
		}
	}

	if accessToken != "" && o.Catalogue != nil {
		aggs, err := o.Catalogue.ForAgent(ctx, def.ToolWhitelist, def.ToolBlacklist)
		if err != nil {
			return nil, "", nil, err
		}
		cc.Tools = aggs
	}

	return cc, wire.TypeConversationConfig, cfg, nil
}

// BeginFlow runs §4.12's explicit begin-flow step, returning the wire
// messages to send in order. For a reactive conversation this just enables
// chat input; for a proactive one it streams the introduction message (if
// any) and presents the first item.
func (o *Orchestrator) BeginFlow(ctx context.Context, cc *ConversationContext) ([]Msg, error) {
	if !cc.IsProactive {
		return []Msg{{wire.TypeFlowChatInput, wire.FlowChatInputPayload{Enabled: true}}}, nil
	}

	var out []Msg
	tmpl, found, err := o.Templates.Get(ctx, cc.TemplateID)
	if err != nil {
		return nil, err
	}
	if found && tmpl.IntroductionMessage != "" {
		messageID := uuid.NewString()
		out = append(out, Msg{wire.TypeContentChunk, wire.ContentChunkPayload{Content: tmpl.IntroductionMessage, MessageID: messageID, Final: false}})
		out = append(out, Msg{wire.TypeContentComplete, wire.ContentCompletePayload{MessageID: messageID, Role: "assistant", FullContent: tmpl.IntroductionMessage}})
	}

	msgs, err := o.presentItem(ctx, cc, 0)
	if err != nil {
		return nil, err
	}
	return append(out, msgs...), nil
}

// HandleReactiveMessage runs §4.12's reactive message handling: ack,
// persist the user message, drive an LLM run with tool execution bound to
// §4.10, and translate every run event to its wire message.
func (o *Orchestrator) HandleReactiveMessage(ctx context.Context, cc *ConversationContext, text string) ([]Msg, error) {
	var out []Msg
	out = append(out, Msg{wire.TypeMessageAck, wire.AckPayload{Status: "ok"}})

	pendingID, err := o.Commands.PersistUserMessage(ctx, cc.ConversationID, text)
	if err != nil {
		return nil, err
	}
	cc.PendingAssistantMessageID = pendingID
	cc.History = append(cc.History, ProviderMessage{Role: "user", Text: text})

	messages := historyToMessages(cc.History)
	sources, err := o.Catalogue.SourcesByID(ctx)
	if err != nil {
		return nil, err
	}
	bindings := ToBindings(cc.Tools, sources)

	req := &model.Request{
		RunID:    uuid.NewString(),
		Model:    cc.Model,
		Messages: messages,
		Tools:    ToLLMDefinitions(cc.Tools),
		Stream:   true,
	}

	messageID := uuid.NewString()
	var runErr error
	fullContent, runErr := driveRun(ctx, o.Client, req, o.Executor, cc.AccessToken, bindings, o.Policy, func(ev RunEvent) error {
		switch ev.Type {
		case RunStarted:
			cc.State = StateProcessing
			out = append(out, Msg{wire.TypeFlowChatInput, wire.FlowChatInputPayload{Enabled: false}})
		case RunResponseChunk:
			if ev.Chunk != "" {
				out = append(out, Msg{wire.TypeContentChunk, wire.ContentChunkPayload{Content: ev.Chunk, MessageID: messageID, Final: false}})
			}
		case RunToolExecStarted:
			out = append(out, Msg{wire.TypeToolCall, wire.ToolCallPayload{CallID: ev.CallID, ToolName: ev.ToolName, Arguments: ev.Arguments}})
		case RunToolExecCompleted:
			out = append(out, Msg{wire.TypeToolResult, wire.ToolResultPayload{CallID: ev.CallID, ToolName: ev.ToolName, Success: ev.Success, Result: ev.Result, ExecutionTimeMs: ev.ExecutionTimeMs}})
		case RunCompleted:
			out = append(out, Msg{wire.TypeContentChunk, wire.ContentChunkPayload{Content: "", MessageID: messageID, Final: true}})
			out = append(out, Msg{wire.TypeContentComplete, wire.ContentCompletePayload{MessageID: messageID, Role: "assistant", FullContent: ev.FullContent}})
			out = append(out, Msg{wire.TypeFlowChatInput, wire.FlowChatInputPayload{Enabled: true}})
			cc.State = StateReady
		case RunFailed:
			out = append(out, Msg{wire.TypeSystemError, wire.SystemErrorPayload{Category: "run", Code: "RUN_FAILED", Message: ev.Message, IsRetryable: true}})
			out = append(out, Msg{wire.TypeFlowChatInput, wire.FlowChatInputPayload{Enabled: true}})
			cc.State = StateReady
		}
		o.publishRunEvent(ctx, req.RunID, cc.DefinitionID, ev)
		return nil
	})
	if runErr != nil {
		return out, nil
	}

	if fullContent != "" && cc.PendingAssistantMessageID != "" {
		if err := o.Commands.CompleteMessage(ctx, cc.PendingAssistantMessageID, fullContent); err != nil {
			return nil, err
		}
		cc.History = append(cc.History, ProviderMessage{Role: "assistant", Text: fullContent})
		cc.PendingAssistantMessageID = ""
	}
	return out, nil
}

func historyToMessages(history []ProviderMessage) []*model.Message {
	out := make([]*model.Message, 0, len(history))
	for _, h := range history {
		role := model.ConversationRoleUser
		if h.Role == "assistant" {
			role = model.ConversationRoleAssistant
		}
		out = append(out, &model.Message{Role: role, Parts: []model.Part{model.TextPart{Text: h.Text}}})
	}
	return out
}

// HandleWidgetResponse runs §4.12's widget-response handling for proactive
// items: ack, record the response (or the synthetic confirmation), and
// advance the template once the item's completion predicate holds.
func (o *Orchestrator) HandleWidgetResponse(ctx context.Context, cc *ConversationContext, itemID, widgetID string, value any) ([]Msg, error) {
	out := []Msg{{wire.TypeResponseAck, wire.AckPayload{Status: "ok"}}}

	if cc.CurrentItem == nil || cc.CurrentItem.ItemID != itemID {
		return out, nil
	}

	if widgetID == fmt.Sprintf("%s-confirm", itemID) {
		cc.CurrentItem.UserConfirmed = true
	} else {
		cc.CurrentItem.RecordResponse(widgetID, value)
	}

	if !cc.CurrentItem.Complete() {
		return out, nil
	}

	if err := o.Commands.PersistItemResponse(ctx, cc.ConversationID, itemID, cc.CurrentItem.WidgetResponses, cc.CurrentItem.UserConfirmed); err != nil {
		return nil, err
	}
	nextIndex := cc.CurrentItem.ItemIndex + 1
	if err := o.Commands.AdvanceTemplate(ctx, cc.ConversationID, nextIndex); err != nil {
		return nil, err
	}

	msgs, err := o.presentItem(ctx, cc, nextIndex)
	if err != nil {
		return nil, err
	}
	return append(out, msgs...), nil
}

// presentItem implements §4.12's "Template item presentation" (`_present_item`).
func (o *Orchestrator) presentItem(ctx context.Context, cc *ConversationContext, index int) ([]Msg, error) {
	tmpl, found, err := o.Templates.Get(ctx, cc.TemplateID)
	if err != nil {
		return nil, err
	}
	if !found || index >= tmpl.TotalItems {
		return o.completeFlow(ctx, cc, tmpl)
	}

	item, found, err := o.Templates.GetItem(ctx, cc.TemplateID, index)
	if err != nil {
		return nil, err
	}
	if !found {
		return o.completeFlow(ctx, cc, tmpl)
	}

	var out []Msg
	out = append(out, Msg{wire.TypeItemContext, wire.ItemContextPayload{
		ItemID:                   item.ID,
		ItemIndex:                item.Index,
		TotalItems:               tmpl.TotalItems,
		ItemTitle:                item.Title,
		EnableChatInput:          false,
		TimeLimitSeconds:         item.TimeLimitSeconds,
		ShowRemainingTime:        item.ShowRemainingTime,
		WidgetCompletionBehavior: item.WidgetCompletionBehavior,
	}})

	var required []string
	for _, content := range item.Contents {
		stem := content.Stem
		if content.IsTemplated || stem != "" {
			rendered, err := o.renderStem(ctx, cc, item, content)
			if err != nil {
				return nil, err
			}
			stem = rendered
		}
		if content.WidgetType == "message" {
			messageID := uuid.NewString()
			out = append(out, Msg{wire.TypeContentChunk, wire.ContentChunkPayload{Content: stem, MessageID: messageID, Final: false}})
			out = append(out, Msg{wire.TypeContentComplete, wire.ContentCompletePayload{MessageID: messageID, Role: "assistant", FullContent: stem}})
			continue
		}
		if content.Required {
			required = append(required, content.WidgetID)
		}
		out = append(out, Msg{wire.TypeWidgetRender, wire.WidgetRenderPayload{
			ItemID:           item.ID,
			WidgetID:         content.WidgetID,
			WidgetType:       content.WidgetType,
			Stem:             stem,
			WidgetConfig:     content.WidgetConfig,
			Required:         content.Required,
			Skippable:        content.Skippable,
			InitialValue:     content.InitialValue,
			ShowUserResponse: content.ShowUserResponse,
			Layout:           content.Layout,
			Constraints:      content.Constraints,
		}})
	}

	if item.RequireUserConfirmation {
		confirmID := fmt.Sprintf("%s-confirm", item.ID)
		out = append(out, Msg{wire.TypeWidgetRender, wire.WidgetRenderPayload{
			ItemID:     item.ID,
			WidgetID:   confirmID,
			WidgetType: "button",
			Required:   true,
		}})
		required = append(required, confirmID)
	}

	cc.CurrentItem = NewItemExecutionState(item.ID, item.Index, required, item.RequireUserConfirmation)
	cc.CurrentItemIndex = item.Index
	if len(required) > 0 || item.RequireUserConfirmation {
		cc.State = StateSuspended
	} else {
		cc.State = StateReady
	}
	return out, nil
}

// renderStem resolves a single content block's stem, substituting the
// restricted context-variable set named in §4.12's "Templated content"
// for is_templated content and for plain substitution otherwise.
func (o *Orchestrator) renderStem(ctx context.Context, cc *ConversationContext, item TemplateItem, content ContentItem) (string, error) {
	totalItems := 0
	if tmpl, found, err := o.Templates.Get(ctx, cc.TemplateID); err == nil && found {
		totalItems = tmpl.TotalItems
	}
	vars := map[string]any{
		"user_id":         cc.UserID,
		"current_item":    item.Index + 1,
		"total_items":     totalItems,
		"conversation_id": cc.ConversationID,
	}
	if !content.IsTemplated {
		return substituteVars(content.Stem, vars), nil
	}
	req := &model.Request{
		Model: cc.Model,
		Messages: []*model.Message{
			{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: substituteVars(item.Instructions, vars)}}},
		},
	}
	resp, err := o.Client.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Content) == 0 {
		return "", nil
	}
	return textOf(&resp.Content[0]), nil
}

func substituteVars(s string, vars map[string]any) string {
	for k, v := range vars {
		s = replaceAll(s, "{{"+k+"}}", fmt.Sprintf("%v", v))
	}
	return s
}

func replaceAll(s, old, new string) string {
	for {
		idx := indexOf(s, old)
		if idx < 0 {
			return s
		}
		s = s[:idx] + new + s[idx+len(old):]
	}
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

// completeFlow implements §4.12's "Flow completion".
func (o *Orchestrator) completeFlow(ctx context.Context, cc *ConversationContext, tmpl TemplateDef) ([]Msg, error) {
	var out []Msg
	if tmpl.CompletionMessage != "" {
		messageID := uuid.NewString()
		out = append(out, Msg{wire.TypeContentChunk, wire.ContentChunkPayload{Content: tmpl.CompletionMessage, MessageID: messageID, Final: false}})
		out = append(out, Msg{wire.TypeContentComplete, wire.ContentCompletePayload{MessageID: messageID, Role: "assistant", FullContent: tmpl.CompletionMessage}})
	}
	if tmpl.ContinueAfterCompletion {
		cc.State = StateReady
		out = append(out, Msg{wire.TypeFlowChatInput, wire.FlowChatInputPayload{Enabled: true}})
	} else {
		cc.State = StateCompleted
		out = append(out, Msg{wire.TypeFlowChatInput, wire.FlowChatInputPayload{Enabled: false}})
	}
	return out, nil
}

// Pause transitions the context to PAUSED and acks (§4.12).
func (o *Orchestrator) Pause(cc *ConversationContext) []Msg {
	cc.State = StatePaused
	return []Msg{{wire.TypeResponseAck, wire.AckPayload{Status: "paused"}}}
}

// Resume returns the context to READY and acks.
func (o *Orchestrator) Resume(cc *ConversationContext) []Msg {
	cc.State = StateReady
	return []Msg{{wire.TypeResponseAck, wire.AckPayload{Status: "resumed"}}}
}

// Cancel clears pending widget/tool-call state and returns to READY (§4.12).
func (o *Orchestrator) Cancel(cc *ConversationContext) []Msg {
	cc.CurrentItem = nil
	cc.State = StateReady
	return []Msg{{wire.TypeResponseAck, wire.AckPayload{Status: "canceled"}}}
}

// ChangeModel validates the requested model id against the provider factory
// (§4.12) and, if valid, updates the context's active model.
func (o *Orchestrator) ChangeModel(cc *ConversationContext, modelID string) []Msg {
	resolved, ok := o.Models.Resolve(modelID)
	if !ok {
		return []Msg{{wire.TypeSystemError, wire.SystemErrorPayload{Category: "model", Code: "INVALID_MODEL", Message: "unknown model id: " + modelID, IsRetryable: false}}}
	}
	cc.Model = resolved
	return []Msg{{wire.TypeResponseAck, wire.AckPayload{Status: "ok"}}}
}

// Reconnect re-presents the current item from scratch rather than treating
// it as completed (§9 Open Question, decided in SPEC_FULL.md/DESIGN.md):
// a client reconnecting mid-item has not yet satisfied its completion
// predicate, so re-sending control.item.context plus every widget cannot
// violate §8's "every completed item held its predicate" property.
func (o *Orchestrator) Reconnect(ctx context.Context, cc *ConversationContext) ([]Msg, error) {
	if cc.CurrentItem == nil {
		return nil, nil
	}
	return o.presentItem(ctx, cc, cc.CurrentItem.ItemIndex)
}

// publishRunEvent translates a RunEvent into the matching hooks.Event and
// publishes it on o.Hooks, if configured. Publication errors are logged and
// otherwise ignored: a stalled subscriber must never abort a live run.
func (o *Orchestrator) publishRunEvent(ctx context.Context, runID, agentID string, ev RunEvent) {
	if o.Hooks == nil {
		return
	}

	var hookEvent hooks.Event
	switch ev.Type {
	case RunStarted:
		hookEvent = hooks.NewRunStartedEvent(runID, agentID, session.RunContext{RunID: runID}, nil)
	case RunToolExecStarted:
		hookEvent = hooks.NewToolCallScheduledEvent(runID, agentID, ev.ToolName, ev.CallID, ev.Arguments, "", "", 0)
	case RunToolExecCompleted:
		var toolErr *executor.ResultError
		if !ev.Success {
			toolErr = &executor.ResultError{Message: fmt.Sprintf("tool %s failed", ev.ToolName), ErrorCode: "TOOL_FAILED"}
		}
		hookEvent = hooks.NewToolResultReceivedEvent(runID, agentID, ev.CallID, "", ev.ToolName, ev.Result, time.Duration(ev.ExecutionTimeMs)*time.Millisecond, nil, toolErr)
	case RunCompleted:
		hookEvent = hooks.NewAssistantMessageEvent(runID, agentID, ev.FullContent, nil)
	case RunFailed:
		hookEvent = hooks.NewRunCompletedEvent(runID, agentID, "failed", errors.New(ev.Message))
	default:
		return
	}

	if err := o.Hooks.Publish(ctx, hookEvent); err != nil {
		o.Logger.Error(ctx, "hooks: subscriber rejected run event", "error", err, "run_id", runID, "event_type", string(ev.Type))
	}
}
