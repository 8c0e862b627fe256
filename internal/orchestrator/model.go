// Package orchestrator implements the Conversation Orchestrator of spec
// §4.12: one ConversationContext per WebSocket connection, driving reactive
// chat and template-driven flows and translating between client wire
// messages, LLM events, and persistence commands.
package orchestrator

import (
	"context"
	"time"

	"goa.design/tools-provider/internal/tools"
	"goa.design/tools-provider/internal/wire"
)

// Msg pairs a wire.Type with its typed payload, the unit every orchestrator
// operation returns for the caller to marshal via wire.Marshal and write to
// the connection.
type Msg struct {
	Type    wire.Type
	Payload any
}

// State is the lifecycle state of a ConversationContext (§3).
type State string

const (
	StateReady      State = "READY"
	StatePresenting State = "PRESENTING"
	StateProcessing State = "PROCESSING"
	StateSuspended  State = "SUSPENDED"
	StatePaused     State = "PAUSED"
	StateCompleted  State = "COMPLETED"
	StateError      State = "ERROR"
)

// ConversationContext is the per-WebSocket-connection in-memory state
// described by §3. It is never persisted; a reconnect reconstructs it from
// Initialize.
type ConversationContext struct {
	ConnectionID     string
	ConversationID   string
	UserID           string
	AccessToken      string
	DefinitionID     string
	TemplateID       string
	IsProactive      bool
	Tools            []tools.ToolAggregate
	Model            string
	State            State
	CurrentItemIndex int
	CurrentItem      *ItemExecutionState

	// PendingAssistantMessageID carries the id returned by PersistUserMessage
	// until the run completes and CompleteMessage can be dispatched.
	PendingAssistantMessageID string
	// History is the provider-facing message transcript accumulated for this
	// connection. Kept in-process; the durable conversation history lives in
	// the persistence layer this core treats as an external collaborator.
	History []ProviderMessage
}

// ProviderMessage is a minimal role/text transcript entry. The orchestrator
// keeps its own copy so reconnects and multi-turn runs don't need to
// round-trip through llmmodel.Message for simple text history.
type ProviderMessage struct {
	Role string
	Text string
}

// ItemExecutionState tracks one active template item (§3). An item is
// complete once every required widget has been answered and, if
// confirmation is required, the user has confirmed.
type ItemExecutionState struct {
	ItemID                  string
	ItemIndex               int
	RequiredWidgetIDs       map[string]struct{}
	AnsweredWidgetIDs       map[string]struct{}
	WidgetResponses         map[string]any
	RequireUserConfirmation bool
	UserConfirmed           bool
	StartedAt               time.Time
	CompletedAt             time.Time
}

// NewItemExecutionState constructs a fresh, in-progress item state.
func NewItemExecutionState(itemID string, index int, required []string, requireConfirmation bool) *ItemExecutionState {
	req := make(map[string]struct{}, len(required))
	for _, id := range required {
		req[id] = struct{}{}
	}
	return &ItemExecutionState{
		ItemID:                  itemID,
		ItemIndex:               index,
		RequiredWidgetIDs:       req,
		AnsweredWidgetIDs:       make(map[string]struct{}),
		WidgetResponses:         make(map[string]any),
		RequireUserConfirmation: requireConfirmation,
		StartedAt:               time.Now(),
	}
}

// Complete reports whether every required widget has been answered and any
// required confirmation has been given (§3).
func (s *ItemExecutionState) Complete() bool {
	for id := range s.RequiredWidgetIDs {
		if _, ok := s.AnsweredWidgetIDs[id]; !ok {
			return false
		}
	}
	return !s.RequireUserConfirmation || s.UserConfirmed
}

// RecordResponse stores a widget response, marking it answered if the widget
// was in the required set.
func (s *ItemExecutionState) RecordResponse(widgetID string, value any) {
	s.WidgetResponses[widgetID] = value
	if _, required := s.RequiredWidgetIDs[widgetID]; required {
		s.AnsweredWidgetIDs[widgetID] = struct{}{}
	}
}

// Conversation is the minimal read model the orchestrator needs about a
// conversation record (§3/§6: the event-sourced persistence layer itself is
// an external collaborator; this is the read contract consumed).
type Conversation struct {
	ID           string
	UserID       string
	DefinitionID string
}

// Definition is the agent configuration referenced by a conversation.
type Definition struct {
	ID            string
	Name          string
	Model         string
	TemplateID    string
	ToolWhitelist []string
	ToolBlacklist []string
}

// TemplateDef describes a proactive flow template (§4.12).
type TemplateDef struct {
	ID                         string
	Name                       string
	AgentStartsFirst           bool
	IntroductionMessage        string
	CompletionMessage          string
	ContinueAfterCompletion    bool
	TotalItems                 int
	DisplayMode                string
	ShowConversationHistory    bool
	AllowBackwardNavigation    bool
	AllowConcurrentItemWidgets bool
	AllowSkip                  bool
	EnableChatInputInitially   bool
	DisplayProgressIndicator   bool
	DisplayFinalScoreReport    bool
}

// TemplateItem is one item in a template's ordered flow (§4.12 step "Template
// item presentation").
type TemplateItem struct {
	ID                      string
	Index                   int
	Title                   string
	Instructions            string
	Contents                []ContentItem
	RequireUserConfirmation bool
	TimeLimitSeconds        *int
	ShowRemainingTime       bool
	WidgetCompletionBehavior string
	ConversationDeadline    *time.Time
}

// ContentItem is one piece of content within a template item: either an
// assistant message stem or a renderable widget.
type ContentItem struct {
	WidgetID         string
	WidgetType       string // "message" or a concrete widget kind
	Stem             string
	IsTemplated      bool
	Options          []string
	WidgetConfig     map[string]any
	Required         bool
	Skippable        bool
	InitialValue     any
	ShowUserResponse bool
	Layout           string
	Constraints      map[string]any
	CorrectAnswer    any
}

// ConversationRepository is the read contract for conversation records
// (§6 "Persisted interfaces (contracts consumed)").
type ConversationRepository interface {
	Get(ctx context.Context, id string) (Conversation, bool, error)
}

// DefinitionRepository is the read contract for agent definitions.
type DefinitionRepository interface {
	Get(ctx context.Context, id string) (Definition, bool, error)
}

// TemplateRepository is the read contract for templates and their items.
type TemplateRepository interface {
	Get(ctx context.Context, id string) (TemplateDef, bool, error)
	GetItem(ctx context.Context, templateID string, index int) (TemplateItem, bool, error)
}

// Commands is the persistence-command facade the orchestrator dispatches
// through (§4.12 steps 2/5, "Widget-response handling" step 4). The
// event-sourced store behind it is an explicit external collaborator (§1);
// this interface is the only contract the orchestrator depends on.
type Commands interface {
	// PersistUserMessage records the user's message and returns the id
	// reserved for the assistant's eventual reply.
	PersistUserMessage(ctx context.Context, conversationID, text string) (pendingAssistantMessageID string, err error)
	// CompleteMessage finalizes the assistant message persisted at id.
	CompleteMessage(ctx context.Context, messageID, fullContent string) error
	// PersistItemResponse records the final widget responses for a
	// completed item.
	PersistItemResponse(ctx context.Context, conversationID, itemID string, responses map[string]any, userConfirmed bool) error
	// AdvanceTemplate records that the conversation moved to nextIndex.
	AdvanceTemplate(ctx context.Context, conversationID string, nextIndex int) error
}
