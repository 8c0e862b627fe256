package orchestrator

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/tools-provider/internal/executor"
	"goa.design/tools-provider/internal/inventory"
	model "goa.design/tools-provider/internal/llmmodel"
	"goa.design/tools-provider/internal/wire"
)

type fakeStreamer struct {
	chunks []model.Chunk
	i      int
}

func (f *fakeStreamer) Recv() (model.Chunk, error) {
	if f.i >= len(f.chunks) {
		return model.Chunk{}, io.EOF
	}
	c := f.chunks[f.i]
	f.i++
	return c, nil
}
func (f *fakeStreamer) Close() error             { return nil }
func (f *fakeStreamer) Metadata() map[string]any { return nil }

type fakeClient struct {
	streams []*fakeStreamer
	call    int
}

func (f *fakeClient) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	return &model.Response{Content: []model.Message{{Role: model.ConversationRoleAssistant, Parts: []model.Part{model.TextPart{Text: "rendered"}}}}}, nil
}

func (f *fakeClient) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	s := f.streams[f.call]
	f.call++
	return s, nil
}

func textChunk(s string) model.Chunk {
	return model.Chunk{Type: model.ChunkTypeText, Message: &model.Message{Role: model.ConversationRoleAssistant, Parts: []model.Part{model.TextPart{Text: s}}}}
}

type fakeCommands struct {
	persisted       []string
	completed       map[string]string
	itemResponses   map[string]map[string]any
	advancedIndexes []int
}

func newFakeCommands() *fakeCommands {
	return &fakeCommands{completed: make(map[string]string), itemResponses: make(map[string]map[string]any)}
}

func (f *fakeCommands) PersistUserMessage(ctx context.Context, conversationID, text string) (string, error) {
	f.persisted = append(f.persisted, text)
	return "pending-msg-1", nil
}
func (f *fakeCommands) CompleteMessage(ctx context.Context, messageID, fullContent string) error {
	f.completed[messageID] = fullContent
	return nil
}
func (f *fakeCommands) PersistItemResponse(ctx context.Context, conversationID, itemID string, responses map[string]any, userConfirmed bool) error {
	f.itemResponses[itemID] = responses
	return nil
}
func (f *fakeCommands) AdvanceTemplate(ctx context.Context, conversationID string, nextIndex int) error {
	f.advancedIndexes = append(f.advancedIndexes, nextIndex)
	return nil
}

type fakeModelFactory struct{ known map[string]string }

func (f *fakeModelFactory) Resolve(id string) (string, bool) {
	v, ok := f.known[id]
	return v, ok
}

func newTestOrchestrator(t *testing.T, client model.Client, cmds Commands) (*Orchestrator, *InMemoryConversationRepository, *InMemoryDefinitionRepository, *InMemoryTemplateRepository) {
	t.Helper()
	convs := NewInMemoryConversationRepository()
	defs := NewInMemoryDefinitionRepository()
	templates := NewInMemoryTemplateRepository()
	sources := inventory.NewInMemorySourceRepository()
	toolsRepo := inventory.NewInMemoryToolRepository()
	cat := NewCatalogue(sources, toolsRepo)
	exec := &executor.Executor{}
	o := New(convs, defs, templates, cat, cmds, exec, client, &fakeModelFactory{known: map[string]string{"claude-3": "claude-3"}}, nil)
	return o, convs, defs, templates
}

func TestInitializeReactive(t *testing.T) {
	o, convs, defs, _ := newTestOrchestrator(t, &fakeClient{}, newFakeCommands())
	convs.Put(Conversation{ID: "c1", UserID: "u1", DefinitionID: "d1"})
	defs.Put(Definition{ID: "d1", Model: "claude-3"})

	cc, msgType, payload, err := o.Initialize(t.Context(), "conn1", "c1", "u1", "token")
	require.NoError(t, err)
	assert.Equal(t, StateReady, cc.State)
	assert.False(t, cc.IsProactive)
	assert.NotNil(t, msgType)
	assert.NotNil(t, payload)
}

func TestInitializeUnknownConversation(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t, &fakeClient{}, newFakeCommands())
	_, _, _, err := o.Initialize(t.Context(), "conn1", "missing", "u1", "token")
	assert.Error(t, err)
}

func TestInitializeProactive(t *testing.T) {
	o, convs, defs, templates := newTestOrchestrator(t, &fakeClient{}, newFakeCommands())
	convs.Put(Conversation{ID: "c1", UserID: "u1", DefinitionID: "d1"})
	defs.Put(Definition{ID: "d1", Model: "claude-3", TemplateID: "t1"})
	templates.Put(TemplateDef{ID: "t1", AgentStartsFirst: true, TotalItems: 1}, []TemplateItem{
		{ID: "item-0", Index: 0, Contents: []ContentItem{{WidgetID: "w1", WidgetType: "text", Required: true}}},
	})

	cc, _, _, err := o.Initialize(t.Context(), "conn1", "c1", "u1", "token")
	require.NoError(t, err)
	assert.Equal(t, StatePresenting, cc.State)
	assert.True(t, cc.IsProactive)
}

func TestBeginFlowReactiveEnablesChatInput(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t, &fakeClient{}, newFakeCommands())
	cc := &ConversationContext{State: StateReady}
	msgs, err := o.BeginFlow(t.Context(), cc)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, wire.TypeFlowChatInput, msgs[0].Type)
	payload, ok := msgs[0].Payload.(wire.FlowChatInputPayload)
	require.True(t, ok)
	assert.True(t, payload.Enabled)
}

func TestHandleReactiveMessageHappyPath(t *testing.T) {
	client := &fakeClient{streams: []*fakeStreamer{{chunks: []model.Chunk{textChunk("hello "), textChunk("world")}}}}
	cmds := newFakeCommands()
	o, _, _, _ := newTestOrchestrator(t, client, cmds)
	cc := &ConversationContext{ConversationID: "c1", Model: "claude-3", State: StateReady}

	msgs, err := o.HandleReactiveMessage(t.Context(), cc, "hi there")
	require.NoError(t, err)
	assert.NotEmpty(t, msgs)
	assert.Equal(t, []string{"hi there"}, cmds.persisted)
	assert.Equal(t, "hello world", cmds.completed["pending-msg-1"])
	assert.Equal(t, StateReady, cc.State)
	assert.Len(t, cc.History, 2)
}

func TestHandleWidgetResponseAdvancesOnCompletion(t *testing.T) {
	o, _, _, templates := newTestOrchestrator(t, &fakeClient{}, newFakeCommands())
	templates.Put(TemplateDef{ID: "t1", TotalItems: 2}, []TemplateItem{
		{ID: "item-0", Index: 0, Contents: []ContentItem{{WidgetID: "w1", WidgetType: "text", Required: true}}},
		{ID: "item-1", Index: 1, Contents: []ContentItem{{WidgetID: "w2", WidgetType: "text", Required: true}}},
	})
	cc := &ConversationContext{TemplateID: "t1", State: StateSuspended}
	cc.CurrentItem = NewItemExecutionState("item-0", 0, []string{"w1"}, false)

	msgs, err := o.HandleWidgetResponse(t.Context(), cc, "item-0", "w1", "answer")
	require.NoError(t, err)
	assert.NotEmpty(t, msgs)
	assert.Equal(t, 1, cc.CurrentItem.ItemIndex)
	assert.Equal(t, "item-1", cc.CurrentItem.ItemID)
}

func TestHandleWidgetResponseIncompleteStaysSuspended(t *testing.T) {
	o, _, _, templates := newTestOrchestrator(t, &fakeClient{}, newFakeCommands())
	templates.Put(TemplateDef{ID: "t1", TotalItems: 1}, []TemplateItem{
		{ID: "item-0", Index: 0, Contents: []ContentItem{
			{WidgetID: "w1", WidgetType: "text", Required: true},
			{WidgetID: "w2", WidgetType: "text", Required: true},
		}},
	})
	cc := &ConversationContext{TemplateID: "t1", State: StateSuspended}
	cc.CurrentItem = NewItemExecutionState("item-0", 0, []string{"w1", "w2"}, false)

	msgs, err := o.HandleWidgetResponse(t.Context(), cc, "item-0", "w1", "answer")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
	assert.Equal(t, "item-0", cc.CurrentItem.ItemID)
	assert.False(t, cc.CurrentItem.Complete())
}

func TestReconnectRePresentsCurrentItem(t *testing.T) {
	o, _, _, templates := newTestOrchestrator(t, &fakeClient{}, newFakeCommands())
	templates.Put(TemplateDef{ID: "t1", TotalItems: 1}, []TemplateItem{
		{ID: "item-0", Index: 0, Contents: []ContentItem{{WidgetID: "w1", WidgetType: "text", Required: true}}},
	})
	cc := &ConversationContext{TemplateID: "t1", State: StateSuspended}
	cc.CurrentItem = NewItemExecutionState("item-0", 0, []string{"w1"}, false)

	msgs, err := o.Reconnect(t.Context(), cc)
	require.NoError(t, err)
	assert.NotEmpty(t, msgs)
	assert.Equal(t, "item-0", cc.CurrentItem.ItemID)
}

func TestPauseResumeCancel(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t, &fakeClient{}, newFakeCommands())
	cc := &ConversationContext{State: StateReady}

	o.Pause(cc)
	assert.Equal(t, StatePaused, cc.State)

	o.Resume(cc)
	assert.Equal(t, StateReady, cc.State)

	cc.CurrentItem = NewItemExecutionState("item-0", 0, nil, false)
	o.Cancel(cc)
	assert.Equal(t, StateReady, cc.State)
	assert.Nil(t, cc.CurrentItem)
}

func TestChangeModelInvalid(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t, &fakeClient{}, newFakeCommands())
	cc := &ConversationContext{Model: "claude-3"}
	msgs := o.ChangeModel(cc, "unknown-model")
	require.Len(t, msgs, 1)
	assert.Equal(t, "claude-3", cc.Model)
}

func TestChangeModelValid(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t, &fakeClient{}, newFakeCommands())
	cc := &ConversationContext{Model: "claude-3"}
	o.ChangeModel(cc, "claude-3")
	assert.Equal(t, "claude-3", cc.Model)
}
