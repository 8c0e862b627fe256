package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"goa.design/tools-provider/agents/runtime/policy"
	"goa.design/tools-provider/agents/runtime/session"
	"goa.design/tools-provider/internal/executor"
	model "goa.design/tools-provider/internal/llmmodel"
	"goa.design/tools-provider/internal/tools"
)

// RunEventType enumerates the LLM event stream variants of §4.12's table.
type RunEventType string

const (
	RunStarted           RunEventType = "RUN_STARTED"
	RunResponseChunk     RunEventType = "LLM_RESPONSE_CHUNK"
	RunToolExecStarted   RunEventType = "TOOL_EXECUTION_STARTED"
	RunToolExecCompleted RunEventType = "TOOL_EXECUTION_COMPLETED"
	RunCompleted         RunEventType = "RUN_COMPLETED"
	RunFailed            RunEventType = "RUN_FAILED"
)

// RunEvent is one event emitted by driveRun, matching §4.12's LLM-event
// table. Only the fields relevant to Type are populated.
type RunEvent struct {
	Type            RunEventType
	Chunk           string
	Final           bool
	FullContent     string
	CallID          string
	ToolName        string
	Arguments       map[string]any
	Success         bool
	Result          any
	ExecutionTimeMs int64
	Message         string
}

// ToolBinding resolves a tool name visible to the model back to everything
// the Tool Executor (§4.10) needs to invoke it.
type ToolBinding struct {
	Definition      tools.ToolDefinition
	SourceID        string
	AuthMode        tools.AuthMode
	DefaultAudience string
}

// runLoopState is the mutable state threaded through driveRun's turns,
// mirroring the teacher's runLoopState/workflowLoop split: immutable
// collaborators above, evolving state here.
type runLoopState struct {
	messages []*model.Message
	content  strings.Builder
	caps     policy.CapsState
}

// driveRun executes the reactive-message LLM run of §4.12 step 4: it streams
// model output, executes any requested tools through exec, feeds results
// back to the model, and repeats until the model produces a final response
// with no further tool calls. Every event named in §4.12's table is reported
// through emit, in order.
func driveRun(
	ctx context.Context,
	client model.Client,
	req *model.Request,
	exec *executor.Executor,
	agentToken string,
	bindings map[string]ToolBinding,
	eng policy.Engine,
	emit func(RunEvent) error,
) (string, error) {
	if err := emit(RunEvent{Type: RunStarted}); err != nil {
		return "", err
	}

	st := &runLoopState{messages: append([]*model.Message(nil), req.Messages...)}

	for {
		req.Messages = st.messages
		toolCalls, err := runOneTurn(ctx, client, req, st, emit)
		if err != nil {
			_ = emit(RunEvent{Type: RunFailed, Message: err.Error()})
			return "", err
		}
		if len(toolCalls) == 0 {
			break
		}

		if eng != nil {
			decision, err := eng.Decide(ctx, policy.Input{
				RunContext:    session.RunContext{RunID: req.RunID},
				Tools:         toolMetadataFor(bindings),
				RemainingCaps: st.caps,
			})
			if err != nil {
				_ = emit(RunEvent{Type: RunFailed, Message: err.Error()})
				return "", err
			}
			st.caps = decision.Caps
			if decision.DisableTools {
				_ = emit(RunEvent{Type: RunFailed, Message: "tool call budget exhausted for this run"})
				break
			}
			bindings = restrictBindings(bindings, decision.AllowedTools)
		}

		assistantParts := make([]model.Part, 0, len(toolCalls))
		for _, tc := range toolCalls {
			var input any
			_ = json.Unmarshal(tc.Payload, &input)
			assistantParts = append(assistantParts, model.ToolUsePart{ID: tc.ID, Name: tc.Name.String(), Input: input})
		}
		st.messages = append(st.messages, &model.Message{Role: model.ConversationRoleAssistant, Parts: assistantParts})

		resultParts := make([]model.Part, 0, len(toolCalls))
		for _, tc := range toolCalls {
			part, err := executeToolCall(ctx, exec, agentToken, bindings, tc, emit)
			if err != nil {
				return "", err
			}
			resultParts = append(resultParts, part)
		}
		st.messages = append(st.messages, &model.Message{Role: model.ConversationRoleUser, Parts: resultParts})

		if eng != nil && st.caps.MaxToolCalls > 0 {
			st.caps.RemainingToolCalls -= len(toolCalls)
		}
	}

	full := st.content.String()
	if err := emit(RunEvent{Type: RunResponseChunk, Final: true}); err != nil {
		return "", err
	}
	if err := emit(RunEvent{Type: RunCompleted, FullContent: full}); err != nil {
		return "", err
	}
	return full, nil
}

// runOneTurn streams a single model turn, forwarding text chunks and
// accumulating any requested tool calls for the caller to execute.
func runOneTurn(ctx context.Context, client model.Client, req *model.Request, st *runLoopState, emit func(RunEvent) error) ([]model.ToolCall, error) {
	streamer, err := client.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	defer streamer.Close()

	var toolCalls []model.ToolCall
	for {
		chunk, err := streamer.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch chunk.Type {
		case model.ChunkTypeText:
			text := textOf(chunk.Message)
			if text == "" {
				continue
			}
			st.content.WriteString(text)
			if err := emit(RunEvent{Type: RunResponseChunk, Chunk: text}); err != nil {
				return nil, err
			}
		case model.ChunkTypeToolCall:
			if chunk.ToolCall != nil {
				toolCalls = append(toolCalls, *chunk.ToolCall)
			}
		}
	}
	return toolCalls, nil
}

// toolMetadataFor adapts the run's tool bindings into the candidate list a
// policy.Engine filters down to an allowlist for the turn.
func toolMetadataFor(bindings map[string]ToolBinding) []policy.ToolMetadata {
	out := make([]policy.ToolMetadata, 0, len(bindings))
	for name, b := range bindings {
		out = append(out, policy.ToolMetadata{ID: name, Name: b.Definition.Name, Description: b.Definition.Description})
	}
	return out
}

// restrictBindings narrows bindings to the tools a policy decision allowed
// for this turn.
func restrictBindings(bindings map[string]ToolBinding, allowed []policy.ToolHandle) map[string]ToolBinding {
	allowSet := make(map[string]struct{}, len(allowed))
	for _, h := range allowed {
		allowSet[h.ID] = struct{}{}
	}
	out := make(map[string]ToolBinding, len(allowSet))
	for name, b := range bindings {
		if _, ok := allowSet[name]; ok {
			out[name] = b
		}
	}
	return out
}

func textOf(msg *model.Message) string {
	if msg == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range msg.Parts {
		if tp, ok := p.(model.TextPart); ok {
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}

// executeToolCall dispatches one requested tool call through the Tool
// Executor, reporting start/completion events, and returns the
// model.ToolResultPart to feed back to the model.
func executeToolCall(ctx context.Context, exec *executor.Executor, agentToken string, bindings map[string]ToolBinding, tc model.ToolCall, emit func(RunEvent) error) (model.Part, error) {
	var args map[string]any
	_ = json.Unmarshal(tc.Payload, &args)

	if err := emit(RunEvent{Type: RunToolExecStarted, CallID: tc.ID, ToolName: tc.Name.String(), Arguments: args}); err != nil {
		return nil, err
	}

	binding, ok := bindings[tc.Name.String()]
	var result executor.ExecuteResult
	if !ok {
		result = executor.ExecuteResult{Status: "failed", Error: &executor.ResultError{Message: "unknown tool", ErrorCode: "UNKNOWN_TOOL"}}
	} else {
		result = exec.Execute(ctx, executor.ExecuteInput{
			ToolID:          tools.ID(binding.SourceID, binding.Definition.Name),
			Definition:      binding.Definition,
			Arguments:       args,
			AgentToken:      agentToken,
			SourceID:        binding.SourceID,
			AuthMode:        binding.AuthMode,
			DefaultAudience: binding.DefaultAudience,
		})
	}

	success := result.Status == "completed"
	var payload any = result.Result
	if !success && result.Error != nil {
		payload = result.Error
	}
	if err := emit(RunEvent{
		Type:            RunToolExecCompleted,
		CallID:          tc.ID,
		ToolName:        tc.Name.String(),
		Success:         success,
		Result:          payload,
		ExecutionTimeMs: result.ExecutionTimeMs,
	}); err != nil {
		return nil, err
	}

	return model.ToolResultPart{ToolUseID: tc.ID, Content: payload, IsError: !success}, nil
}
