package orchestrator

import (
	"context"

	"goa.design/tools-provider/agents/runtime/policy"
)

// StaticCapsEngine is the default policy.Engine: it imposes a fixed
// per-run tool-call budget and allows every candidate tool through
// untouched. Deployments that need dynamic allowlisting (approval
// workflows, rate limiting) supply their own policy.Engine instead.
type StaticCapsEngine struct {
	MaxToolCalls int
}

// NewStaticCapsEngine builds a StaticCapsEngine with the given per-run
// tool-call budget. Zero means unlimited.
func NewStaticCapsEngine(maxToolCalls int) *StaticCapsEngine {
	return &StaticCapsEngine{MaxToolCalls: maxToolCalls}
}

// Decide implements policy.Engine by passing every candidate tool through,
// seeding the tool-call budget from MaxToolCalls when input carries none,
// and setting DisableTools once the remaining budget is used up. The run
// loop, not Decide, decrements the remaining budget after each turn.
func (e *StaticCapsEngine) Decide(ctx context.Context, input policy.Input) (policy.Decision, error) {
	caps := input.RemainingCaps
	if caps.MaxToolCalls == 0 && e.MaxToolCalls > 0 {
		caps.MaxToolCalls = e.MaxToolCalls
		caps.RemainingToolCalls = e.MaxToolCalls
	}

	allowed := make([]policy.ToolHandle, 0, len(input.Tools))
	for _, t := range input.Tools {
		allowed = append(allowed, policy.ToolHandle{ID: t.ID})
	}

	disable := caps.MaxToolCalls > 0 && caps.RemainingToolCalls <= 0
	return policy.Decision{
		AllowedTools: allowed,
		Caps:         caps,
		DisableTools: disable,
	}, nil
}
