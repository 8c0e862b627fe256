package commandbus

import (
	"context"

	"goa.design/tools-provider/internal/circuitbreaker"
	"goa.design/tools-provider/internal/inventory"
	"goa.design/tools-provider/internal/sourcing"
	"goa.design/tools-provider/internal/tools"
)

// Admin command types for the register/refresh/disable-source,
// enable/disable-tool and reset-circuit-breaker operations. §6 treats admin
// operations as "out of scope" for a UI/API, but the façade still needs
// typed commands to dispatch them through so it is exercised end-to-end.
// No update-source or cleanup-orphaned-tools command is defined here.
const (
	CommandRegisterSource      Command = "admin.source.register"
	CommandRefreshSource       Command = "admin.source.refresh"
	CommandDisableSource       Command = "admin.source.disable"
	CommandEnableTool          Command = "admin.tool.enable"
	CommandDisableTool         Command = "admin.tool.disable"
	CommandResetCircuitBreaker Command = "admin.circuitbreaker.reset"
)

// RegisterSourcePayload registers a newly discovered source and ingests its
// initial tool catalogue in the same call.
type RegisterSourcePayload struct {
	Source    tools.SourceAggregate
	Ingestion sourcing.IngestionResult
}

// RefreshSourcePayload re-runs reconciliation for an existing source.
type RefreshSourcePayload struct {
	SourceID     string
	Ingestion    sourcing.IngestionResult
	ForceRefresh bool
}

// DisableSourcePayload disables a source, cascading its tools to DEPRECATED
// (§9 Open Question decision: see DESIGN.md).
type DisableSourcePayload struct {
	SourceID string
}

// ToolTogglePayload enables or disables a single tool by its composite key
// (tools.ID: "source_id:name").
type ToolTogglePayload struct {
	ToolKey string
}

// ResetCircuitBreakerPayload clears an open/half-open breaker back to
// CLOSED for operator-initiated recovery (§4.9).
type ResetCircuitBreakerPayload struct {
	CircuitKey  string
	CircuitType string
}

// AdminHandlers wires the admin command set to the Inventory Reconciler and
// Circuit Breaker Registry and registers them on bus.
type AdminHandlers struct {
	Reconciler *inventory.Reconciler
	ToolsRepo  inventory.ToolRepository
	Sources    inventory.SourceRepository
	Breakers   *circuitbreaker.Registry
}

// Register binds every admin handler onto bus.
func (h *AdminHandlers) Register(bus *Bus) {
	bus.Register(CommandRegisterSource, h.registerSource)
	bus.Register(CommandRefreshSource, h.refreshSource)
	bus.Register(CommandDisableSource, h.disableSource)
	bus.Register(CommandEnableTool, h.enableTool)
	bus.Register(CommandDisableTool, h.disableTool)
	bus.Register(CommandResetCircuitBreaker, h.resetCircuitBreaker)
}

func (h *AdminHandlers) registerSource(ctx context.Context, payload any) OperationResult {
	p, ok := payload.(RegisterSourcePayload)
	if !ok {
		return BadRequest("registerSource: payload must be RegisterSourcePayload")
	}
	if _, found, err := h.Sources.Get(ctx, p.Source.ID); err != nil {
		return InternalError(err.Error())
	} else if found {
		return Conflict("source already registered: " + p.Source.ID)
	}
	if err := h.Sources.Add(ctx, p.Source); err != nil {
		return InternalError(err.Error())
	}
	result, err := h.Reconciler.Reconcile(ctx, p.Source.ID, p.Ingestion, true)
	if err != nil {
		return InternalError(err.Error())
	}
	return Ok(result)
}

func (h *AdminHandlers) refreshSource(ctx context.Context, payload any) OperationResult {
	p, ok := payload.(RefreshSourcePayload)
	if !ok {
		return BadRequest("refreshSource: payload must be RefreshSourcePayload")
	}
	if _, found, err := h.Sources.Get(ctx, p.SourceID); err != nil {
		return InternalError(err.Error())
	} else if !found {
		return NotFound("source", p.SourceID)
	}
	result, err := h.Reconciler.Reconcile(ctx, p.SourceID, p.Ingestion, p.ForceRefresh)
	if err != nil {
		return InternalError(err.Error())
	}
	return Ok(result)
}

func (h *AdminHandlers) disableSource(ctx context.Context, payload any) OperationResult {
	p, ok := payload.(DisableSourcePayload)
	if !ok {
		return BadRequest("disableSource: payload must be DisableSourcePayload")
	}
	if _, found, err := h.Sources.Get(ctx, p.SourceID); err != nil {
		return InternalError(err.Error())
	} else if !found {
		return NotFound("source", p.SourceID)
	}
	result, err := h.Reconciler.DeprecateSource(ctx, p.SourceID)
	if err != nil {
		return InternalError(err.Error())
	}
	return Ok(result)
}

func (h *AdminHandlers) enableTool(ctx context.Context, payload any) OperationResult {
	return h.toggleTool(ctx, payload, true)
}

func (h *AdminHandlers) disableTool(ctx context.Context, payload any) OperationResult {
	return h.toggleTool(ctx, payload, false)
}

func (h *AdminHandlers) toggleTool(ctx context.Context, payload any, enabled bool) OperationResult {
	p, ok := payload.(ToolTogglePayload)
	if !ok {
		return BadRequest("toggleTool: payload must be ToolTogglePayload")
	}
	agg, found, err := h.ToolsRepo.Get(ctx, p.ToolKey)
	if err != nil {
		return InternalError(err.Error())
	}
	if !found {
		return NotFound("tool", p.ToolKey)
	}
	agg.IsEnabled = enabled
	if err := h.ToolsRepo.Update(ctx, *agg); err != nil {
		return InternalError(err.Error())
	}
	return Ok(*agg)
}

func (h *AdminHandlers) resetCircuitBreaker(ctx context.Context, payload any) OperationResult {
	p, ok := payload.(ResetCircuitBreakerPayload)
	if !ok {
		return BadRequest("resetCircuitBreaker: payload must be ResetCircuitBreakerPayload")
	}
	breaker := h.Breakers.Get(p.CircuitKey, p.CircuitType)
	breaker.Reset(ctx)
	return Ok(nil)
}
