package commandbus_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/tools-provider/internal/circuitbreaker"
	"goa.design/tools-provider/internal/commandbus"
	"goa.design/tools-provider/internal/inventory"
	"goa.design/tools-provider/internal/sourcing"
	"goa.design/tools-provider/internal/tools"
)

func TestDispatchUnknownCommandIsNotFound(t *testing.T) {
	bus := commandbus.New()
	result := bus.Dispatch(t.Context(), "nope", nil)
	assert.Equal(t, commandbus.StatusNotFound, result.Status)
}

func TestDispatchRoutesToRegisteredHandler(t *testing.T) {
	bus := commandbus.New()
	bus.Register("echo", func(ctx context.Context, payload any) commandbus.OperationResult {
		return commandbus.Ok(payload)
	})
	result := bus.Dispatch(t.Context(), "echo", "hi")
	assert.Equal(t, commandbus.StatusOK, result.Status)
	assert.Equal(t, "hi", result.Data)
	assert.False(t, result.IsError())
}

func newTestAdminHandlers(t *testing.T) (*commandbus.Bus, *commandbus.AdminHandlers, inventory.SourceRepository, inventory.ToolRepository) {
	t.Helper()
	sources := inventory.NewInMemorySourceRepository()
	toolsRepo := inventory.NewInMemoryToolRepository()
	reconciler := inventory.New(sources, toolsRepo, nil)
	breakers := circuitbreaker.NewRegistry()
	handlers := &commandbus.AdminHandlers{Reconciler: reconciler, ToolsRepo: toolsRepo, Sources: sources, Breakers: breakers}
	bus := commandbus.New()
	handlers.Register(bus)
	return bus, handlers, sources, toolsRepo
}

func TestRegisterSourceThenRefresh(t *testing.T) {
	bus, _, _, toolsRepo := newTestAdminHandlers(t)

	result := bus.Dispatch(t.Context(), commandbus.CommandRegisterSource, commandbus.RegisterSourcePayload{
		Source: tools.SourceAggregate{ID: "src1", Name: "Weather API", IsEnabled: true},
		Ingestion: sourcing.IngestionResult{
			Success: true,
			Tools:   []tools.ToolDefinition{{Name: "get_weather"}},
		},
	})
	require.Equal(t, commandbus.StatusOK, result.Status)

	agg, found, err := toolsRepo.Get(t.Context(), tools.ID("src1", "get_weather"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, tools.ToolStatusActive, agg.Status)

	dup := bus.Dispatch(t.Context(), commandbus.CommandRegisterSource, commandbus.RegisterSourcePayload{
		Source: tools.SourceAggregate{ID: "src1"},
	})
	assert.Equal(t, commandbus.StatusConflict, dup.Status)

	refresh := bus.Dispatch(t.Context(), commandbus.CommandRefreshSource, commandbus.RefreshSourcePayload{
		SourceID: "src1",
		Ingestion: sourcing.IngestionResult{
			Success: true,
			Tools:   []tools.ToolDefinition{{Name: "get_weather"}, {Name: "get_forecast"}},
		},
		ForceRefresh: true,
	})
	require.Equal(t, commandbus.StatusOK, refresh.Status)
}

func TestDisableSourceCascadesTools(t *testing.T) {
	bus, _, sources, toolsRepo := newTestAdminHandlers(t)
	require.NoError(t, sources.Add(t.Context(), tools.SourceAggregate{ID: "src1", IsEnabled: true}))
	require.NoError(t, toolsRepo.Add(t.Context(), tools.ToolAggregate{SourceID: "src1", Definition: tools.ToolDefinition{Name: "t"}, Status: tools.ToolStatusActive, IsEnabled: true}))

	result := bus.Dispatch(t.Context(), commandbus.CommandDisableSource, commandbus.DisableSourcePayload{SourceID: "src1"})
	require.Equal(t, commandbus.StatusOK, result.Status)

	agg, found, err := toolsRepo.Get(t.Context(), tools.ID("src1", "t"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, tools.ToolStatusDeprecated, agg.Status)
}

func TestDisableSourceNotFound(t *testing.T) {
	bus, _, _, _ := newTestAdminHandlers(t)
	result := bus.Dispatch(t.Context(), commandbus.CommandDisableSource, commandbus.DisableSourcePayload{SourceID: "missing"})
	assert.Equal(t, commandbus.StatusNotFound, result.Status)
}

func TestEnableDisableTool(t *testing.T) {
	bus, _, _, toolsRepo := newTestAdminHandlers(t)
	require.NoError(t, toolsRepo.Add(t.Context(), tools.ToolAggregate{SourceID: "src1", Definition: tools.ToolDefinition{Name: "t"}, IsEnabled: true}))
	key := tools.ID("src1", "t")

	result := bus.Dispatch(t.Context(), commandbus.CommandDisableTool, commandbus.ToolTogglePayload{ToolKey: key})
	require.Equal(t, commandbus.StatusOK, result.Status)
	agg, _, _ := toolsRepo.Get(t.Context(), key)
	assert.False(t, agg.IsEnabled)

	result = bus.Dispatch(t.Context(), commandbus.CommandEnableTool, commandbus.ToolTogglePayload{ToolKey: key})
	require.Equal(t, commandbus.StatusOK, result.Status)
	agg, _, _ = toolsRepo.Get(t.Context(), key)
	assert.True(t, agg.IsEnabled)
}

func TestToggleToolNotFound(t *testing.T) {
	bus, _, _, _ := newTestAdminHandlers(t)
	result := bus.Dispatch(t.Context(), commandbus.CommandEnableTool, commandbus.ToolTogglePayload{ToolKey: "missing:tool"})
	assert.Equal(t, commandbus.StatusNotFound, result.Status)
}

func TestResetCircuitBreaker(t *testing.T) {
	bus, _, _, _ := newTestAdminHandlers(t)
	result := bus.Dispatch(t.Context(), commandbus.CommandResetCircuitBreaker, commandbus.ResetCircuitBreakerPayload{CircuitKey: "src1", CircuitType: "source"})
	assert.Equal(t, commandbus.StatusOK, result.Status)
}
