package inventory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/tools-provider/internal/sourcing"
	"goa.design/tools-provider/internal/tools"
)

func seedSource(t *testing.T, repo SourceRepository, id string) {
	t.Helper()
	require.NoError(t, repo.Add(t.Context(), tools.SourceAggregate{ID: id, Name: id, IsEnabled: true}))
}

func TestReconcile_CreatesNewTools(t *testing.T) {
	sources := NewInMemorySourceRepository()
	toolsRepo := NewInMemoryToolRepository()
	seedSource(t, sources, "src1")
	r := New(sources, toolsRepo, nil)

	ingestion := sourcing.IngestionResult{
		Success:       true,
		InventoryHash: "hash1",
		Tools: []tools.ToolDefinition{
			{Name: "get_widget", InputSchema: map[string]any{"type": "object"}},
		},
	}

	result, err := r.Reconcile(t.Context(), "src1", ingestion, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ToolsCreated)
	assert.Equal(t, 0, result.ToolsUpdated)
	assert.Equal(t, 0, result.ToolsDeprecated)
	assert.False(t, result.Unchanged)

	agg, found, err := toolsRepo.Get(t.Context(), "src1:get_widget")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, tools.ToolStatusActive, agg.Status)

	src, _, err := sources.Get(t.Context(), "src1")
	require.NoError(t, err)
	assert.Equal(t, "hash1", src.InventoryHash)
}

func TestReconcile_UnchangedHashSkipsDiff(t *testing.T) {
	sources := NewInMemorySourceRepository()
	toolsRepo := NewInMemoryToolRepository()
	require.NoError(t, sources.Add(t.Context(), tools.SourceAggregate{ID: "src1", InventoryHash: "samehash", IsEnabled: true}))
	r := New(sources, toolsRepo, nil)

	ingestion := sourcing.IngestionResult{Success: true, InventoryHash: "samehash", Tools: []tools.ToolDefinition{{Name: "x"}}}
	result, err := r.Reconcile(t.Context(), "src1", ingestion, false)
	require.NoError(t, err)
	assert.True(t, result.Unchanged)

	_, found, err := toolsRepo.Get(t.Context(), "src1:x")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestReconcile_DeprecatesMissingTools(t *testing.T) {
	sources := NewInMemorySourceRepository()
	toolsRepo := NewInMemoryToolRepository()
	seedSource(t, sources, "src1")
	require.NoError(t, toolsRepo.Add(t.Context(), tools.ToolAggregate{
		SourceID:   "src1",
		Definition: tools.ToolDefinition{Name: "old_tool"},
		Status:     tools.ToolStatusActive,
	}))
	r := New(sources, toolsRepo, nil)

	ingestion := sourcing.IngestionResult{Success: true, InventoryHash: "h2", Tools: []tools.ToolDefinition{{Name: "new_tool"}}}
	result, err := r.Reconcile(t.Context(), "src1", ingestion, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ToolsCreated)
	assert.Equal(t, 1, result.ToolsDeprecated)

	agg, found, err := toolsRepo.Get(t.Context(), "src1:old_tool")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, tools.ToolStatusDeprecated, agg.Status)
}

func TestReconcile_RestoresDeprecatedToolThatReappears(t *testing.T) {
	sources := NewInMemorySourceRepository()
	toolsRepo := NewInMemoryToolRepository()
	seedSource(t, sources, "src1")
	require.NoError(t, toolsRepo.Add(t.Context(), tools.ToolAggregate{
		SourceID:   "src1",
		Definition: tools.ToolDefinition{Name: "come_back"},
		Status:     tools.ToolStatusDeprecated,
	}))
	r := New(sources, toolsRepo, nil)

	ingestion := sourcing.IngestionResult{Success: true, InventoryHash: "h3", Tools: []tools.ToolDefinition{{Name: "come_back", Description: "restored"}}}
	result, err := r.Reconcile(t.Context(), "src1", ingestion, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ToolsUpdated)

	agg, found, err := toolsRepo.Get(t.Context(), "src1:come_back")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, tools.ToolStatusActive, agg.Status)
	assert.Equal(t, "restored", agg.Definition.Description)
}

func TestReconcile_AdapterFailureIncrementsConsecutiveFailuresOnly(t *testing.T) {
	sources := NewInMemorySourceRepository()
	toolsRepo := NewInMemoryToolRepository()
	seedSource(t, sources, "src1")
	require.NoError(t, toolsRepo.Add(t.Context(), tools.ToolAggregate{SourceID: "src1", Definition: tools.ToolDefinition{Name: "t"}, Status: tools.ToolStatusActive}))
	r := New(sources, toolsRepo, nil)

	ingestion := sourcing.IngestionResult{Success: false, Error: "connection refused"}
	_, err := r.Reconcile(t.Context(), "src1", ingestion, false)
	require.NoError(t, err)

	src, _, err := sources.Get(t.Context(), "src1")
	require.NoError(t, err)
	assert.Equal(t, 1, src.ConsecutiveFailures)
	assert.Equal(t, "connection refused", src.LastSyncError)

	agg, _, err := toolsRepo.Get(t.Context(), "src1:t")
	require.NoError(t, err)
	assert.Equal(t, tools.ToolStatusActive, agg.Status)
}

func TestDeprecateSource_CascadesAllTools(t *testing.T) {
	sources := NewInMemorySourceRepository()
	toolsRepo := NewInMemoryToolRepository()
	seedSource(t, sources, "src1")
	require.NoError(t, toolsRepo.Add(t.Context(), tools.ToolAggregate{SourceID: "src1", Definition: tools.ToolDefinition{Name: "a"}, Status: tools.ToolStatusActive}))
	require.NoError(t, toolsRepo.Add(t.Context(), tools.ToolAggregate{SourceID: "src1", Definition: tools.ToolDefinition{Name: "b"}, Status: tools.ToolStatusActive}))
	r := New(sources, toolsRepo, nil)

	result, err := r.DeprecateSource(t.Context(), "src1")
	require.NoError(t, err)
	assert.Equal(t, 2, result.ToolsDeprecated)

	src, _, err := sources.Get(t.Context(), "src1")
	require.NoError(t, err)
	assert.False(t, src.IsEnabled)
}
