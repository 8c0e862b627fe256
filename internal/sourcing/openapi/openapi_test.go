package openapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/tools-provider/internal/tools"
)

func TestParseDocument_RejectsSwagger2(t *testing.T) {
	doc, err := parseDocument([]byte(`{"swagger": "2.0", "paths": {}}`))
	require.NoError(t, err)
	_, err = normalize(doc, "https://api.example.com/openapi.json", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "swagger")
}

func TestNormalize_BuildsOperationIDFallbackName(t *testing.T) {
	doc := map[string]any{
		"openapi": "3.0.3",
		"info":    map[string]any{"title": "t", "version": "1"},
		"servers": []any{map[string]any{"url": "https://api.example.com"}},
		"paths": map[string]any{
			"/widgets/{id}": map[string]any{
				"get": map[string]any{
					"parameters": []any{
						map[string]any{"name": "id", "in": "path", "required": true, "schema": map[string]any{"type": "string"}},
					},
				},
			},
		},
	}
	result, err := normalize(doc, "https://api.example.com/openapi.json", "")
	require.NoError(t, err)
	require.Len(t, result.Tools, 1)
	assert.Equal(t, "get_widgets_id", result.Tools[0].Name)
	assert.Equal(t, "GET", result.Tools[0].Execution.Method)
	assert.Contains(t, result.Tools[0].Execution.URLTemplate, "{{ id }}")
}

func TestNormalize_RequiredAndOptionalQueryParams(t *testing.T) {
	doc := map[string]any{
		"openapi": "3.0.3",
		"info":    map[string]any{"title": "t", "version": "1"},
		"servers": []any{map[string]any{"url": "https://api.example.com"}},
		"paths": map[string]any{
			"/search": map[string]any{
				"get": map[string]any{
					"operationId": "search",
					"parameters": []any{
						map[string]any{"name": "q", "in": "query", "required": true, "schema": map[string]any{"type": "string"}},
						map[string]any{"name": "limit", "in": "query", "required": false, "schema": map[string]any{"type": "integer"}},
					},
				},
			},
		},
	}
	result, err := normalize(doc, "https://api.example.com/openapi.json", "")
	require.NoError(t, err)
	require.Len(t, result.Tools, 1)
	tmpl := result.Tools[0].Execution.URLTemplate
	assert.Contains(t, tmpl, "q={{ q }}")
	assert.Contains(t, tmpl, "if limit is defined")
}

func TestNormalize_AllOptionalQueryParamsGuardLeadingQuestionMark(t *testing.T) {
	doc := map[string]any{
		"openapi": "3.0.3",
		"info":    map[string]any{"title": "t", "version": "1"},
		"servers": []any{map[string]any{"url": "https://api.example.com"}},
		"paths": map[string]any{
			"/search": map[string]any{
				"get": map[string]any{
					"operationId": "search",
					"parameters": []any{
						map[string]any{"name": "q", "in": "query", "required": false, "schema": map[string]any{"type": "string"}},
					},
				},
			},
		},
	}
	result, err := normalize(doc, "https://api.example.com/openapi.json", "")
	require.NoError(t, err)
	tmpl := result.Tools[0].Execution.URLTemplate
	assert.Contains(t, tmpl, "}?q={{ q }}{% endif %}")
}

func TestNormalize_RequestBodyBecomesInputSchemaAndBodyTemplate(t *testing.T) {
	doc := map[string]any{
		"openapi": "3.0.3",
		"info":    map[string]any{"title": "t", "version": "1"},
		"servers": []any{map[string]any{"url": "https://api.example.com"}},
		"paths": map[string]any{
			"/widgets": map[string]any{
				"post": map[string]any{
					"operationId": "createWidget",
					"requestBody": map[string]any{
						"content": map[string]any{
							"application/json": map[string]any{
								"schema": map[string]any{
									"type": "object",
									"properties": map[string]any{
										"name": map[string]any{"type": "string"},
									},
									"required": []any{"name"},
								},
							},
						},
					},
				},
			},
		},
	}
	result, err := normalize(doc, "https://api.example.com/openapi.json", "")
	require.NoError(t, err)
	require.Len(t, result.Tools, 1)
	tool := result.Tools[0]
	props, ok := tool.InputSchema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "name")
	assert.Contains(t, tool.InputSchema["required"], "name")
	assert.Contains(t, tool.Execution.BodyTemplate, `"name": {{ name | json }}`)
}

func TestInventoryHash_StableAcrossOrdering(t *testing.T) {
	a := tools.ToolDefinition{Name: "a"}
	b := tools.ToolDefinition{Name: "b"}
	h1 := inventoryHash([]tools.ToolDefinition{a, b})
	h2 := inventoryHash([]tools.ToolDefinition{b, a})
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 16)
}
