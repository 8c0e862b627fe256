package mcp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeToolResult_PlainTextWrappedAsJSONString(t *testing.T) {
	text := "hello world"
	result := toolsCallResult{Content: []contentItem{{Type: "text", Text: &text}}}
	resp, err := normalizeToolResult(result)
	require.NoError(t, err)
	var decoded string
	require.NoError(t, json.Unmarshal(resp.Result, &decoded))
	assert.Equal(t, text, decoded)
}

func TestNormalizeToolResult_JSONTextPassedThroughAsStructured(t *testing.T) {
	text := `{"ok": true}`
	result := toolsCallResult{Content: []contentItem{{Type: "text", Text: &text}}}
	resp, err := normalizeToolResult(result)
	require.NoError(t, err)
	assert.JSONEq(t, text, string(resp.Result))
	assert.JSONEq(t, text, string(resp.Structured))
}

func TestNormalizeToolResult_EmptyContentIsError(t *testing.T) {
	_, err := normalizeToolResult(toolsCallResult{})
	require.Error(t, err)
}
