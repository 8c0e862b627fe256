package builtintools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/tools-provider/internal/userctx"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	dir := t.TempDir()
	return NewRegistry(dir, NewMemoryStore(dir, nil, nil), NewFetcher(dir), NewSandbox())
}

func TestCalculate_BasicArithmetic(t *testing.T) {
	res, err := Calculate(context.Background(), map[string]any{"expression": "2 + 3 * (4 - 1)"}, userctx.Context{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, float64(11), res.Output)
}

func TestCalculate_DivisionByZero(t *testing.T) {
	res, err := Calculate(context.Background(), map[string]any{"expression": "1 / 0"}, userctx.Context{})
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestGenerateUUID_ReturnsValidUUID(t *testing.T) {
	res, err := GenerateUUID(context.Background(), nil, userctx.Context{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Len(t, res.Output.(string), 36)
}

func TestEncodeText_Base64RoundTrip(t *testing.T) {
	enc, err := EncodeText(context.Background(), map[string]any{"text": "hello", "encoding": "base64"}, userctx.Context{})
	require.NoError(t, err)
	dec, err := EncodeText(context.Background(), map[string]any{"text": enc.Output.(string), "encoding": "base64", "direction": "decode"}, userctx.Context{})
	require.NoError(t, err)
	assert.Equal(t, "hello", dec.Output)
}

func TestFileTools_WriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	files := &FileTools{root: dir}
	user := userctx.Context{UserID: "u1"}

	res, err := files.WriteFile(context.Background(), map[string]any{"name": "notes.txt", "content": "hello world"}, user)
	require.NoError(t, err)
	require.True(t, res.Success)

	read, err := files.ReadFile(context.Background(), map[string]any{"name": "notes.txt"}, user)
	require.NoError(t, err)
	require.True(t, read.Success)
	assert.Equal(t, "hello world", read.Output.(map[string]any)["content"])
}

func TestFileTools_RejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	files := &FileTools{root: dir}
	res, err := files.WriteFile(context.Background(), map[string]any{"name": "../../etc/passwd.txt", "content": "x"}, userctx.Context{UserID: "u1"})
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestFileTools_RejectsDisallowedExtension(t *testing.T) {
	dir := t.TempDir()
	files := &FileTools{root: dir}
	res, err := files.WriteFile(context.Background(), map[string]any{"name": "payload.exe", "content": "x"}, userctx.Context{UserID: "u1"})
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestFileTools_RejectsOversizedFile(t *testing.T) {
	dir := t.TempDir()
	files := &FileTools{root: dir}
	big := make([]byte, maxFileBytes+1)
	res, err := files.WriteFile(context.Background(), map[string]any{"name": "big.txt", "content": string(big)}, userctx.Context{UserID: "u1"})
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestMemoryStore_FileFallbackSetGet(t *testing.T) {
	dir := t.TempDir()
	store := NewMemoryStore(dir, nil, nil)
	user := userctx.Context{UserID: "u1"}

	set, err := store.Set(context.Background(), map[string]any{"key": "color", "value": "blue"}, user)
	require.NoError(t, err)
	require.True(t, set.Success)

	get, err := store.Get(context.Background(), map[string]any{"key": "color"}, user)
	require.NoError(t, err)
	require.True(t, get.Success)
	assert.Equal(t, "blue", get.Output)
}

func TestSpreadsheetTools_WriteAndReadWithProjectionAndPagination(t *testing.T) {
	dir := t.TempDir()
	sheets := &SpreadsheetTools{root: dir}
	user := userctx.Context{UserID: "u1"}

	_, err := sheets.Write(context.Background(), map[string]any{"name": "book", "mode": "create"}, user)
	require.NoError(t, err)
	_, err = sheets.Write(context.Background(), map[string]any{
		"name": "book", "mode": "append_rows",
		"rows": []any{[]any{"a", "b", "c"}, []any{"d", "e", "f"}},
	}, user)
	require.NoError(t, err)

	res, err := sheets.Read(context.Background(), map[string]any{"name": "book", "columns": []any{float64(0), float64(2)}}, user)
	require.NoError(t, err)
	require.True(t, res.Success)
	rows := res.Output.(map[string]any)["rows"].([][]string)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"a", "c"}, rows[0])
}

func TestSandbox_ResultAssignment(t *testing.T) {
	sandbox := NewSandbox()
	res, err := sandbox.Run(context.Background(), map[string]any{"code": "result = 2 ^ 10"}, userctx.Context{})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, float64(1024), res.Output.(map[string]any)["result"])
}

func TestRegistry_DispatchesAndReportsUnknown(t *testing.T) {
	reg := newTestRegistry(t)
	_, ok := reg.Lookup("generate_uuid")
	assert.True(t, ok)

	res, err := reg.Run(context.Background(), "does_not_exist", nil, userctx.Context{})
	require.NoError(t, err)
	assert.False(t, res.Success)
}
