package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/tools-provider/internal/toolserr"
)

func TestRenderURL_SimpleSubstitution(t *testing.T) {
	out, err := RenderURL("{base}/users/{{ id }}", map[string]any{"id": "42"})
	require.NoError(t, err)
	assert.Equal(t, "{base}/users/42", out)
}

func TestRenderURL_ConditionalQueryParam(t *testing.T) {
	tmpl := "{base}/users?limit={{ limit }}{% if q is defined %}&q={{ q }}{% endif %}"

	out, err := RenderURL(tmpl, map[string]any{"limit": 10})
	require.NoError(t, err)
	assert.Equal(t, "{base}/users?limit=10", out)

	out, err = RenderURL(tmpl, map[string]any{"limit": 10, "q": "foo"})
	require.NoError(t, err)
	assert.Equal(t, "{base}/users?limit=10&q=foo", out)
}

func TestRenderURL_MissingRequiredVariable(t *testing.T) {
	_, err := RenderURL("{base}/users/{{ id }}", map[string]any{})
	te, ok := toolserr.As(err)
	require.True(t, ok)
	assert.Equal(t, toolserr.KindTemplate, te.Kind)
	assert.False(t, te.Retryable)
}

func TestRenderBody_OnlyProvidedProperties(t *testing.T) {
	out, err := RenderBody([]string{"a", "b"}, map[string]any{"a": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": 1}`, out)
}

func TestRenderBody_AlwaysValidJSON(t *testing.T) {
	out, err := RenderBody([]string{"a", "b", "c"}, map[string]any{})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, out)
}

func TestValidate_DetectsUnbalancedConditional(t *testing.T) {
	err := Validate("{% if q is defined %}&q={{ q }}")
	te, ok := toolserr.As(err)
	require.True(t, ok)
	assert.Equal(t, toolserr.KindTemplate, te.Kind)
}
