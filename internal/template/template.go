// Package template implements the restricted Jinja-style template dialect
// of spec §4.8: variable substitution, `defined` conditionals, and a
// JSON-escape filter for URL/header templates, plus a distinct body
// template renderer that always emits valid JSON.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"goa.design/tools-provider/internal/toolserr"
)

// varPattern matches `{{ name }}` and `{{ name | json }}` substitutions.
var varPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*(\|\s*json\s*)?\}\}`)

// ifBlockPattern matches `{% if name is defined %}...{% endif %}` blocks.
// No nesting is supported; the spec requires only this flat subset (§4.8, §9).
var ifBlockPattern = regexp.MustCompile(`(?s)\{%\s*if\s+([a-zA-Z_][a-zA-Z0-9_]*)\s+is\s+defined\s*%\}(.*?)\{%\s*endif\s*%\}`)

// RenderURL renders a URL or header template: conditional blocks are
// resolved first (so variables inside a false block are never required),
// then every remaining `{{ var }}` is substituted.
func RenderURL(tmpl string, args map[string]any) (string, error) {
	resolved, err := resolveConditionals(tmpl, args)
	if err != nil {
		return "", err
	}
	return substitute(resolved, args, false)
}

// RenderHeader renders a header value template identically to RenderURL.
func RenderHeader(tmpl string, args map[string]any) (string, error) {
	return RenderURL(tmpl, args)
}

func resolveConditionals(tmpl string, args map[string]any) (string, error) {
	var outerErr error
	out := ifBlockPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		sub := ifBlockPattern.FindStringSubmatch(match)
		name, body := sub[1], sub[2]
		if _, defined := args[name]; defined {
			return body
		}
		return ""
	})
	return out, outerErr
}

// substitute replaces every `{{ name }}` (optionally `| json`) with the
// argument value. jsonEscapeDefault forces the json filter even when not
// explicitly requested.
func substitute(tmpl string, args map[string]any, jsonEscapeDefault bool) (string, error) {
	var missing []string
	out := varPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		sub := varPattern.FindStringSubmatch(match)
		name, jsonFilter := sub[1], sub[2] != ""
		val, ok := args[name]
		if !ok {
			missing = append(missing, name)
			return match
		}
		if jsonFilter || jsonEscapeDefault {
			b, _ := json.Marshal(val)
			return string(b)
		}
		return fmt.Sprintf("%v", val)
	})
	if len(missing) > 0 {
		supplied := make([]string, 0, len(args))
		for k := range args {
			supplied = append(supplied, k)
		}
		return "", toolserr.New(toolserr.KindTemplate, "missing required template variables: "+strings.Join(missing, ", ")).
			WithDetails(map[string]any{"missing_variables": missing, "supplied_arguments": supplied})
	}
	return out, nil
}

// RenderBody renders a JSON object body template by iterating the known
// property set in order, emitting `"prop": <json_of_value>` only when the
// argument is defined, and joining with commas inside braces (§4.8). The
// output is always syntactically valid JSON regardless of which optional
// fields were supplied.
func RenderBody(properties []string, args map[string]any) (string, error) {
	var parts []string
	for _, name := range properties {
		val, ok := args[name]
		if !ok {
			continue
		}
		encoded, err := json.Marshal(val)
		if err != nil {
			return "", toolserr.Wrap(toolserr.KindTemplate, err, "encode body property "+name)
		}
		key, _ := json.Marshal(name)
		parts = append(parts, string(key)+": "+string(encoded))
	}
	return "{" + strings.Join(parts, ", ") + "}", nil
}

// Validate reports a TEMPLATE_ERROR if tmpl is syntactically malformed
// (unbalanced {% if %}/{% endif %} or unterminated {{ ... }}), distinct
// from a missing-variable error via the "syntax" detail key (§4.8).
func Validate(tmpl string) error {
	ifCount := strings.Count(tmpl, "{% if")
	endifCount := strings.Count(tmpl, "{% endif")
	if ifCount != endifCount {
		return toolserr.New(toolserr.KindTemplate, "unbalanced if/endif blocks in template").
			WithDetails(map[string]any{"syntax": "unbalanced_conditional"})
	}
	if strings.Count(tmpl, "{{") != strings.Count(tmpl, "}}") {
		return toolserr.New(toolserr.KindTemplate, "unterminated variable substitution in template").
			WithDetails(map[string]any{"syntax": "unterminated_variable"})
	}
	return nil
}
