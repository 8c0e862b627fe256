// Package schema implements the JSON Schema Draft-7 argument validator of
// spec §4.9, grounded on the teacher's jsonschema/v6 compile-and-validate
// pattern (registry/service.go).
package schema

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"goa.design/tools-provider/internal/toolserr"
)

const maxValidationErrors = 5

// Validator compiles and caches JSON Schema Draft-7 documents, validating
// invocation arguments against them. Validation can be toggled globally or
// overridden per call (§4.9).
type Validator struct {
	enabled bool

	mu     sync.Mutex
	cached map[string]*jsonschema.Schema
}

// New constructs a Validator. enabled is the global toggle; SetEnabled can
// flip it at runtime (e.g. via an admin command).
func New(enabled bool) *Validator {
	return &Validator{enabled: enabled, cached: make(map[string]*jsonschema.Schema)}
}

// SetEnabled toggles validation globally.
func (v *Validator) SetEnabled(enabled bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.enabled = enabled
}

// Enabled reports the current global toggle state.
func (v *Validator) Enabled() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.enabled
}

// Validate checks arguments against inputSchema. override, when non-nil,
// takes precedence over the global toggle for this call only.
func (v *Validator) Validate(toolID string, inputSchema map[string]any, arguments map[string]any, override *bool) error {
	enabled := v.Enabled()
	if override != nil {
		enabled = *override
	}
	if !enabled {
		return nil
	}
	if len(inputSchema) == 0 {
		return nil
	}

	compiled, err := v.compile(toolID, inputSchema)
	if err != nil {
		return toolserr.Wrap(toolserr.KindInternal, err, "compile input schema for "+toolID)
	}

	if err := compiled.Validate(toAny(arguments)); err != nil {
		return toolserr.New(toolserr.KindValidation, "argument validation failed").
			WithDetails(map[string]any{"validation_errors": extractMessages(err)})
	}
	return nil
}

func (v *Validator) compile(toolID string, inputSchema map[string]any) (*jsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if s, ok := v.cached[toolID]; ok {
		return s, nil
	}

	c := jsonschema.NewCompiler()
	c.DefaultDraft(jsonschema.Draft7)
	resourceName := "schema://" + toolID
	if err := c.AddResource(resourceName, toAny(inputSchema)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	s, err := c.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	v.cached[toolID] = s
	return s, nil
}

// Invalidate drops a cached compiled schema, e.g. after a tool definition
// update during inventory reconciliation.
func (v *Validator) Invalidate(toolID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.cached, toolID)
}

// toAny round-trips through JSON so map[string]any values compiled from Go
// structures match what jsonschema/v6 expects from a decoded document.
func toAny(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

// extractMessages flattens a jsonschema validation error into up to 5
// path-qualified messages (§4.9, §7).
func extractMessages(err error) []string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}
	}

	var messages []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(messages) >= maxValidationErrors {
			return
		}
		if len(e.Causes) == 0 {
			loc := "#"
			if len(e.InstanceLocation) > 0 {
				loc = "/" + joinPath(e.InstanceLocation)
			}
			messages = append(messages, fmt.Sprintf("%s: %s", loc, e.Error()))
			return
		}
		for _, cause := range e.Causes {
			if len(messages) >= maxValidationErrors {
				return
			}
			walk(cause)
		}
	}
	walk(ve)
	if len(messages) > maxValidationErrors {
		messages = messages[:maxValidationErrors]
	}
	return messages
}

func joinPath(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "/"
		}
		out += p
	}
	return out
}
