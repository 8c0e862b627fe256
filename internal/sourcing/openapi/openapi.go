// Package openapi implements the OpenAPI 3.x Source Adapter of spec §4.6.1:
// parses JSON or YAML documents, rejects Swagger 2.0, and normalizes every
// path × method into a ToolDefinition with a rendered URL/body template.
package openapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"goa.design/tools-provider/internal/secrets"
	"goa.design/tools-provider/internal/sourcing"
	"goa.design/tools-provider/internal/tools"
	"goa.design/tools-provider/internal/toolserr"
)

var methods = []string{"get", "post", "put", "patch", "delete"}

var pathParamPattern = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// Adapter implements sourcing.Adapter for OpenAPI 3.0.x/3.1.x documents.
type Adapter struct {
	httpClient *http.Client
}

// New constructs an Adapter using the given HTTP client for spec fetches.
func New(httpClient *http.Client) *Adapter {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Adapter{httpClient: httpClient}
}

var _ sourcing.Adapter = (*Adapter)(nil)

// ValidateURL performs a lightweight GET to confirm the spec URL is reachable.
func (a *Adapter) ValidateURL(ctx context.Context, specURL string, _ *secrets.AuthConfig) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, specURL, nil)
	if err != nil {
		return false, err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return false, nil
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500, nil
}

// FetchAndNormalize fetches the document at specURL and normalizes it.
func (a *Adapter) FetchAndNormalize(ctx context.Context, specURL string, _ *secrets.AuthConfig, defaultAudience string, _ *tools.MCPConfig) (sourcing.IngestionResult, error) {
	body, err := a.fetch(ctx, specURL)
	if err != nil {
		return sourcing.IngestionResult{}, err
	}

	doc, err := parseDocument(body)
	if err != nil {
		return sourcing.IngestionResult{}, err
	}

	return normalize(doc, specURL, defaultAudience)
}

func (a *Adapter) fetch(ctx context.Context, specURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, specURL, nil)
	if err != nil {
		return nil, toolserr.Wrap(toolserr.KindUpstreamConnection, err, "build openapi fetch request")
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, toolserr.Wrap(toolserr.KindUpstreamConnection, err, "fetch openapi document")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return nil, toolserr.Newf(toolserr.KindUpstreamError, "openapi document fetch returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, toolserr.Newf(toolserr.KindNotFound, "openapi document fetch returned %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// parseDocument accepts JSON or YAML, detecting by attempting JSON first.
func parseDocument(body []byte) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err == nil {
		return doc, nil
	}
	if err := yaml.Unmarshal(body, &doc); err != nil {
		return nil, toolserr.Wrap(toolserr.KindValidation, err, "openapi document is neither valid JSON nor YAML")
	}
	return normalizeYAMLMaps(doc).(map[string]any), nil
}

// normalizeYAMLMaps converts map[any]any produced by some yaml decodes into
// map[string]any recursively so downstream type assertions are uniform.
func normalizeYAMLMaps(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(vv))
		for k, val := range vv {
			out[k] = normalizeYAMLMaps(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(vv))
		for k, val := range vv {
			out[fmt.Sprintf("%v", k)] = normalizeYAMLMaps(val)
		}
		return out
	case []any:
		out := make([]any, len(vv))
		for i, val := range vv {
			out[i] = normalizeYAMLMaps(val)
		}
		return out
	default:
		return v
	}
}

func normalize(doc map[string]any, specURL, defaultAudience string) (sourcing.IngestionResult, error) {
	if v, ok := doc["swagger"]; ok {
		return sourcing.IngestionResult{}, toolserr.Newf(toolserr.KindValidation, "swagger %v documents are not supported, only OpenAPI 3.x", v)
	}
	openapiVersion, _ := doc["openapi"].(string)
	if !strings.HasPrefix(openapiVersion, "3.") {
		return sourcing.IngestionResult{}, toolserr.New(toolserr.KindValidation, "missing or unsupported 'openapi' version, expected a 3.x document")
	}
	if _, ok := doc["info"]; !ok {
		return sourcing.IngestionResult{}, toolserr.New(toolserr.KindValidation, "openapi document missing required 'info'")
	}
	paths, _ := doc["paths"].(map[string]any)
	if paths == nil {
		return sourcing.IngestionResult{}, toolserr.New(toolserr.KindValidation, "openapi document missing required 'paths'")
	}

	baseURL := resolveBaseURL(doc, specURL)

	var warnings []string
	var defs []tools.ToolDefinition

	sortedPaths := make([]string, 0, len(paths))
	for p := range paths {
		sortedPaths = append(sortedPaths, p)
	}
	sort.Strings(sortedPaths)

	for _, path := range sortedPaths {
		pathItem, _ := paths[path].(map[string]any)
		if pathItem == nil {
			continue
		}
		pathParams := extractParams(pathItem["parameters"])
		for _, method := range methods {
			opRaw, ok := pathItem[method]
			if !ok {
				continue
			}
			op, _ := opRaw.(map[string]any)
			if op == nil {
				continue
			}
			def, opWarnings := buildToolDefinition(doc, path, method, op, pathParams, baseURL, defaultAudience)
			defs = append(defs, def)
			warnings = append(warnings, opWarnings...)
		}
	}

	hash := inventoryHash(defs)

	return sourcing.IngestionResult{
		Tools:         defs,
		InventoryHash: hash,
		Success:       true,
		Warnings:      warnings,
	}, nil
}

func resolveBaseURL(doc map[string]any, specURL string) string {
	if servers, ok := doc["servers"].([]any); ok && len(servers) > 0 {
		if server, ok := servers[0].(map[string]any); ok {
			if u, ok := server["url"].(string); ok && u != "" {
				if parsed, err := url.Parse(u); err == nil {
					if !parsed.IsAbs() {
						if base, err := url.Parse(specURL); err == nil {
							return base.ResolveReference(parsed).String()
						}
					}
					return u
				}
			}
		}
	}
	if base, err := url.Parse(specURL); err == nil {
		return base.Scheme + "://" + base.Host
	}
	return specURL
}

type param struct {
	name     string
	in       string
	required bool
	typ      string
}

func extractParams(raw any) []param {
	arr, _ := raw.([]any)
	var out []param
	for _, item := range arr {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		p := param{}
		p.name, _ = m["name"].(string)
		p.in, _ = m["in"].(string)
		if req, ok := m["required"].(bool); ok {
			p.required = req
		}
		if schema, ok := m["schema"].(map[string]any); ok {
			p.typ, _ = schema["type"].(string)
		}
		if p.name != "" {
			out = append(out, p)
		}
	}
	return out
}

func buildToolDefinition(doc map[string]any, path, method string, op map[string]any, pathParams []param, baseURL, defaultAudience string) (tools.ToolDefinition, []string) {
	var warnings []string

	name, _ := op["operationId"].(string)
	if name == "" {
		name = method + "_" + pathToIdentifier(path)
	}

	description, _ := op["description"].(string)
	if description == "" {
		description, _ = op["summary"].(string)
	}

	allParams := append(append([]param(nil), pathParams...), extractParams(op["parameters"])...)

	properties := map[string]any{}
	var required []string
	for _, p := range allParams {
		if p.in == "header" {
			continue
		}
		properties[p.name] = map[string]any{"type": mapType(p.typ)}
		if p.required {
			required = append(required, p.name)
		}
	}

	isBodyMethod := method == "post" || method == "put" || method == "patch"
	var bodyPropertyOrder []string
	if isBodyMethod {
		if reqBody, ok := op["requestBody"].(map[string]any); ok {
			if content, ok := reqBody["content"].(map[string]any); ok {
				if jsonContent, ok := content["application/json"].(map[string]any); ok {
					if bodySchema, ok := jsonContent["schema"].(map[string]any); ok {
						bodySchema = resolveLocalRef(doc, bodySchema, &warnings)
						if bodyProps, ok := bodySchema["properties"].(map[string]any); ok {
							keys := make([]string, 0, len(bodyProps))
							for k := range bodyProps {
								keys = append(keys, k)
							}
							sort.Strings(keys)
							for _, k := range keys {
								properties[k] = normalizeSchemaProperty(bodyProps[k])
								bodyPropertyOrder = append(bodyPropertyOrder, k)
							}
						}
						if bodyReq, ok := bodySchema["required"].([]any); ok {
							for _, r := range bodyReq {
								if s, ok := r.(string); ok {
									required = append(required, s)
								}
							}
						}
					}
				}
			}
		}
	}

	required = dedupe(required)

	inputSchema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		inputSchema["required"] = required
	}

	urlTemplate := buildURLTemplate(baseURL, path, allParams)
	headersTemplate := buildHeaderTemplate(allParams)

	var bodyTemplate string
	if isBodyMethod {
		bodyTemplate = buildBodyTemplate(bodyPropertyOrder)
	}

	audience := extractAudience(op, defaultAudience)

	profile := tools.ExecutionProfile{
		Mode:             tools.ModeSyncHTTP,
		Method:           strings.ToUpper(method),
		URLTemplate:      urlTemplate,
		HeadersTemplate:  headersTemplate,
		BodyTemplate:     bodyTemplate,
		ContentType:      "application/json",
		RequiredAudience: audience,
		TimeoutSeconds:   30,
	}

	return tools.ToolDefinition{
		Name:        name,
		Description: description,
		InputSchema: inputSchema,
		SourcePath:  method + " " + path,
		Execution:   profile,
	}, warnings
}

func pathToIdentifier(path string) string {
	stripped := pathParamPattern.ReplaceAllString(path, "$1")
	parts := strings.FieldsFunc(stripped, func(r rune) bool { return r == '/' })
	return strings.Join(parts, "_")
}

func mapType(t string) string {
	switch strings.ToLower(t) {
	case "str":
		return "string"
	case "int":
		return "integer"
	case "bool":
		return "boolean"
	case "float":
		return "number"
	case "dict":
		return "object"
	case "list":
		return "array"
	case "string", "integer", "boolean", "number", "object", "array":
		return strings.ToLower(t)
	default:
		return "string"
	}
}

// normalizeSchemaProperty applies the array/object defaulting rules of
// §4.6.1 step 2: arrays without items default to {type: string}; objects
// without properties default to {}.
func normalizeSchemaProperty(raw any) any {
	m, ok := raw.(map[string]any)
	if !ok {
		return map[string]any{"type": "string"}
	}
	t, _ := m["type"].(string)
	m["type"] = mapType(t)
	if m["type"] == "array" {
		if _, ok := m["items"]; !ok {
			m["items"] = map[string]any{"type": "string"}
		}
	}
	if m["type"] == "object" {
		if _, ok := m["properties"]; !ok {
			m["properties"] = map[string]any{}
		}
	}
	return m
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// buildURLTemplate implements §4.6.1 step 3: path params become
// {{ param }}, query params are appended per the required/optional anchor
// rules.
func buildURLTemplate(baseURL, path string, params []param) string {
	urlPath := pathParamPattern.ReplaceAllString(path, "{{ $1 }}")

	var requiredQuery, optionalQuery []param
	for _, p := range params {
		if p.in != "query" {
			continue
		}
		if p.required {
			requiredQuery = append(requiredQuery, p)
		} else {
			optionalQuery = append(optionalQuery, p)
		}
	}

	if len(requiredQuery) == 0 && len(optionalQuery) == 0 {
		return baseURL + urlPath
	}

	var b strings.Builder
	b.WriteString(baseURL)
	b.WriteString(urlPath)

	if len(requiredQuery) > 0 {
		b.WriteString("?")
		for i, p := range requiredQuery {
			if i > 0 {
				b.WriteString("&")
			}
			fmt.Fprintf(&b, "%s={{ %s }}", p.name, p.name)
		}
		for _, p := range optionalQuery {
			fmt.Fprintf(&b, "{%% if %s is defined %%}&%s={{ %s }}{%% endif %%}", p.name, p.name, p.name)
		}
		return b.String()
	}

	// All optional: the "?" itself must appear only if at least one
	// argument is supplied (§4.6.1 step 3 / §8 boundary case).
	for i, p := range optionalQuery {
		sep := "&"
		if i == 0 {
			sep = "?"
		}
		fmt.Fprintf(&b, "{%% if %s is defined %%}%s%s={{ %s }}{%% endif %%}", p.name, sep, p.name, p.name)
	}
	return b.String()
}

func buildHeaderTemplate(params []param) map[string]string {
	headers := map[string]string{}
	for _, p := range params {
		if p.in != "header" {
			continue
		}
		if p.required {
			headers[p.name] = fmt.Sprintf("{{ %s }}", p.name)
		} else {
			headers[p.name] = fmt.Sprintf("{%% if %s is defined %%}{{ %s }}{%% endif %%}", p.name, p.name)
		}
	}
	return headers
}

func buildBodyTemplate(properties []string) string {
	var parts []string
	for _, name := range properties {
		parts = append(parts, fmt.Sprintf("{%% if %s is defined %%}\"%s\": {{ %s | json }}{%% endif %%}", name, name, name))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func extractAudience(op map[string]any, defaultAudience string) string {
	if security, ok := op["security"].([]any); ok {
		for _, s := range security {
			if sm, ok := s.(map[string]any); ok {
				for _, flow := range sm {
					if flowMap, ok := flow.(map[string]any); ok {
						if aud, ok := flowMap["x-audience"].(string); ok && aud != "" {
							return aud
						}
					}
				}
			}
		}
	}
	return defaultAudience
}

// resolveLocalRef resolves a single-level local $ref (#/components/...).
// External refs are left unresolved with a warning (§4.6.1 step 5).
func resolveLocalRef(doc map[string]any, schema map[string]any, warnings *[]string) map[string]any {
	ref, ok := schema["$ref"].(string)
	if !ok {
		return schema
	}
	if !strings.HasPrefix(ref, "#/") {
		*warnings = append(*warnings, "external $ref not resolved: "+ref)
		return schema
	}
	parts := strings.Split(strings.TrimPrefix(ref, "#/"), "/")
	var cur any = doc
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			*warnings = append(*warnings, "could not resolve local $ref: "+ref)
			return schema
		}
		cur, ok = m[p]
		if !ok {
			*warnings = append(*warnings, "could not resolve local $ref: "+ref)
			return schema
		}
	}
	resolved, ok := cur.(map[string]any)
	if !ok {
		*warnings = append(*warnings, "local $ref did not resolve to an object: "+ref)
		return schema
	}
	return resolved
}

// inventoryHash computes SHA-256 of the canonical JSON of tools sorted by
// name, truncated to 16 hex chars (§4.6.1).
func inventoryHash(defs []tools.ToolDefinition) string {
	sorted := append([]tools.ToolDefinition(nil), defs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	b, _ := json.Marshal(sorted)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:16]
}
