// Package executor implements the Tool Executor of spec §4.10: validates
// arguments, short-circuits to a built-in tool, resolves the upstream
// credential per auth_mode, renders the request through the template
// engine, and dispatches through the source's circuit breaker.
package executor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/codes"

	"goa.design/tools-provider/internal/builtintools"
	"goa.design/tools-provider/internal/circuitbreaker"
	"goa.design/tools-provider/internal/clientcredentials"
	"goa.design/tools-provider/internal/schema"
	"goa.design/tools-provider/internal/secrets"
	"goa.design/tools-provider/internal/telemetry"
	"goa.design/tools-provider/internal/template"
	"goa.design/tools-provider/internal/tokenexchange"
	"goa.design/tools-provider/internal/tools"
	"goa.design/tools-provider/internal/toolserr"
	"goa.design/tools-provider/internal/userctx"
)

const defaultTimeout = 30 * time.Second

// ResultError is the uniform error shape carried by a failed ExecuteResult.
type ResultError struct {
	Message   string         `json:"message"`
	ErrorCode string         `json:"error_code"`
	Details   map[string]any `json:"details,omitempty"`
}

// ExecuteResult is the uniform wire shape for both success and failure,
// per §4.10's closing paragraph.
type ExecuteResult struct {
	Status          string         `json:"status"`
	Result          any            `json:"result,omitempty"`
	Error           *ResultError   `json:"error,omitempty"`
	ExecutionTimeMs int64          `json:"execution_time_ms"`
	UpstreamStatus  int            `json:"upstream_status,omitempty"`
}

// ExecuteInput bundles every input named in §4.10's opening paragraph.
type ExecuteInput struct {
	ToolID          string
	Definition      tools.ToolDefinition
	Arguments       map[string]any
	AgentToken      string
	SourceID        string
	AuthMode        tools.AuthMode
	AuthConfig      *secrets.AuthConfig
	DefaultAudience string
	ValidateSchema  *bool
}

// Executor wires together every §4.10 collaborator.
type Executor struct {
	Schema      *schema.Validator
	Breakers    *circuitbreaker.Registry
	Exchanger   *tokenexchange.Exchanger
	ClientCreds *clientcredentials.Service
	Builtin     *builtintools.Registry
	HTTPClient  *http.Client
	Logger      telemetry.Logger
	Metrics     telemetry.Metrics
	Tracer      telemetry.Tracer
}

// New constructs an Executor from its collaborators.
func New(schemaValidator *schema.Validator, breakers *circuitbreaker.Registry, exchanger *tokenexchange.Exchanger, clientCreds *clientcredentials.Service, builtin *builtintools.Registry, logger telemetry.Logger) *Executor {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Executor{
		Schema:      schemaValidator,
		Breakers:    breakers,
		Exchanger:   exchanger,
		ClientCreds: clientCreds,
		Builtin:     builtin,
		HTTPClient:  &http.Client{Timeout: defaultTimeout, CheckRedirect: limitRedirects(5)},
		Logger:      logger,
		Metrics:     telemetry.NewNoopMetrics(),
		Tracer:      telemetry.NewNoopTracer(),
	}
}

func limitRedirects(max int) func(*http.Request, []*http.Request) error {
	return func(_ *http.Request, via []*http.Request) error {
		if len(via) >= max {
			return http.ErrUseLastResponse
		}
		return nil
	}
}

// Execute runs the full §4.10 pipeline, never returning a Go error for
// expected failure modes: every failure path is reported inside
// ExecuteResult so the Command Bus façade has one uniform shape to surface.
//
// Tracing and the named counters (tool_execution_count, tool_execution_errors,
// tool_execution_time) mirror the original tool_executor's "execute_tool_command"
// span and its observability module.
func (e *Executor) Execute(ctx context.Context, in ExecuteInput) ExecuteResult {
	if e.Tracer == nil {
		e.Tracer = telemetry.NewNoopTracer()
	}
	if e.Metrics == nil {
		e.Metrics = telemetry.NewNoopMetrics()
	}
	ctx, span := e.Tracer.Start(ctx, "execute_tool_command")
	defer span.End()
	e.Metrics.IncCounter("tool_execution_count", 1, "tool_id", in.ToolID)

	start := time.Now()
	result := e.execute(ctx, in)
	result.ExecutionTimeMs = time.Since(start).Milliseconds()
	e.Metrics.RecordTimer("tool_execution_time", time.Since(start), "tool_id", in.ToolID)

	if result.Status != "completed" {
		errCode := ""
		if result.Error != nil {
			errCode = result.Error.ErrorCode
		}
		e.Metrics.IncCounter("tool_execution_errors", 1, "tool_id", in.ToolID, "error_code", errCode)
		span.SetStatus(codes.Error, errCode)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return result
}

func (e *Executor) execute(ctx context.Context, in ExecuteInput) ExecuteResult {
	// Step 1: validate.
	if err := e.Schema.Validate(in.ToolID, in.Definition.InputSchema, in.Arguments, in.ValidateSchema); err != nil {
		return failureFrom(err)
	}

	// Step 2: built-in short-circuit.
	if in.Definition.Execution.IsBuiltin() {
		return e.executeBuiltin(ctx, in)
	}

	profile := in.Definition.Execution

	// Step 3: resolve upstream credential.
	bearerToken, err := e.resolveCredential(ctx, in)
	if err != nil {
		return failureFrom(err)
	}

	trigger, err := e.callOnce(ctx, in.SourceID, profile, in.AuthMode, in.AuthConfig, in.Arguments, bearerToken)
	if err != nil {
		return failureFrom(err)
	}
	if trigger.status == "failed" && profile.Mode != tools.ModeAsyncPoll {
		return trigger.toResult()
	}

	if profile.Mode != tools.ModeAsyncPoll {
		return trigger.toResult()
	}

	// Step 8: async-poll mode.
	return e.poll(ctx, in, profile, bearerToken, trigger)
}

func (e *Executor) executeBuiltin(ctx context.Context, in ExecuteInput) ExecuteResult {
	user, err := userctx.FromToken(in.AgentToken)
	if err != nil {
		return failureFrom(err)
	}
	name := strings.TrimPrefix(in.Definition.SourcePath, string(tools.BuiltinScheme))
	if name == in.Definition.SourcePath {
		name = strings.TrimPrefix(in.Definition.Execution.URLTemplate, string(tools.BuiltinScheme))
	}
	res, err := e.Builtin.Run(ctx, name, in.Arguments, user)
	if err != nil {
		return failureFrom(toolserr.Wrap(toolserr.KindInternal, err, "built-in tool execution"))
	}
	if !res.Success {
		return ExecuteResult{Status: "failed", Error: &ResultError{Message: res.Error, ErrorCode: string(toolserr.KindValidation)}}
	}
	return ExecuteResult{Status: "completed", Result: res.Output}
}

// resolveCredential implements step 3's table.
func (e *Executor) resolveCredential(ctx context.Context, in ExecuteInput) (string, error) {
	switch in.AuthMode {
	case tools.AuthClientCredentials:
		if in.AuthConfig != nil && in.AuthConfig.OAuth2 != nil {
			entry, err := e.ClientCreds.GetForSource(ctx, clientcredentials.Credentials{
				TokenURL:     in.AuthConfig.OAuth2.TokenURL,
				ClientID:     in.AuthConfig.OAuth2.ClientID,
				ClientSecret: in.AuthConfig.OAuth2.ClientSecret,
				Scopes:       in.AuthConfig.OAuth2.Scopes,
			})
			if err != nil {
				return "", err
			}
			return entry.AccessToken, nil
		}
		entry, err := e.ClientCreds.GetDefault(ctx)
		if err != nil {
			return "", err
		}
		return entry.AccessToken, nil
	case tools.AuthTokenExchange:
		if in.DefaultAudience == "" {
			return in.AgentToken, nil
		}
		entry, err := e.Exchanger.Exchange(ctx, in.AgentToken, in.DefaultAudience, in.Definition.Execution.RequiredScopes)
		if err != nil {
			return "", err
		}
		return entry.AccessToken, nil
	default:
		return "", nil
	}
}

type callOutcome struct {
	status         string
	result         any
	rawBody        []byte
	contentType    string
	upstreamStatus int
	err            *toolserr.Error
}

func (c callOutcome) toResult() ExecuteResult {
	if c.err != nil {
		return ExecuteResult{
			Status:         "failed",
			Error:          &ResultError{Message: c.err.Message, ErrorCode: string(c.err.Kind), Details: c.err.Details},
			UpstreamStatus: c.upstreamStatus,
		}
	}
	return ExecuteResult{Status: c.status, Result: c.result, UpstreamStatus: c.upstreamStatus}
}

// callOnce renders and performs a single HTTP call through the source's
// circuit breaker (§4.10 steps 4-7), used both for the primary trigger call
// and for each ASYNC_POLL status check.
func (e *Executor) callOnce(ctx context.Context, sourceID string, profile tools.ExecutionProfile, authMode tools.AuthMode, authConfig *secrets.AuthConfig, args map[string]any, bearerToken string) (callOutcome, error) {
	renderedURL, err := template.RenderURL(profile.URLTemplate, args)
	if err != nil {
		return callOutcome{}, err
	}

	headers := map[string]string{}
	for name, tmpl := range profile.HeadersTemplate {
		v, err := template.RenderHeader(tmpl, args)
		if err != nil {
			return callOutcome{}, err
		}
		if v != "" {
			headers[name] = v
		}
	}
	injectCredentialHeaders(headers, authMode, authConfig, bearerToken)

	var body io.Reader
	if profile.BodyTemplate != "" {
		rendered, err := template.RenderURL(profile.BodyTemplate, args)
		if err != nil {
			return callOutcome{}, err
		}
		body = strings.NewReader(rendered)
	}

	method := profile.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, renderedURL, body)
	if err != nil {
		return callOutcome{}, toolserr.Wrap(toolserr.KindInternal, err, "build upstream request")
	}
	if profile.ContentType != "" && body != nil {
		req.Header.Set("Content-Type", profile.ContentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	timeout := defaultTimeout
	if profile.TimeoutSeconds > 0 {
		timeout = time.Duration(profile.TimeoutSeconds * float64(time.Second))
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req = req.WithContext(callCtx)

	breaker := e.Breakers.Get(sourceID, "tool_execution")

	var outcome callOutcome
	callErr := breaker.Call(ctx, func(ctx context.Context) error {
		resp, err := e.HTTPClient.Do(req)
		if err != nil {
			classified := classifyTransportError(err)
			outcome = callOutcome{status: "failed", err: classified}
			return classified
		}
		defer resp.Body.Close()

		respBody, _ := io.ReadAll(resp.Body)
		contentType := resp.Header.Get("Content-Type")

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			outcome = callOutcome{status: "completed", result: parseBody(respBody, contentType), rawBody: respBody, contentType: contentType, upstreamStatus: resp.StatusCode}
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			outcome = callOutcome{status: "failed", result: parseBody(respBody, contentType), rawBody: respBody, contentType: contentType, upstreamStatus: resp.StatusCode}
			return nil
		default:
			te := toolserr.Newf(toolserr.KindUpstreamError, "upstream returned %d", resp.StatusCode).
				WithDetails(map[string]any{"upstream_body": toolserr.TruncateBody(respBody, 500), "status_code": resp.StatusCode})
			outcome = callOutcome{status: "failed", err: te, upstreamStatus: resp.StatusCode}
			return te
		}
	})
	if callErr != nil && outcome.err == nil {
		// The breaker itself rejected the call (CIRCUIT_OPEN/CIRCUIT_TESTING).
		if te, ok := toolserr.As(callErr); ok {
			outcome = callOutcome{status: "failed", err: te}
		}
	}

	if outcome.result != nil && profile.ResponseMapping != nil {
		outcome.result = applyResponseMapping(outcome.rawBody, profile.ResponseMapping)
	}

	return outcome, nil
}

func parseBody(body []byte, contentType string) any {
	if strings.Contains(contentType, "application/json") {
		var v any
		if err := json.Unmarshal(body, &v); err == nil {
			return v
		}
	}
	return string(body)
}

func applyResponseMapping(rawBody []byte, mapping map[string]string) map[string]any {
	out := make(map[string]any, len(mapping))
	for field, path := range mapping {
		result := gjson.GetBytes(rawBody, path)
		if result.Exists() {
			out[field] = result.Value()
		}
	}
	return out
}

func classifyTransportError(err error) *toolserr.Error {
	if ue, ok := err.(interface{ Timeout() bool }); ok && ue.Timeout() {
		return toolserr.Wrap(toolserr.KindUpstreamTimeout, err, "upstream request timed out")
	}
	return toolserr.Wrap(toolserr.KindUpstreamConnection, err, "upstream connection failed")
}

func injectCredentialHeaders(headers map[string]string, authMode tools.AuthMode, authConfig *secrets.AuthConfig, bearerToken string) {
	if _, present := headers["Authorization"]; present {
		return
	}
	switch authMode {
	case tools.AuthAPIKey:
		if authConfig != nil && authConfig.APIKey != nil && authConfig.APIKey.Location == secrets.APIKeyLocationHeader {
			headers[authConfig.APIKey.Name] = authConfig.APIKey.Value
		}
	case tools.AuthHTTPBasic:
		if authConfig != nil && authConfig.HTTPBasic != nil {
			raw := authConfig.HTTPBasic.Username + ":" + authConfig.HTTPBasic.Password
			headers["Authorization"] = "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
		}
	case tools.AuthClientCredentials, tools.AuthTokenExchange:
		if bearerToken != "" {
			headers["Authorization"] = "Bearer " + bearerToken
		}
	}
}

func failureFrom(err error) ExecuteResult {
	if te, ok := toolserr.As(err); ok {
		return ExecuteResult{Status: "failed", Error: &ResultError{Message: te.Message, ErrorCode: string(te.Kind), Details: te.Details}}
	}
	return ExecuteResult{Status: "failed", Error: &ResultError{Message: err.Error(), ErrorCode: string(toolserr.KindInternal)}}
}
