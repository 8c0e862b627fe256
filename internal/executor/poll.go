package executor

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"goa.design/tools-provider/internal/secrets"
	"goa.design/tools-provider/internal/tools"
	"goa.design/tools-provider/internal/toolserr"
)

// poll implements §4.10 step 8: the trigger call's response is merged into
// the argument scope, then the status URL is polled with increasing
// backoff until a completed/failed value is observed or max_poll_attempts
// is exhausted.
func (e *Executor) poll(ctx context.Context, in ExecuteInput, profile tools.ExecutionProfile, bearerToken string, trigger callOutcome) ExecuteResult {
	cfg := profile.PollConfig
	if cfg == nil {
		return trigger.toResult()
	}

	args := mergeTriggerIntoArgs(in.Arguments, trigger.rawBody)

	interval := cfg.PollIntervalSeconds
	if interval <= 0 {
		interval = 2
	}
	maxAttempts := cfg.MaxPollAttempts
	if maxAttempts <= 0 {
		maxAttempts = 30
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return failureFrom(toolserr.Wrap(toolserr.KindUpstreamTimeout, ctx.Err(), "context cancelled during poll"))
		case <-time.After(time.Duration(interval * float64(time.Second))):
		}

		outcome, err := e.pollOnce(ctx, in.SourceID, profile, in.AuthMode, in.AuthConfig, args, bearerToken, cfg)
		if err != nil {
			return failureFrom(err)
		}
		if outcome != nil {
			return *outcome
		}

		interval *= cfg.BackoffMultiplier
		if cfg.BackoffMultiplier <= 0 {
			interval = cfg.PollIntervalSeconds
		}
		if cfg.MaxIntervalSeconds > 0 && interval > cfg.MaxIntervalSeconds {
			interval = cfg.MaxIntervalSeconds
		}
	}

	return failureFrom(toolserr.New(toolserr.KindPollTimeout, "tool did not complete within max_poll_attempts"))
}

// pollOnce performs one status check, returning a non-nil *ExecuteResult
// when the poll has resolved (completed or failed), or nil to keep polling.
func (e *Executor) pollOnce(ctx context.Context, sourceID string, profile tools.ExecutionProfile, authMode tools.AuthMode, authConfig *secrets.AuthConfig, args map[string]any, bearerToken string, cfg *tools.PollConfig) (*ExecuteResult, error) {
	statusProfile := tools.ExecutionProfile{
		Method:          http.MethodGet,
		URLTemplate:     cfg.StatusURLTemplate,
		HeadersTemplate: profile.HeadersTemplate,
		TimeoutSeconds:  profile.TimeoutSeconds,
	}

	outcome, err := e.callOnce(ctx, sourceID, statusProfile, authMode, authConfig, args, bearerToken)
	if err != nil {
		return nil, err
	}
	if outcome.err != nil {
		return nil, outcome.err
	}

	statusValue := gjson.GetBytes(outcome.rawBody, cfg.StatusFieldPath).String()
	if containsValue(cfg.CompletedValues, statusValue) {
		result := any(string(outcome.rawBody))
		if cfg.ResultFieldPath != "" {
			result = gjson.GetBytes(outcome.rawBody, cfg.ResultFieldPath).Value()
		}
		return &ExecuteResult{Status: "completed", Result: result}, nil
	}
	if containsValue(cfg.FailedValues, statusValue) {
		return &ExecuteResult{Status: "failed", Result: parseBody(outcome.rawBody, outcome.contentType), Error: &ResultError{Message: "tool reported failure", ErrorCode: string(toolserr.KindUpstreamError)}}, nil
	}
	return nil, nil
}

func containsValue(values []string, v string) bool {
	for _, candidate := range values {
		if strings.EqualFold(candidate, v) {
			return true
		}
	}
	return false
}

// mergeTriggerIntoArgs flattens the trigger response's top-level JSON
// fields into the argument scope so the polling template can reference
// e.g. {{ job_id }} from the trigger call's response body.
func mergeTriggerIntoArgs(args map[string]any, triggerBody []byte) map[string]any {
	merged := make(map[string]any, len(args))
	for k, v := range args {
		merged[k] = v
	}
	if len(triggerBody) == 0 {
		return merged
	}
	gjson.ParseBytes(triggerBody).ForEach(func(key, value gjson.Result) bool {
		merged[key.String()] = value.Value()
		return true
	})
	return merged
}
