// Package tokenexchange implements the RFC 8693 Token Exchanger of spec
// §4.3: exchanging an agent's subject token for an audience-scoped access
// token against the trusted identity provider.
package tokenexchange

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"goa.design/tools-provider/internal/circuitbreaker"
	"goa.design/tools-provider/internal/oauth2wire"
	"goa.design/tools-provider/internal/telemetry"
	"goa.design/tools-provider/internal/tokencache"
	"goa.design/tools-provider/internal/toolserr"
)

const (
	grantTypeTokenExchange  = "urn:ietf:params:oauth:grant-type:token-exchange"
	tokenTypeAccessToken    = "urn:ietf:params:oauth:token-type:access_token"
	circuitSourceID         = "keycloak"
	circuitType             = "token_exchange"
	defaultBuffer           = 60 * time.Second
	defaultMinTTL           = 30 * time.Second
)

// Config carries the trusted IdP's token endpoint and the exchanger's own
// client credentials (presented alongside the subject token, per §4.3).
type Config struct {
	TokenEndpoint string
	ClientID      string
	ClientSecret  string
	Timeout       time.Duration
	Buffer        time.Duration
	MinTTL        time.Duration
}

// Error is the typed error returned on exchange failure (§4.3), carrying
// the upstream error code/description and retryability classification.
type Error struct {
	*toolserr.Error
	ErrorCode        string
	ErrorDescription string
	StatusCode       int
}

// Exchanger implements RFC 8693 token exchange with a two-tier cache keyed
// on hash(subject_token)[:16] | audience | sorted(scopes) (§4.3). All calls
// are routed through the shared circuit breaker registered as
// source_id="keycloak", circuit_type="token_exchange".
type Exchanger struct {
	cfg        Config
	httpClient *http.Client
	cache      *tokencache.Cache
	breaker    *circuitbreaker.Breaker
	logger     telemetry.Logger
	metrics    telemetry.Metrics
	tracer     telemetry.Tracer
}

// New constructs an Exchanger. breakers is the shared registry so the
// "keycloak"/"token_exchange" breaker is reused by every caller.
func New(cfg Config, cache *tokencache.Cache, breakers *circuitbreaker.Registry, logger telemetry.Logger) *Exchanger {
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	if cfg.MinTTL <= 0 {
		cfg.MinTTL = defaultMinTTL
	}
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Exchanger{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      cache,
		breaker:    breakers.Get(circuitSourceID, circuitType),
		logger:     logger,
		metrics:    telemetry.NewNoopMetrics(),
		tracer:     telemetry.NewNoopTracer(),
	}
}

// WithTelemetry overrides the Metrics/Tracer collaborators after
// construction, for callers wiring a real OpenTelemetry pipeline.
func (e *Exchanger) WithTelemetry(metrics telemetry.Metrics, tracer telemetry.Tracer) *Exchanger {
	e.metrics = metrics
	e.tracer = tracer
	return e
}

// cacheKey builds hash_sha256(subject_token)[:16] | audience | sorted(scopes).
func cacheKey(subjectToken, audience string, scopes []string) string {
	sum := sha256.Sum256([]byte(subjectToken))
	h := hex.EncodeToString(sum[:])[:16]
	sorted := append([]string(nil), scopes...)
	sort.Strings(sorted)
	return h + "|" + audience + "|" + strings.Join(sorted, ",")
}

// Exchange returns a cached or freshly exchanged access token scoped to
// audience. The subject token is never itself used as a cache key.
//
// The span and named counters (token_exchange_count, token_exchange_errors)
// mirror the original keycloak_token_exchanger's observability module.
func (e *Exchanger) Exchange(ctx context.Context, subjectToken, audience string, scopes []string) (tokencache.Entry, error) {
	ctx, span := e.tracer.Start(ctx, "token_exchange")
	defer span.End()
	e.metrics.IncCounter("token_exchange_count", 1, "audience", audience)

	key := cacheKey(subjectToken, audience, scopes)
	if entry, ok := e.cache.Get(ctx, key, e.cfg.Buffer); ok {
		return entry, nil
	}

	var entry tokencache.Entry
	err := e.breaker.Call(ctx, func(ctx context.Context) error {
		var callErr error
		entry, callErr = e.callTokenEndpoint(ctx, subjectToken, audience, scopes)
		return callErr
	})
	if err != nil {
		te, _ := toolserr.As(err)
		errCode := "unknown"
		if te != nil {
			errCode = string(te.Kind)
		}
		e.metrics.IncCounter("token_exchange_errors", 1, "audience", audience, "error", errCode)
		span.RecordError(err)
		return tokencache.Entry{}, err
	}

	e.cache.Set(ctx, key, entry, e.cfg.MinTTL)
	return entry, nil
}

func (e *Exchanger) callTokenEndpoint(ctx context.Context, subjectToken, audience string, scopes []string) (tokencache.Entry, error) {
	form := url.Values{}
	form.Set("grant_type", grantTypeTokenExchange)
	form.Set("subject_token", subjectToken)
	form.Set("subject_token_type", tokenTypeAccessToken)
	form.Set("requested_token_type", tokenTypeAccessToken)
	form.Set("audience", audience)
	if len(scopes) > 0 {
		form.Set("scope", strings.Join(scopes, " "))
	}
	form.Set("client_id", e.cfg.ClientID)
	form.Set("client_secret", e.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return tokencache.Entry{}, wrapInternal(err, "build token exchange request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return tokencache.Entry{}, wrapRetryable(err, "token exchange request failed")
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return tokencache.Entry{}, classifyError(resp.StatusCode, body)
	}

	return oauth2wire.DecodeSuccess(body)
}

// classifyError implements §4.3's retryability rule: 5xx or
// temporarily_unavailable/server_error are retryable; everything else is not.
func classifyError(status int, body []byte) error {
	code, desc := oauth2wire.DecodeError(body)
	retryable := status >= 500 || code == "temporarily_unavailable" || code == "server_error"
	te := toolserr.Newf(toolserr.KindTokenExchangeFailed, "token exchange failed: %s", desc).
		WithRetryable(retryable).
		WithCode(code).
		WithDetails(map[string]any{
			"error_code":        code,
			"error_description": desc,
			"status_code":       status,
			"upstream_body":     toolserr.TruncateBody(body, 500),
		})
	return te
}

func wrapRetryable(err error, msg string) error {
	return toolserr.Wrap(toolserr.KindTokenExchangeFailed, err, msg).WithRetryable(true)
}

func wrapInternal(err error, msg string) error {
	return toolserr.Wrap(toolserr.KindInternal, err, msg)
}
