// Package externalidp implements the External IdP Provider of spec §4.5:
// composes OIDC discovery (§4.2) with either token exchange (§4.3) or
// client credentials (§4.4) for issuers outside the trusted IdP, without
// the trusted-IdP-specific circuit breaker.
package externalidp

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

	"goa.design/tools-provider/internal/oauth2wire"
	"goa.design/tools-provider/internal/oidc"
	"goa.design/tools-provider/internal/telemetry"
	"goa.design/tools-provider/internal/tokencache"
	"goa.design/tools-provider/internal/toolserr"
)

// Provider composes discovery with one of two grant strategies per request.
type Provider struct {
	discovery *oidc.Cache
	ccCache   *tokencache.Cache
	teCache   *tokencache.Cache
	httpClient *http.Client
	buffer    time.Duration
	logger    telemetry.Logger
}

// New constructs a Provider. ccCache and teCache are the client-credentials
// and token-exchange caches respectively (§4.5 keeps them distinct).
func New(discovery *oidc.Cache, ccCache, teCache *tokencache.Cache, timeout, buffer time.Duration, logger telemetry.Logger) *Provider {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if buffer <= 0 {
		buffer = 60 * time.Second
	}
	return &Provider{
		discovery:  discovery,
		ccCache:    ccCache,
		teCache:    teCache,
		httpClient: &http.Client{Timeout: timeout},
		buffer:     buffer,
		logger:     logger,
	}
}

// ClientCredentialsFor obtains a client-credentials token for an external
// issuer. Cache key: issuer | client_id | scopes (§4.5).
func (p *Provider) ClientCredentialsFor(ctx context.Context, issuer, clientID, clientSecret string, scopes []string) (tokencache.Entry, error) {
	doc, err := p.discovery.Get(ctx, issuer)
	if err != nil {
		return tokencache.Entry{}, err
	}
	p.warnIfGrantUnadvertised(ctx, doc, issuer, "client_credentials")

	key := issuer + "|" + clientID + "|" + strings.Join(sortedCopy(scopes), ",")
	if entry, ok := p.ccCache.Get(ctx, key, p.buffer); ok {
		return entry, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)
	if len(scopes) > 0 {
		form.Set("scope", strings.Join(scopes, " "))
	}
	entry, err := p.callTokenEndpoint(ctx, doc.TokenEndpoint, form)
	if err != nil {
		return tokencache.Entry{}, err
	}
	p.ccCache.Set(ctx, key, entry, p.buffer)
	return entry, nil
}

// TokenExchangeFor obtains a token-exchange token for an external issuer.
// Cache key: issuer | client_id | hash(subject)[:16] | audience (§4.5).
func (p *Provider) TokenExchangeFor(ctx context.Context, issuer, clientID, clientSecret, subjectToken, audience string, scopes []string) (tokencache.Entry, error) {
	doc, err := p.discovery.Get(ctx, issuer)
	if err != nil {
		return tokencache.Entry{}, err
	}
	p.warnIfGrantUnadvertised(ctx, doc, issuer, "urn:ietf:params:oauth:grant-type:token-exchange")

	sum := sha256.Sum256([]byte(subjectToken))
	subjHash := hex.EncodeToString(sum[:])[:16]
	key := issuer + "|" + clientID + "|" + subjHash + "|" + audience
	if entry, ok := p.teCache.Get(ctx, key, p.buffer); ok {
		return entry, nil
	}

	form := url.Values{}
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:token-exchange")
	form.Set("subject_token", subjectToken)
	form.Set("subject_token_type", "urn:ietf:params:oauth:token-type:access_token")
	form.Set("requested_token_type", "urn:ietf:params:oauth:token-type:access_token")
	form.Set("audience", audience)
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)
	if len(scopes) > 0 {
		form.Set("scope", strings.Join(scopes, " "))
	}

	entry, err := p.callTokenEndpoint(ctx, doc.TokenEndpoint, form)
	if err != nil {
		return tokencache.Entry{}, err
	}
	p.teCache.Set(ctx, key, entry, p.buffer)
	return entry, nil
}

// warnIfGrantUnadvertised implements §4.5's advisory supports_token_exchange
// semantics generalized to any grant type: log a warning but never block
// the request.
func (p *Provider) warnIfGrantUnadvertised(ctx context.Context, doc oidc.Document, issuer, grantType string) {
	if len(doc.GrantTypesSupported) == 0 {
		return
	}
	for _, gt := range doc.GrantTypesSupported {
		if gt == grantType {
			return
		}
	}
	p.logger.Warn(ctx, "external IdP does not advertise grant type, attempting anyway", "issuer", issuer, "grant_type", grantType)
}

func (p *Provider) callTokenEndpoint(ctx context.Context, tokenEndpoint string, form url.Values) (tokencache.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return tokencache.Entry{}, toolserr.Wrap(toolserr.KindTokenExchangeFailed, err, "build external IdP token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return tokencache.Entry{}, toolserr.Wrap(toolserr.KindTokenExchangeFailed, err, "external IdP token request failed").WithRetryable(true)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		code, desc := oauth2wire.DecodeError(body)
		retryable := resp.StatusCode >= 500 || code == "temporarily_unavailable" || code == "server_error"
		return tokencache.Entry{}, toolserr.Newf(toolserr.KindTokenExchangeFailed, "external IdP token request failed: %s", desc).
			WithRetryable(retryable).
			WithCode(code).
			WithDetails(map[string]any{"error_code": code, "status_code": resp.StatusCode})
	}

	return oauth2wire.DecodeSuccess(body)
}

func sortedCopy(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}
