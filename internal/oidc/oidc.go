// Package oidc implements the OIDC Discovery Cache of spec §4.2: fetching
// and memoizing `.well-known/openid-configuration` documents with TTL
// eviction.
package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"goa.design/tools-provider/internal/toolserr"
)

// Document is the subset of the OIDC discovery document the provider cares
// about. Required fields per §4.2: Issuer, TokenEndpoint, JWKSURI.
type Document struct {
	Issuer                  string   `json:"issuer"`
	TokenEndpoint           string   `json:"token_endpoint"`
	JWKSURI                 string   `json:"jwks_uri"`
	GrantTypesSupported     []string `json:"grant_types_supported,omitempty"`
	ScopesSupported         []string `json:"scopes_supported,omitempty"`
}

// SupportsTokenExchange reports whether RFC 8693 token exchange is
// advertised in grant_types_supported. Advisory only (§4.5): absence does
// not block an attempt.
func (d Document) SupportsTokenExchange() bool {
	for _, gt := range d.GrantTypesSupported {
		if gt == "urn:ietf:params:oauth:grant-type:token-exchange" {
			return true
		}
	}
	return false
}

type cacheEntry struct {
	doc       Document
	expiresAt time.Time
}

// Cache fetches and memoizes discovery documents keyed by normalized issuer.
type Cache struct {
	httpClient *http.Client
	ttl        time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// New constructs a Cache. timeout bounds every discovery HTTP call; ttl is
// the default cache lifetime (default 3600s per §4.2).
func New(timeout, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{
		httpClient: &http.Client{Timeout: timeout},
		ttl:        ttl,
		entries:    make(map[string]cacheEntry),
	}
}

// normalize strips a trailing slash from the issuer URL, per §4.2.
func normalize(issuer string) string {
	return strings.TrimSuffix(issuer, "/")
}

// Get returns the discovery document for issuer, fetching and caching it on
// a miss or after TTL expiry (evicted lazily on access).
func (c *Cache) Get(ctx context.Context, issuer string) (Document, error) {
	key := normalize(issuer)

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && time.Now().Before(e.expiresAt) {
		c.mu.Unlock()
		return e.doc, nil
	}
	c.mu.Unlock()

	doc, err := c.fetch(ctx, key)
	if err != nil {
		return Document{}, err
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{doc: doc, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()

	return doc, nil
}

// GetTokenEndpoint is a convenience projection sharing Get's cache.
func (c *Cache) GetTokenEndpoint(ctx context.Context, issuer string) (string, error) {
	doc, err := c.Get(ctx, issuer)
	if err != nil {
		return "", err
	}
	return doc.TokenEndpoint, nil
}

// GetJWKSURI is a convenience projection sharing Get's cache.
func (c *Cache) GetJWKSURI(ctx context.Context, issuer string) (string, error) {
	doc, err := c.Get(ctx, issuer)
	if err != nil {
		return "", err
	}
	return doc.JWKSURI, nil
}

// ClearCache invalidates the entry for issuer, or the entire cache when
// issuer is empty.
func (c *Cache) ClearCache(issuer string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if issuer == "" {
		c.entries = make(map[string]cacheEntry)
		return
	}
	delete(c.entries, normalize(issuer))
}

func (c *Cache) fetch(ctx context.Context, normalizedIssuer string) (Document, error) {
	url := normalizedIssuer + "/.well-known/openid-configuration"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Document{}, toolserr.Wrap(toolserr.KindOIDCDiscoveryError, err, "build discovery request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Document{}, toolserr.Wrap(toolserr.KindOIDCDiscoveryError, err, "fetch discovery document").WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return Document{}, toolserr.Newf(toolserr.KindOIDCDiscoveryError, "discovery endpoint returned %d", resp.StatusCode).WithRetryable(true)
	}
	if resp.StatusCode != http.StatusOK {
		return Document{}, toolserr.Newf(toolserr.KindOIDCDiscoveryError, "discovery endpoint returned %d", resp.StatusCode)
	}

	var doc Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return Document{}, toolserr.Wrap(toolserr.KindOIDCDiscoveryError, err, "decode discovery document")
	}
	if doc.Issuer == "" || doc.TokenEndpoint == "" || doc.JWKSURI == "" {
		return Document{}, toolserr.New(toolserr.KindOIDCDiscoveryError, fmt.Sprintf("discovery document for %s missing required fields", normalizedIssuer))
	}
	return doc, nil
}
