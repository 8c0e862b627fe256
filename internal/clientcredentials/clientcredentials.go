// Package clientcredentials implements the OAuth2 client_credentials grant
// of spec §4.4: a default service-wide credential plus an optional
// per-source credential path, both sharing the buffer/cache machinery.
package clientcredentials

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"goa.design/tools-provider/internal/telemetry"
	"goa.design/tools-provider/internal/tokencache"
	"goa.design/tools-provider/internal/toolserr"
)

const defaultBuffer = 60 * time.Second

// Config is the service's own default client_credentials triple (§4.4
// "default" mode).
type Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Timeout      time.Duration
	Buffer       time.Duration
}

// Credentials is a caller-supplied per-source triple (§4.4 "per-source"
// mode); the cache is keyed on (token_url, client_id) only, not scopes.
type Credentials struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// Service obtains and caches OAuth2 client_credentials tokens.
type Service struct {
	defaultCfg Config
	httpClient *http.Client
	cache      *tokencache.Cache
	logger     telemetry.Logger
}

// New constructs a Service with the service-wide default credentials.
func New(defaultCfg Config, cache *tokencache.Cache, logger telemetry.Logger) *Service {
	if defaultCfg.Buffer <= 0 {
		defaultCfg.Buffer = defaultBuffer
	}
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Service{
		defaultCfg: defaultCfg,
		httpClient: &http.Client{Timeout: defaultCfg.Timeout},
		cache:      cache,
		logger:     logger,
	}
}

// GetDefault obtains a token using the service's own configured credentials.
func (s *Service) GetDefault(ctx context.Context) (tokencache.Entry, error) {
	key := cacheKey(s.defaultCfg.TokenURL, s.defaultCfg.ClientID)
	return s.get(ctx, key, s.defaultCfg.TokenURL, s.defaultCfg.ClientID, s.defaultCfg.ClientSecret, s.defaultCfg.Scopes, s.defaultCfg.Buffer)
}

// GetForSource obtains a token for a caller-supplied per-source credential
// triple. Cache key is (token_url, client_id), per §4.4.
func (s *Service) GetForSource(ctx context.Context, creds Credentials) (tokencache.Entry, error) {
	key := cacheKey(creds.TokenURL, creds.ClientID)
	return s.get(ctx, key, creds.TokenURL, creds.ClientID, creds.ClientSecret, creds.Scopes, s.defaultCfg.Buffer)
}

func cacheKey(tokenURL, clientID string) string { return tokenURL + "|" + clientID }

func (s *Service) get(ctx context.Context, key, tokenURL, clientID, clientSecret string, scopes []string, buffer time.Duration) (tokencache.Entry, error) {
	if entry, ok := s.cache.Get(ctx, key, buffer); ok {
		return entry, nil
	}

	entry, err := s.callTokenEndpoint(ctx, tokenURL, clientID, clientSecret, scopes)
	if err != nil {
		return tokencache.Entry{}, err
	}

	s.cache.Set(ctx, key, entry, buffer)
	return entry, nil
}

func (s *Service) callTokenEndpoint(ctx context.Context, tokenURL, clientID, clientSecret string, scopes []string) (tokencache.Entry, error) {
	cfg := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		Scopes:       scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)

	tok, err := cfg.Token(ctx)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			code, desc := retrieveErr.ErrorCode, retrieveErr.ErrorDescription
			if code == "" {
				code = "unknown_error"
			}
			statusCode := 0
			if retrieveErr.Response != nil {
				statusCode = retrieveErr.Response.StatusCode
			}
			return tokencache.Entry{}, toolserr.Newf(toolserr.KindClientCredsFailed, "client_credentials grant failed: %s", desc).
				WithCode(code).
				WithDetails(map[string]any{
					"error_code":  code,
					"status_code": statusCode,
					"token_url":   tokenURL,
				})
		}
		return tokencache.Entry{}, toolserr.Wrap(toolserr.KindClientCredsFailed, err, "client_credentials request failed")
	}

	scope, _ := tok.Extra("scope").(string)
	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(5 * time.Minute)
	}
	return tokencache.Entry{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
		Scope:       scope,
		ExpiresAt:   expiresAt,
	}, nil
}

// ClearDefault clears the default credential's cache entry.
func (s *Service) ClearDefault(ctx context.Context) {
	s.cache.Evict(ctx, cacheKey(s.defaultCfg.TokenURL, s.defaultCfg.ClientID))
}

// ClearForClientID clears the entire client-credentials cache, whatever
// clientID is given: entries are not cleared per client id, so entries of
// other clients are dropped as well.
func (s *Service) ClearForClientID(ctx context.Context, clientID string) {
	// The shared cache doesn't expose enumeration by suffix; a full clear
	// is the safe, documented fallback for a scoped-but-unknown-token-url
	// invalidation request (global clear is also supported via Clear).
	_ = clientID
	s.cache.Clear(ctx)
}

// Clear clears the entire client-credentials cache (global invalidation).
func (s *Service) Clear(ctx context.Context) {
	s.cache.Clear(ctx)
}
