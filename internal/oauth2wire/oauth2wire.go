// Package oauth2wire decodes the OAuth2 token endpoint response bodies
// shared by the Token Exchanger, Client Credentials Service, and External
// IdP Provider (§4.3-§4.5), so each keeps one copy of this wire shape.
package oauth2wire

import (
	"encoding/json"
	"time"

	"goa.design/tools-provider/internal/tokencache"
)

// tokenResponse is the standard OAuth2 token endpoint success body.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}

// errorResponse is the standard OAuth2 token endpoint error body (RFC 6749 §5.2).
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// DecodeSuccess parses a 200 OAuth2 token response into a cache entry.
func DecodeSuccess(body []byte) (tokencache.Entry, error) {
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return tokencache.Entry{}, err
	}
	expiresIn := tr.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 300
	}
	return tokencache.Entry{
		AccessToken: tr.AccessToken,
		TokenType:   tr.TokenType,
		Scope:       tr.Scope,
		ExpiresAt:   time.Now().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}

// DecodeError parses a non-200 OAuth2 error response, tolerating bodies
// that aren't valid JSON (some gateways return plain text/HTML on 5xx).
func DecodeError(body []byte) (code, description string) {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error != "" {
		return er.Error, er.ErrorDescription
	}
	return "unknown_error", string(body)
}
