// Package userctx extracts per-user scoping information from an agent JWT
// without verifying its signature — the edge has already verified the
// token before it reached the provider (§4.11).
package userctx

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"goa.design/tools-provider/internal/toolserr"
)

// Context is the best-effort identity extracted from an agent token, used
// to scope built-in tool state (workspace files, memory) per user.
type Context struct {
	UserID      string
	DisplayName string
}

// FromToken decodes the JWT payload segment of token without verifying its
// signature and extracts "sub" plus a best-effort display name from
// "name" or "preferred_username". An empty token yields an anonymous
// Context rather than an error, since built-in tools must still run for
// unauthenticated local testing.
func FromToken(token string) (Context, error) {
	if token == "" {
		return Context{UserID: "anonymous"}, nil
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Context{}, toolserr.New(toolserr.KindValidation, "agent token is not a JWT")
	}

	payload, err := decodeSegment(parts[1])
	if err != nil {
		return Context{}, toolserr.Wrap(toolserr.KindValidation, err, "decode agent token payload")
	}

	var claims struct {
		Sub               string `json:"sub"`
		Name              string `json:"name"`
		PreferredUsername string `json:"preferred_username"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Context{}, toolserr.Wrap(toolserr.KindValidation, err, "parse agent token claims")
	}
	if claims.Sub == "" {
		return Context{}, toolserr.New(toolserr.KindValidation, "agent token missing sub claim")
	}

	name := claims.Name
	if name == "" {
		name = claims.PreferredUsername
	}
	if name == "" {
		name = claims.Sub
	}

	return Context{UserID: claims.Sub, DisplayName: name}, nil
}

func decodeSegment(seg string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(seg); err == nil {
		return b, nil
	}
	return base64.StdEncoding.DecodeString(seg)
}
