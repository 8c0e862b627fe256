package builtintools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"goa.design/tools-provider/internal/userctx"
)

const (
	maxFetchBytes  = 10 * 1024 * 1024
	fetchTimeout   = 15 * time.Second
	downloadsTTL   = 24 * time.Hour
)

// Fetcher implements the Fetch category of §4.11: an HTTP GET bounded by
// size and timeout limits that detects text/JSON/binary by content type
// and saves binary bodies to a per-user workspace. The returned file
// reference carries an expires_at 24h ahead; saved files are not removed
// by this type.
type Fetcher struct {
	root   string
	client *http.Client
}

// NewFetcher constructs a Fetcher whose downloads live under root.
func NewFetcher(root string) *Fetcher {
	return &Fetcher{root: root, client: &http.Client{Timeout: fetchTimeout}}
}

// FetchURL performs the bounded GET described above.
func (f *Fetcher) FetchURL(ctx context.Context, args map[string]any, user userctx.Context) (Result, error) {
	target, _ := args["url"].(string)
	if target == "" {
		return Result{Success: false, Error: "url is required"}, nil
	}
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		return Result{Success: false, Error: "url must be http(s)"}, nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, maxFetchBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}
	if len(body) > maxFetchBytes {
		return Result{Success: false, Error: "response exceeds 10 MB limit"}, nil
	}

	contentType := resp.Header.Get("Content-Type")
	switch {
	case strings.Contains(contentType, "application/json"):
		return Result{Success: true, Output: map[string]any{"content_type": contentType, "status": resp.StatusCode, "body": string(body)}}, nil
	case strings.HasPrefix(contentType, "text/"):
		return Result{Success: true, Output: map[string]any{"content_type": contentType, "status": resp.StatusCode, "body": string(body)}}, nil
	default:
		ref, err := f.saveBinary(user.UserID, body, contentType)
		if err != nil {
			return Result{}, err
		}
		return Result{Success: true, Output: map[string]any{"content_type": contentType, "status": resp.StatusCode, "download_ref": ref, "expires_at": time.Now().Add(downloadsTTL).Format(time.RFC3339)}}, nil
	}
}

func (f *Fetcher) saveBinary(userID string, data []byte, contentType string) (string, error) {
	dir, err := userWorkspaceDir(f.root, userID)
	if err != nil {
		return "", err
	}
	downloads := filepath.Join(dir, "downloads")
	if err := os.MkdirAll(downloads, 0o755); err != nil {
		return "", err
	}
	name := uuid.NewString() + extensionFor(contentType)
	path := filepath.Join(downloads, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return fmt.Sprintf("workspace://%s/downloads/%s", userID, name), nil
}

func extensionFor(contentType string) string {
	switch {
	case strings.Contains(contentType, "png"):
		return ".png"
	case strings.Contains(contentType, "jpeg"):
		return ".jpg"
	case strings.Contains(contentType, "pdf"):
		return ".pdf"
	default:
		return ".bin"
	}
}
