package builtintools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// userWorkspaceDir returns (and creates) the per-user workspace directory
// under root, scoping Files/Fetch/Spreadsheet state by user_id (§4.11).
func userWorkspaceDir(root, userID string) (string, error) {
	if userID == "" {
		userID = "anonymous"
	}
	dir := filepath.Join(root, safeSegment(userID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// safeJoin resolves name under dir, rejecting any path that escapes dir via
// ".." segments or an absolute path (§4.11 "reject path traversal").
func safeJoin(dir, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("file name is required")
	}
	rel := filepath.Clean(name)
	if filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", name)
	}
	cleaned := filepath.Clean("/" + name)
	joined := filepath.Join(dir, cleaned)
	if !strings.HasPrefix(joined, filepath.Clean(dir)+string(filepath.Separator)) && joined != filepath.Clean(dir) {
		return "", fmt.Errorf("path escapes workspace: %s", name)
	}
	return joined, nil
}

func safeSegment(s string) string {
	s = strings.ReplaceAll(s, "..", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, string(filepath.Separator), "_")
	return s
}

const maxFileBytes = 5 * 1024 * 1024

var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".csv": true, ".json": true, ".yaml": true, ".yml": true, ".log": true,
}

var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".pdf": true, ".zip": true, ".gif": true,
}

func isAllowedExtension(ext string, binary bool) bool {
	if binary {
		return binaryExtensions[strings.ToLower(ext)]
	}
	return textExtensions[strings.ToLower(ext)]
}
