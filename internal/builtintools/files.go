package builtintools

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"

	"goa.design/tools-provider/internal/userctx"
)

// FileTools implements the workspace Files category of §4.11: write/read
// with an extension allow-list, path-traversal rejection, and a 5 MB cap.
type FileTools struct {
	root string
}

// WriteFile writes args["content"] to args["name"] in the caller's
// workspace. Binary content must arrive base64-encoded in args["content"]
// with args["binary"]=true, and its extension must be on the binary
// allow-list; text content follows the text allow-list.
func (f *FileTools) WriteFile(_ context.Context, args map[string]any, user userctx.Context) (Result, error) {
	name, _ := args["name"].(string)
	content, _ := args["content"].(string)
	binary, _ := args["binary"].(bool)

	ext := filepath.Ext(name)
	if !isAllowedExtension(ext, binary) {
		return Result{Success: false, Error: "extension not permitted: " + ext}, nil
	}

	var data []byte
	if binary {
		decoded, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return Result{Success: false, Error: "binary content must be valid base64"}, nil
		}
		data = decoded
	} else {
		data = []byte(content)
	}
	if len(data) > maxFileBytes {
		return Result{Success: false, Error: "file exceeds 5 MB limit"}, nil
	}

	dir, err := userWorkspaceDir(f.root, user.UserID)
	if err != nil {
		return Result{}, err
	}
	path, err := safeJoin(dir, name)
	if err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Result{}, err
	}
	return Result{Success: true, Output: map[string]any{"name": name, "bytes_written": len(data)}}, nil
}

// ReadFile reads args["name"] from the caller's workspace, base64-encoding
// the content when the extension is on the binary allow-list.
func (f *FileTools) ReadFile(_ context.Context, args map[string]any, user userctx.Context) (Result, error) {
	name, _ := args["name"].(string)
	ext := filepath.Ext(name)
	binary := isAllowedExtension(ext, true)
	if !binary && !isAllowedExtension(ext, false) {
		return Result{Success: false, Error: "extension not permitted: " + ext}, nil
	}

	dir, err := userWorkspaceDir(f.root, user.UserID)
	if err != nil {
		return Result{}, err
	}
	path, err := safeJoin(dir, name)
	if err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Result{Success: false, Error: "file not found: " + name}, nil
	}
	if err != nil {
		return Result{}, err
	}

	content := string(data)
	if binary {
		content = base64.StdEncoding.EncodeToString(data)
	}
	return Result{Success: true, Output: map[string]any{"name": name, "content": content, "binary": binary}}, nil
}
