package tool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DefaultMaxReadBytes caps the content a FileReadTool returns.
const DefaultMaxReadBytes = 64 << 10

// CodeForbidden marks a path outside the tool's root.
const CodeForbidden = "FORBIDDEN"

// FileReadOptions configures NewFileReadTool.
type FileReadOptions struct {
	Name string
	// MaxBytes truncates larger files (0 = DefaultMaxReadBytes).
	MaxBytes int64
}

type fileReadArgs struct {
	Path string `json:"path" jsonschema_description:"File path relative to the workspace root"`
}

// NewFileReadTool exposes read access to files below root. Paths are
// resolved relative to root. Absolute paths and paths that escape root,
// including through symlinks, are rejected with CodeForbidden.
func NewFileReadTool(root string, optFns ...func(o *FileReadOptions)) (*FunctionTool, error) {
	opts := FileReadOptions{Name: "read_file", MaxBytes: DefaultMaxReadBytes}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxReadBytes
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root path: %w", err)
	}
	if info, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("open root: %w", err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", abs)
	}

	name := opts.Name
	read := func(_ context.Context, args map[string]any) (any, error) {
		p, _ := args["path"].(string)
		rel, err := cleanRelative(p)
		if err != nil {
			return nil, &ToolError{Tool: name, Message: err.Error(), Code: CodeForbidden}
		}

		r, err := os.OpenRoot(abs)
		if err != nil {
			return nil, fmt.Errorf("open root: %w", err)
		}
		defer r.Close()

		f, err := r.Open(rel)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, &ToolError{Tool: name, Message: fmt.Sprintf("file %q not found", rel), Code: CodeNotFound}
			}
			return nil, &ToolError{Tool: name, Message: err.Error(), Code: CodeForbidden}
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", rel, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%s is a directory", rel)
		}

		data, err := io.ReadAll(io.LimitReader(f, opts.MaxBytes))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", rel, err)
		}

		return map[string]any{
			"path":      filepath.ToSlash(rel),
			"content":   string(data),
			"size":      info.Size(),
			"truncated": info.Size() > opts.MaxBytes,
		}, nil
	}

	return NewFunctionToolFromStruct(name, "Read a text file from the workspace", fileReadArgs{}, read, func(o *FunctionOptions) {
		o.Category = "system"
	}), nil
}

func cleanRelative(p string) (string, error) {
	normalized := strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	if normalized == "" {
		return "", errors.New("empty path")
	}
	if strings.HasPrefix(normalized, "/") || filepath.IsAbs(normalized) {
		return "", fmt.Errorf("absolute path %q is not allowed", p)
	}

	clean := filepath.Clean(filepath.FromSlash(normalized))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the workspace root", p)
	}

	return clean, nil
}
