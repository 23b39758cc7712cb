package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"refinery/internal/workspace"
)

const maxReadBytes = 256 * 1024

// resolve joins a workspace-relative path against the root and rejects
// anything that climbs back out of it.
func resolve(root, rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("%w: path", ErrMissingArgument)
	}
	abs := filepath.Join(root, filepath.FromSlash(rel))
	cleanRoot := filepath.Clean(root)
	if abs != cleanRoot && !strings.HasPrefix(abs, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapesRoot, rel)
	}
	return abs, nil
}

// ReadFileTool returns the contents of a workspace file.
func ReadFileTool(root string) *Tool {
	return &Tool{
		Name:        "read_file",
		Description: "Read the contents of a file in the workspace. Args: path (workspace-relative).",
		Required:    []string{"path"},
		Execute: func(ctx context.Context, args map[string]any) (*Result, error) {
			rel := stringArg(args, "path")
			abs, err := resolve(root, rel)
			if err != nil {
				return &Result{Status: StatusError, Summary: err.Error()}, nil
			}
			data, err := os.ReadFile(abs)
			if err != nil {
				return &Result{Status: StatusError, Summary: fmt.Sprintf("read %s: %v", rel, err), FilePath: rel}, nil
			}
			content := string(data)
			truncated := false
			if len(content) > maxReadBytes {
				content = content[:maxReadBytes]
				truncated = true
			}
			summary := fmt.Sprintf("read %s (%d bytes)", rel, len(data))
			if truncated {
				summary += ", truncated"
			}
			return &Result{
				Status:   StatusSuccess,
				Content:  content,
				Summary:  summary,
				FilePath: rel,
			}, nil
		},
	}
}

// WriteFileTool writes a workspace file, capturing the prior contents so
// callers can render a diff or simulate the write without applying it.
func WriteFileTool(root string) *Tool {
	return &Tool{
		Name:        "write_file",
		Description: "Write content to a file in the workspace, creating parent directories. Args: path, content.",
		Required:    []string{"path", "content"},
		Execute: func(ctx context.Context, args map[string]any) (*Result, error) {
			rel := stringArg(args, "path")
			content := stringArg(args, "content")
			abs, err := resolve(root, rel)
			if err != nil {
				return &Result{Status: StatusError, Summary: err.Error()}, nil
			}
			old := ""
			if prev, readErr := os.ReadFile(abs); readErr == nil {
				old = string(prev)
			}
			if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
				return &Result{Status: StatusError, Summary: fmt.Sprintf("mkdir for %s: %v", rel, err), FilePath: rel}, nil
			}
			if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
				return &Result{Status: StatusError, Summary: fmt.Sprintf("write %s: %v", rel, err), FilePath: rel}, nil
			}
			return &Result{
				Status:     StatusSuccess,
				Summary:    fmt.Sprintf("wrote %s (%d bytes)", rel, len(content)),
				FilePath:   rel,
				OldContent: old,
				NewContent: content,
			}, nil
		},
	}
}

// ListFilesTool lists workspace files, honoring the standard directory
// skip list and an optional result cap.
func ListFilesTool(root string) *Tool {
	return &Tool{
		Name:        "list_files",
		Description: "List files in the workspace. Args: path (optional subdirectory), max (optional cap, default 200).",
		Execute: func(ctx context.Context, args map[string]any) (*Result, error) {
			base := root
			rel := stringArg(args, "path")
			if rel != "" {
				abs, err := resolve(root, rel)
				if err != nil {
					return &Result{Status: StatusError, Summary: err.Error()}, nil
				}
				base = abs
			}
			max := 200
			if n, ok := intArg(args, "max"); ok && n > 0 {
				max = n
			}
			files := workspace.ListFiles(base, max)
			return &Result{
				Status:  StatusSuccess,
				Content: strings.Join(files, "\n"),
				Summary: fmt.Sprintf("listed %d files", len(files)),
			}, nil
		},
	}
}
