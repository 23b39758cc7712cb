package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultRegistersWhitelist(t *testing.T) {
	r := NewDefault(t.TempDir())
	assert.Equal(t, []string{"list_files", "read_file", "run_command", "search_text", "write_file"}, r.Names())
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	tool := &Tool{Name: "read_file", Execute: func(ctx context.Context, args map[string]any) (*Result, error) {
		return &Result{Status: StatusSuccess}, nil
	}}
	require.NoError(t, r.Register(tool))
	assert.Error(t, r.Register(tool))
}

func TestRegistryExecuteMissingArgument(t *testing.T) {
	r := NewDefault(t.TempDir())
	_, err := r.Execute(context.Background(), "read_file", map[string]any{})
	assert.ErrorIs(t, err, ErrMissingArgument)
}

func TestRegistryExecuteUnknownTool(t *testing.T) {
	r := NewDefault(t.TempDir())
	_, err := r.Execute(context.Background(), "delete_everything", map[string]any{})
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestReadFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("hello"), 0o644))

	r := NewDefault(root)
	res, err := r.Execute(context.Background(), "read_file", map[string]any{"path": "notes.txt"})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "hello", res.Content)
	assert.Equal(t, "notes.txt", res.FilePath)
}

func TestReadFileMissing(t *testing.T) {
	r := NewDefault(t.TempDir())
	res, err := r.Execute(context.Background(), "read_file", map[string]any{"path": "absent.txt"})
	require.NoError(t, err)
	assert.Equal(t, StatusError, res.Status)
}

func TestWriteFileCapturesOldContent(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "config.yaml"), []byte("before"), 0o644))

	r := NewDefault(root)
	res, err := r.Execute(context.Background(), "write_file", map[string]any{
		"path":    "config.yaml",
		"content": "after",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "before", res.OldContent)
	assert.Equal(t, "after", res.NewContent)

	data, err := os.ReadFile(filepath.Join(root, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "after", string(data))
}

func TestWriteFileCreatesParentDirs(t *testing.T) {
	root := t.TempDir()
	r := NewDefault(root)
	res, err := r.Execute(context.Background(), "write_file", map[string]any{
		"path":    "deep/nested/file.txt",
		"content": "x",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Empty(t, res.OldContent)
	assert.FileExists(t, filepath.Join(root, "deep", "nested", "file.txt"))
}

func TestPathEscapeRejected(t *testing.T) {
	r := NewDefault(t.TempDir())
	res, err := r.Execute(context.Background(), "read_file", map[string]any{"path": "../../etc/passwd"})
	require.NoError(t, err)
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Summary, "escapes workspace root")
}

func TestListFilesSkipsVendorDirs(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules", "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "pkg", "index.js"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main"), 0o644))

	r := NewDefault(root)
	res, err := r.Execute(context.Background(), "list_files", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "main.go", res.Content)
}

func TestSearchText(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package a\n// TODO: fix retry\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("nothing here\n"), 0o644))

	r := NewDefault(root)
	res, err := r.Execute(context.Background(), "search_text", map[string]any{"pattern": "TODO"})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Contains(t, res.Content, "a.go:2:")
	assert.NotContains(t, res.Content, "b.txt")
}

func TestSearchTextExtensionFilter(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("match\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.py"), []byte("match\n"), 0o644))

	r := NewDefault(root)
	res, err := r.Execute(context.Background(), "search_text", map[string]any{
		"pattern":   "match",
		"extension": ".go",
	})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "a.go")
	assert.NotContains(t, res.Content, "a.py")
}

func TestRunCommand(t *testing.T) {
	r := NewDefault(t.TempDir())
	res, err := r.Execute(context.Background(), "run_command", map[string]any{"command": "echo ok"})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "ok\n", res.Content)
	assert.Equal(t, 0, res.ExitCode)
}

func TestRunCommandNonZeroExit(t *testing.T) {
	r := NewDefault(t.TempDir())
	res, err := r.Execute(context.Background(), "run_command", map[string]any{"command": "exit 3"})
	require.NoError(t, err)
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, 3, res.ExitCode)
}
