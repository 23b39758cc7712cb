// Package tools implements the constrained tool surface plan steps execute
// against. The whitelist is fixed: read_file, write_file, list_files,
// search_text, run_command. Paths are resolved relative to the workspace
// root; command execution carries a hard timeout.
package tools

import (
	"context"
)

// Result statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Result is the outcome of one tool execution. OldContent/NewContent are
// populated only by write_file; ExitCode only by run_command.
type Result struct {
	Status     string `json:"status"`
	Content    string `json:"content,omitempty"`
	Summary    string `json:"summary"`
	FilePath   string `json:"file_path,omitempty"`
	OldContent string `json:"old_content,omitempty"`
	NewContent string `json:"new_content,omitempty"`
	ExitCode   int    `json:"exit_code,omitempty"`
}

// ExecuteFunc is the signature for tool execution.
type ExecuteFunc func(ctx context.Context, args map[string]any) (*Result, error)

// Tool defines one entry in the whitelisted tool surface.
type Tool struct {
	// Name is the unique identifier, matching the plan-step tool enum.
	Name string

	// Description explains what the tool does; sent to the reasoning
	// service when plans are generated.
	Description string

	// Required lists argument keys that must be present.
	Required []string

	// Execute runs the tool with the given arguments.
	Execute ExecuteFunc
}

// Validate checks the tool definition.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return ErrToolNameEmpty
	}
	if t.Execute == nil {
		return ErrToolExecuteNil
	}
	return nil
}

// stringArg fetches a string argument, tolerating absence.
func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

// intArg fetches an integer argument, tolerating JSON float64 decoding.
func intArg(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}
