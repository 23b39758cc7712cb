package tools

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const (
	commandTimeout = 60 * time.Second
	maxOutputBytes = 64 * 1024
)

// RunCommandTool executes a shell command inside the workspace with a
// hard timeout. Output is combined stdout+stderr, capped.
func RunCommandTool(root string) *Tool {
	return &Tool{
		Name:        "run_command",
		Description: "Run a shell command in the workspace root. Args: command. Times out after 60 seconds.",
		Required:    []string{"command"},
		Execute: func(ctx context.Context, args map[string]any) (*Result, error) {
			command := stringArg(args, "command")
			if strings.TrimSpace(command) == "" {
				return &Result{Status: StatusError, Summary: "empty command"}, nil
			}

			ctx, cancel := context.WithTimeout(ctx, commandTimeout)
			defer cancel()

			cmd := exec.CommandContext(ctx, "sh", "-c", command)
			cmd.Dir = root
			out, err := cmd.CombinedOutput()

			content := string(out)
			if len(content) > maxOutputBytes {
				content = content[:maxOutputBytes] + "\n... output truncated"
			}

			exitCode := 0
			if err != nil {
				if exitErr, ok := err.(*exec.ExitError); ok {
					exitCode = exitErr.ExitCode()
				} else {
					exitCode = -1
				}
			}
			if ctx.Err() == context.DeadlineExceeded {
				return &Result{
					Status:   StatusError,
					Content:  content,
					Summary:  fmt.Sprintf("command timed out after %s", commandTimeout),
					ExitCode: -1,
				}, nil
			}

			status := StatusSuccess
			summary := fmt.Sprintf("exit %d", exitCode)
			if exitCode != 0 {
				status = StatusError
			}
			return &Result{
				Status:   status,
				Content:  content,
				Summary:  summary,
				ExitCode: exitCode,
			}, nil
		},
	}
}
