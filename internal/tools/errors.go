package tools

import "errors"

var (
	// ErrToolNotFound is returned when a tool name is not registered.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolNameEmpty is returned for a tool with no name.
	ErrToolNameEmpty = errors.New("tool name is empty")

	// ErrToolExecuteNil is returned for a tool without an execute function.
	ErrToolExecuteNil = errors.New("tool execute function is nil")

	// ErrMissingArgument is returned when a required argument is absent.
	ErrMissingArgument = errors.New("missing required argument")

	// ErrPathEscapesRoot is returned when a path resolves outside the
	// workspace root.
	ErrPathEscapesRoot = errors.New("path escapes workspace root")
)
