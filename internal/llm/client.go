// Package llm provides clients for the external reasoning services used
// by signal triage and plan generation.
package llm

import (
	"context"
	"errors"
)

// Client is the interface every reasoning-service provider implements.
type Client interface {
	// Complete sends a user prompt with an optional system prompt and
	// returns the completion text.
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Errors shared by all providers.
var (
	// ErrNoAPIKey is returned when a client is constructed without credentials.
	ErrNoAPIKey = errors.New("api key not configured")

	// ErrEmptyCompletion is returned when the service responds without content.
	ErrEmptyCompletion = errors.New("no completion returned")
)
