// Package provider implements the external signal sources. Each
// provider normalizes its source's records into the canonical signal
// shape; the poller drives them in a fixed registration order.
package provider

import (
	"context"
	"time"

	"go.uber.org/zap"

	"refinery/internal/config"
	"refinery/internal/signal"
)

// Provider is the capability set the poller requires from every source.
type Provider interface {
	// Name returns the registry key, matching the signal source value.
	Name() string

	// Fetch returns new or updated signals since the given watermark
	// (RFC3339, empty for "all"). Expected no-data conditions return an
	// empty slice; network and auth failures return a retryable error.
	Fetch(ctx context.Context, since string) ([]signal.Signal, error)

	// Configured reports whether required credentials are present.
	Configured() bool

	// Enabled reports whether polling is switched on in configuration.
	Enabled() bool

	// PollInterval is the minimum spacing between polls.
	PollInterval() time.Duration
}

const (
	backoffBase = 60 * time.Second
	backoffMax  = 900 * time.Second
)

// Backoff returns the rate-limit delay for a provider with the given
// consecutive error count: 120s, 240s, 480s, then capped at 900s.
func Backoff(errorCount int) time.Duration {
	if errorCount <= 0 {
		return 0
	}
	d := backoffBase
	for i := 0; i < errorCount; i++ {
		d *= 2
		if d >= backoffMax {
			return backoffMax
		}
	}
	return d
}

// Registry builds the full provider set in fixed polling order.
func Registry(cfg *config.Config, log *zap.Logger) []Provider {
	if log == nil {
		log = zap.NewNop()
	}
	return []Provider{
		NewGitHub(cfg.Providers.GitHub, cfg.Workspace.Root, log),
		NewJira(cfg.Providers.Jira, log),
		NewSlack(cfg.Providers.Slack, log),
		NewTelegram(cfg.Providers.Telegram),
		NewTodos(cfg.Providers.Todos, cfg.Workspace.Root, log),
	}
}
