// Package poller drives the single scheduling loop: on each sweep it
// visits every provider in registration order, applies the interval and
// error-backoff gates, and pushes fetched signals through the
// link -> dedup -> triage -> synthesize chain.
package poller

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"refinery/internal/aggregator"
	"refinery/internal/config"
	"refinery/internal/llm"
	"refinery/internal/operations"
	"refinery/internal/provider"
	"refinery/internal/signal"
	"refinery/internal/synthesizer"
	"refinery/internal/workspace"
)

// checkInterval is the sleep between provider sweeps.
const checkInterval = 30 * time.Second

// PlanNotifier receives triaged signals so qualifying ones can get a
// remediation plan. Implemented by the supervisor.
type PlanNotifier interface {
	OnSignalsTriaged(ctx context.Context, signals []signal.Signal)
}

// Poller owns the background polling loop.
type Poller struct {
	cfg       *config.Config
	agg       *aggregator.Aggregator
	ops       *operations.Store
	providers []provider.Provider
	triage    llm.Client
	notifier  PlanNotifier
	log       *zap.Logger

	interval time.Duration

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc
}

// New builds a poller. triage may be nil when scoring is disabled;
// notifier may be nil when the supervisor is disabled.
func New(cfg *config.Config, agg *aggregator.Aggregator, ops *operations.Store, providers []provider.Provider, triage llm.Client, notifier PlanNotifier, log *zap.Logger) *Poller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{
		cfg:       cfg,
		agg:       agg,
		ops:       ops,
		providers: providers,
		triage:    triage,
		notifier:  notifier,
		log:       log,
		interval:  checkInterval,
	}
}

// Start launches the polling loop. Cancelling ctx is the hard cancel:
// it interrupts the in-flight sweep. Stop is the cooperative path.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	p.running = true

	go p.loop(ctx, p.stop, p.done)
	p.log.Info("signal poller started", zap.Duration("check_interval", p.interval))
}

// Stop requests a cooperative stop: the current sweep finishes but no
// new sweep starts. Blocks until the loop exits.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	stop, done := p.stop, p.done
	p.running = false
	p.mu.Unlock()

	close(stop)
	<-done
	p.log.Info("signal poller stopped")
}

// Kill cancels the in-flight sweep and stops the loop.
func (p *Poller) Kill() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.Stop()
}

// Active reports whether the loop is running.
func (p *Poller) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-timer.C:
		}

		p.sweep(ctx)
		timer.Reset(p.interval)
	}
}

// sweep visits providers in fixed order, applying the configured/enabled,
// backoff, and interval gates before polling.
func (p *Poller) sweep(ctx context.Context) {
	for _, prov := range p.providers {
		if ctx.Err() != nil {
			return
		}
		if !prov.Configured() || !prov.Enabled() {
			continue
		}

		state, err := p.agg.GetPollState(prov.Name())
		if err != nil {
			p.log.Warn("poll state lookup failed", zap.String("provider", prov.Name()), zap.Error(err))
			continue
		}
		if state != nil && state.LastPollAt != "" {
			elapsed := elapsedSince(state.LastPollAt, prov.PollInterval())
			if state.ErrorCount > 0 && elapsed < provider.Backoff(state.ErrorCount) {
				continue
			}
			if elapsed < prov.PollInterval() {
				continue
			}
		}

		p.pollProvider(ctx, prov, state)
	}
}

// PollNow runs one immediate pass over all providers, bypassing the
// interval and backoff gates. Returns the count of genuinely new
// signals.
func (p *Poller) PollNow(ctx context.Context) int {
	total := 0
	for _, prov := range p.providers {
		if ctx.Err() != nil {
			break
		}
		if !prov.Configured() || !prov.Enabled() {
			continue
		}
		state, err := p.agg.GetPollState(prov.Name())
		if err != nil {
			continue
		}
		total += p.pollProvider(ctx, prov, state)
	}
	return total
}

func (p *Poller) pollProvider(ctx context.Context, prov provider.Provider, state *signal.PollState) int {
	name := prov.Name()
	now := signal.Now()

	since := ""
	if state != nil {
		since = state.LastPollAt
	}

	raw, err := prov.Fetch(ctx, since)
	if err != nil {
		errorCount := 1
		if state != nil {
			errorCount = state.ErrorCount + 1
		}
		if stateErr := p.agg.UpdatePollState(name, now, nil, err.Error(), errorCount); stateErr != nil {
			p.log.Warn("poll state update failed", zap.String("provider", name), zap.Error(stateErr))
		}
		p.log.Warn("provider fetch failed",
			zap.String("provider", name),
			zap.Int("error_count", errorCount),
			zap.Error(err))
		return 0
	}

	fresh := p.Pipeline(ctx, raw)

	if err := p.agg.UpdatePollState(name, now, nil, "", 0); err != nil {
		p.log.Warn("poll state update failed", zap.String("provider", name), zap.Error(err))
	}
	if len(fresh) > 0 {
		p.log.Info("poll cycle complete",
			zap.String("provider", name),
			zap.Int("fetched", len(raw)),
			zap.Int("new", len(fresh)))
	}
	return len(fresh)
}

// Pipeline runs a batch of raw signals through file-linking, dedup,
// optional triage, plan notification, and operation synthesis. The
// ingest endpoint shares this path with the polling loop.
func (p *Poller) Pipeline(ctx context.Context, raw []signal.Signal) []signal.Signal {
	if len(raw) == 0 {
		return nil
	}
	root := p.cfg.Workspace.Root
	raw = aggregator.LinkSignalsToFiles(raw, root)

	fresh, err := p.agg.Process(raw)
	if err != nil {
		p.log.Error("signal processing failed", zap.Error(err))
		return nil
	}
	if len(fresh) == 0 {
		return nil
	}

	if p.cfg.Triage.Enabled && p.triage != nil {
		fresh = p.agg.Triage(ctx, p.triage, fresh, workspace.ListFiles(root, 100))
	}

	if p.notifier != nil {
		p.notifier.OnSignalsTriaged(ctx, fresh)
	}

	newOps := synthesizer.Synthesize(fresh, p.ops.List())
	if added := p.ops.Merge(newOps); added > 0 {
		for _, op := range newOps {
			for _, s := range op.Signals {
				if err := p.agg.SetOperationID(s.ID, op.ID); err != nil {
					p.log.Warn("operation back-reference failed",
						zap.String("signal_id", s.ID), zap.Error(err))
				}
			}
		}
		p.log.Info("synthesized operations", zap.Int("count", added))
	}
	return fresh
}

func elapsedSince(lastPollAt string, fallback time.Duration) time.Duration {
	last, err := time.Parse(time.RFC3339, lastPollAt)
	if err != nil {
		return fallback + time.Second
	}
	return time.Since(last)
}
