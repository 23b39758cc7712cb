package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"refinery/internal/aggregator"
	"refinery/internal/config"
	"refinery/internal/llm"
	"refinery/internal/logging"
	"refinery/internal/operations"
	"refinery/internal/poller"
	"refinery/internal/provider"
	"refinery/internal/server"
	"refinery/internal/supervisor"
	"refinery/internal/tools"
)

var (
	// Global flags
	configPath string
	workspace  string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "refinery",
	Short: "refinery - signal aggregation and autonomous remediation pipeline",
	Long: `refinery polls developer channels (GitHub, Jira, Slack, chat, code TODOs),
deduplicates what it finds into a unified signal store, triages signals with an
LLM, clusters them into actionable operations, and proposes bounded remediation
plans that execute inside a sandbox until explicitly released.

Run 'refinery serve' to start the poller and the HTTP API.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if workspace != "" {
			cfg.Workspace.Root = workspace
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		logger, err = logging.New(cfg.Logging.Level, cfg.Logging.Format)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// serveCmd runs the poller and HTTP API until interrupted
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the signal poller and HTTP API",
	Long: `Starts the background poller and serves the REST API.

The poller sweeps every configured provider on its own interval, backing off
exponentially on provider errors. Fresh signals flow through linking, optional
LLM triage, plan proposal, and synthesis into operations. The API exposes the
signal store, operations, provider status, and the supervisor's action plans
(with a live event stream for plan execution).`,
	RunE: runServe,
}

// pollCmd runs a single polling sweep and exits
var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run one polling sweep across all providers and exit",
	RunE:  runPoll,
}

// statusCmd prints a summary of the signal store
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show signal store and provider status",
	RunE:  showStatus,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "refinery.yaml", "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace root (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// components wires the pipeline from configuration.
type components struct {
	agg       *aggregator.Aggregator
	ops       *operations.Store
	providers []provider.Provider
	triage    llm.Client
	sup       *supervisor.Supervisor
	poller    *poller.Poller
}

func buildComponents() (*components, error) {
	agg, err := aggregator.New(cfg.Workspace.DatabasePath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open signal store: %w", err)
	}

	var triage llm.Client
	if cfg.Triage.Enabled {
		triage, err = llm.NewFromConfig(cfg.Triage)
		if err != nil {
			logger.Warn("Triage disabled: no usable LLM client", zap.Error(err))
		}
	}

	providers := provider.Registry(cfg, logger)
	ops := operations.NewStore()
	registry := tools.NewDefault(cfg.Workspace.Root)
	sup := supervisor.New(cfg.Supervisor, triage, registry, cfg.Workspace.Root, logger)
	p := poller.New(cfg, agg, ops, providers, triage, sup, logger)

	return &components{
		agg:       agg,
		ops:       ops,
		providers: providers,
		triage:    triage,
		sup:       sup,
		poller:    p,
	}, nil
}

func (c *components) close() {
	for _, p := range c.providers {
		if closer, ok := p.(io.Closer); ok {
			_ = closer.Close()
		}
	}
	if err := c.agg.Close(); err != nil {
		logger.Warn("Failed to close signal store", zap.Error(err))
	}
}

// runServe starts the poller and HTTP API
func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal")
		cancel()
	}()

	comps, err := buildComponents()
	if err != nil {
		return err
	}
	defer comps.close()

	comps.poller.Start(ctx)
	defer comps.poller.Stop()

	srv := server.New(cfg, comps.agg, comps.poller, comps.ops, comps.sup, comps.providers, comps.triage, logger)
	logger.Info("Refinery online",
		zap.String("listen", cfg.Server.Listen),
		zap.String("workspace", cfg.Workspace.Root),
		zap.Bool("triage", comps.triage != nil),
		zap.Bool("sandbox", cfg.Supervisor.SandboxMode))

	return srv.Run(ctx)
}

// runPoll performs a single sweep across all providers
func runPoll(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	comps, err := buildComponents()
	if err != nil {
		return err
	}
	defer comps.close()

	count := comps.poller.PollNow(ctx)
	fmt.Printf("Sweep complete: %d new signal(s)\n", count)

	total, _ := comps.agg.TotalCount()
	fresh, _ := comps.agg.NewCount()
	fmt.Printf("Store: %d total, %d awaiting triage, %d operation(s)\n", total, fresh, comps.ops.Count())
	return nil
}

// showStatus displays store counts and per-provider state
func showStatus(cmd *cobra.Command, args []string) error {
	comps, err := buildComponents()
	if err != nil {
		return err
	}
	defer comps.close()

	total, _ := comps.agg.TotalCount()
	fresh, _ := comps.agg.NewCount()

	fmt.Println("Refinery Status")
	fmt.Println("===============")
	fmt.Printf("Workspace: %s\n", cfg.Workspace.Root)
	fmt.Printf("Database:  %s\n", cfg.Workspace.DatabasePath)
	fmt.Printf("Signals:   %d total, %d new\n", total, fresh)
	if comps.triage != nil {
		fmt.Println("Triage:    enabled")
	} else {
		fmt.Println("Triage:    disabled")
	}
	fmt.Println()

	states, err := comps.agg.AllPollStates()
	if err != nil {
		return fmt.Errorf("failed to read poll state: %w", err)
	}
	for _, p := range comps.providers {
		mark := "✗"
		if p.Configured() && p.Enabled() {
			mark = "✓"
		}
		line := fmt.Sprintf("%s %-9s interval=%s", mark, p.Name(), p.PollInterval())
		if st, ok := states[p.Name()]; ok {
			line += fmt.Sprintf(" last=%s", st.LastPollAt)
			if st.ErrorCount > 0 {
				line += fmt.Sprintf(" errors=%d (%s)", st.ErrorCount, st.LastError)
			}
		}
		fmt.Println(line)
	}
	return nil
}
