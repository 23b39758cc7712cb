// Package server exposes the refinery pipeline over HTTP: signal
// queries and mutations, push ingestion, manual polling and triage,
// operation listing, and supervisor plan management with an SSE
// execution stream.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"refinery/internal/aggregator"
	"refinery/internal/config"
	"refinery/internal/llm"
	"refinery/internal/operations"
	"refinery/internal/poller"
	"refinery/internal/provider"
	"refinery/internal/supervisor"
)

// Server wires the pipeline components behind the HTTP API.
type Server struct {
	cfg       *config.Config
	agg       *aggregator.Aggregator
	poller    *poller.Poller
	ops       *operations.Store
	sup       *supervisor.Supervisor
	providers []provider.Provider
	triage    llm.Client
	log       *zap.Logger

	engine *gin.Engine
	http   *http.Server
}

// New builds the server and its route table. sup and triage may be nil
// when the corresponding features are disabled.
func New(cfg *config.Config, agg *aggregator.Aggregator, p *poller.Poller, ops *operations.Store, sup *supervisor.Supervisor, providers []provider.Provider, triage llm.Client, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:       cfg,
		agg:       agg,
		poller:    p,
		ops:       ops,
		sup:       sup,
		providers: providers,
		triage:    triage,
		log:       log,
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger())
	s.registerRoutes(engine)
	s.engine = engine
	return s
}

// Engine exposes the router, used by tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.http = &http.Server{
		Addr:    s.cfg.Server.Listen,
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", s.cfg.Server.Listen))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) registerRoutes(engine *gin.Engine) {
	refinery := engine.Group("/api/refinery")
	{
		refinery.GET("/signals", s.handleGetSignals)
		refinery.GET("/status", s.handleStatus)
		refinery.GET("/providers", s.handleProviders)
		refinery.POST("/ingest", s.handleIngest)
		refinery.POST("/dismiss", s.handleDismiss)
		refinery.POST("/link", s.handleLink)
		refinery.POST("/poll-now", s.handlePollNow)
		refinery.POST("/triage", s.handleTriage)
	}

	engine.GET("/api/operations", s.handleOperations)

	sup := engine.Group("/api/supervisor")
	{
		sup.GET("/plans", s.handleListPlans)
		sup.GET("/plans/:id", s.handleGetPlan)
		sup.POST("/plans/:id/dismiss", s.handleDismissPlan)
		sup.POST("/plans/:id/execute", s.handleExecutePlan)
		sup.GET("/proposals/count", s.handleProposalsCount)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}
