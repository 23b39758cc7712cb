package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"refinery/internal/aggregator"
	"refinery/internal/provider"
	"refinery/internal/signal"
	"refinery/internal/synthesizer"
	"refinery/internal/workspace"
)

type ingestRequest struct {
	Source   string                     `json:"source" binding:"required"`
	Messages []provider.TelegramMessage `json:"messages"`
}

type dismissRequest struct {
	SignalID string `json:"signal_id" binding:"required"`
}

type linkRequest struct {
	SignalID   string `json:"signal_id" binding:"required"`
	FilePath   string `json:"file_path" binding:"required"`
	LineNumber int    `json:"line_number"`
}

type triageRequest struct {
	SignalIDs []string `json:"signal_ids"`
}

type statusResponse struct {
	Providers      map[string]signal.ProviderStatus `json:"providers"`
	TotalSignals   int                              `json:"total_signals"`
	NewSignals     int                              `json:"new_signals"`
	PollingActive  bool                             `json:"polling_active"`
	OperationCount int                              `json:"operation_count"`
}

func (s *Server) handleGetSignals(c *gin.Context) {
	if s.agg == nil {
		c.JSON(http.StatusOK, []signal.Signal{})
		return
	}
	f := aggregator.Filter{
		Source:      signal.Source(c.Query("source")),
		Status:      signal.Status(c.Query("status")),
		PriorityMax: intQuery(c, "priority_max", 5),
		Limit:       intQuery(c, "limit", 100),
		Offset:      intQuery(c, "offset", 0),
	}
	signals, err := s.agg.GetSignals(f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if signals == nil {
		signals = []signal.Signal{}
	}
	c.JSON(http.StatusOK, signals)
}

func (s *Server) handleStatus(c *gin.Context) {
	if s.agg == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "aggregator not initialized"})
		return
	}
	total, _ := s.agg.TotalCount()
	fresh, _ := s.agg.NewCount()

	resp := statusResponse{
		Providers:      make(map[string]signal.ProviderStatus),
		TotalSignals:   total,
		NewSignals:     fresh,
		PollingActive:  s.poller != nil && s.poller.Active(),
		OperationCount: s.ops.Count(),
	}
	for _, p := range s.providers {
		resp.Providers[p.Name()] = s.providerStatus(p)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleProviders(c *gin.Context) {
	out := make([]signal.ProviderStatus, 0, len(s.providers))
	for _, p := range s.providers {
		out = append(out, s.providerStatus(p))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) providerStatus(p provider.Provider) signal.ProviderStatus {
	st := signal.ProviderStatus{
		Name:         p.Name(),
		Configured:   p.Configured(),
		Enabled:      p.Enabled(),
		PollInterval: int(p.PollInterval().Seconds()),
	}
	if s.agg != nil {
		if pollState, err := s.agg.GetPollState(p.Name()); err == nil && pollState != nil {
			st.LastPoll = pollState.LastPollAt
			st.ErrorCount = pollState.ErrorCount
			st.LastError = pollState.LastError
		}
	}
	return st
}

func (s *Server) handleIngest(c *gin.Context) {
	if s.agg == nil || s.poller == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "aggregator not initialized"})
		return
	}
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !strings.EqualFold(req.Source, string(signal.SourceTelegram)) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown source: " + req.Source})
		return
	}

	signals := provider.NormalizeMessages(req.Messages)
	fresh := s.poller.Pipeline(c.Request.Context(), signals)
	if fresh == nil {
		fresh = []signal.Signal{}
	}
	s.log.Info("ingested push signals",
		zap.String("source", req.Source),
		zap.Int("received", len(signals)),
		zap.Int("new", len(fresh)))
	c.JSON(http.StatusOK, fresh)
}

func (s *Server) handleDismiss(c *gin.Context) {
	if s.agg == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "aggregator not initialized"})
		return
	}
	var req dismissRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ok, err := s.agg.DismissSignal(req.SignalID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "signal not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleLink(c *gin.Context) {
	if s.agg == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "aggregator not initialized"})
		return
	}
	var req linkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ok, err := s.agg.LinkSignalToFile(req.SignalID, req.FilePath, req.LineNumber)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "signal not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handlePollNow(c *gin.Context) {
	if s.poller == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "poller not initialized"})
		return
	}
	count := s.poller.PollNow(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"ok": true, "new_signals": count})
}

func (s *Server) handleTriage(c *gin.Context) {
	if s.agg == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "aggregator not initialized"})
		return
	}
	if !s.cfg.Triage.Enabled || s.triage == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "triage is not enabled"})
		return
	}

	var req triageRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	var signals []signal.Signal
	var err error
	if len(req.SignalIDs) > 0 {
		signals, err = s.agg.SignalsByIDs(req.SignalIDs)
	} else {
		signals, err = s.agg.GetSignals(aggregator.Filter{Status: signal.StatusNew, Limit: 50})
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(signals) == 0 {
		c.JSON(http.StatusOK, gin.H{"ok": true, "triaged": 0})
		return
	}

	listing := workspace.ListFiles(s.cfg.Workspace.Root, 100)
	triaged := s.agg.Triage(c.Request.Context(), s.triage, signals, listing)

	// Re-synthesize with the refreshed priorities.
	newOps := synthesizer.Synthesize(triaged, s.ops.List())
	s.ops.Merge(newOps)

	c.JSON(http.StatusOK, gin.H{"ok": true, "triaged": len(triaged)})
}

func (s *Server) handleOperations(c *gin.Context) {
	if s.ops == nil {
		c.JSON(http.StatusOK, []signal.Operation{})
		return
	}
	c.JSON(http.StatusOK, s.ops.List())
}

func intQuery(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
