package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"refinery/internal/signal"
	"refinery/internal/supervisor"
)

func (s *Server) handleListPlans(c *gin.Context) {
	if s.sup == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "supervisor not initialized"})
		return
	}
	status := signal.PlanStatus(c.Query("status"))
	limit := intQuery(c, "limit", 50)
	c.JSON(http.StatusOK, s.sup.Plans(status, limit))
}

func (s *Server) handleGetPlan(c *gin.Context) {
	if s.sup == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "supervisor not initialized"})
		return
	}
	plan, ok := s.sup.Plan(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "plan not found"})
		return
	}
	c.JSON(http.StatusOK, plan)
}

func (s *Server) handleDismissPlan(c *gin.Context) {
	if s.sup == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "supervisor not initialized"})
		return
	}
	plan, ok := s.sup.DismissPlan(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "plan not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "status": string(plan.Status)})
}

// handleExecutePlan streams plan execution as server-sent events. The
// stream is ordered and ends after the terminal plan_complete event.
func (s *Server) handleExecutePlan(c *gin.Context) {
	if s.sup == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "supervisor not initialized"})
		return
	}
	events, err := s.sup.ExecutePlan(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, supervisor.ErrPlanNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "plan not found"})
			return
		}
		if errors.Is(err, supervisor.ErrPlanNotExecutable) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		ev, ok := <-events
		if !ok {
			return false
		}
		c.SSEvent(ev.Type, ev.Data)
		return true
	})
}

func (s *Server) handleProposalsCount(c *gin.Context) {
	if s.sup == nil {
		c.JSON(http.StatusOK, gin.H{"count": 0})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": s.sup.ProposedCount()})
}
