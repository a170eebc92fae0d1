package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/roach88/convergence/internal/ir"
	"github.com/roach88/convergence/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 500
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Agent   string `json:"agent"`
	Version string `json:"version"`
	store.Stats
}

// SignalView is one convergence result as listed by GET /signals.
type SignalView struct {
	ID          int64          `json:"id"`
	Token       string         `json:"token"`
	WindowStart time.Time      `json:"window_start"`
	Agents      []ir.AgentKind `json:"agents"`
	AgentCount  int            `json:"agent_count"`
	Score       float64        `json:"score"`
	Multiplier  float64        `json:"multiplier"`
	Direction   ir.Direction   `json:"direction"`
	Agreement   bool           `json:"agreement"`
	DetectedAt  time.Time      `json:"detected_at"`
	ProofTx     string         `json:"proof_tx,omitempty"`
}

func newSignalView(r ir.ConvergenceResult) SignalView {
	return SignalView{
		ID:          r.ID,
		Token:       r.TokenSymbol,
		WindowStart: r.WindowStart,
		Agents:      r.AgentsInvolved,
		AgentCount:  r.AgentCount,
		Score:       r.ConvergenceScore,
		Multiplier:  r.Multiplier,
		Direction:   r.Direction,
		Agreement:   r.DirectionAgreement,
		DetectedAt:  r.DetectedAt,
		ProofTx:     r.ProofTxRef,
	}
}

// DetectResponse is the body of POST /detect.
type DetectResponse struct {
	RunID    string       `json:"run_id"`
	Detected int          `json:"detected"`
	Signals  []SignalView `json:"signals"`
	Degraded []string     `json:"degraded,omitempty"`
	Failures int          `json:"failures"`
}

func (s *Server) storeContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), s.timeout)
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := s.storeContext(c)
	defer cancel()

	resp := HealthResponse{Status: "ok", Agent: "convergence", Version: Version}
	st, err := s.store.Stats(ctx, s.clock.Now().Add(-s.recent))
	if err != nil {
		s.logger.Error("health check failed", "error", err)
		resp.Status = "degraded"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	resp.Stats = st
	c.JSON(http.StatusOK, resp)
}

func (s *Server) listSignals(c *gin.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxListLimit)
	}

	ctx, cancel := s.storeContext(c)
	defer cancel()

	results, err := s.store.ListConvergences(ctx, limit)
	if err != nil {
		s.logger.Error("list convergences failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list convergences"})
		return
	}
	views := make([]SignalView, len(results))
	for i, r := range results {
		views[i] = newSignalView(r)
	}
	c.JSON(http.StatusOK, views)
}

func (s *Server) stats(c *gin.Context) {
	ctx, cancel := s.storeContext(c)
	defer cancel()

	st, err := s.store.Stats(ctx, s.clock.Now().Add(-s.recent))
	if err != nil {
		s.logger.Error("stats failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read stats"})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) boost(c *gin.Context) {
	agent := c.Query("agent")
	token := ir.NormalizeToken(c.Query("token"))
	if agent == "" || token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "agent and token are required"})
		return
	}

	boost, err := s.boosts.LookupBoost(c.Request.Context(), ir.AgentKind(agent), token, s.clock.Now())
	if err != nil {
		s.logger.Error("boost lookup failed", "agent", agent, "token", token, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "boost lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent": agent, "token": token, "boost": boost})
}

func (s *Server) detect(c *gin.Context) {
	if s.detector == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "detection is not enabled"})
		return
	}

	// A client hanging up must not cancel a tick that may be mid-publish.
	rep, err := s.detector.Tick(s.base)
	resp := DetectResponse{
		RunID:    rep.RunID,
		Detected: len(rep.Recorded),
		Signals:  make([]SignalView, len(rep.Recorded)),
		Failures: rep.Failures,
	}
	for i, r := range rep.Recorded {
		resp.Signals[i] = newSignalView(r)
	}
	for _, k := range rep.Degraded {
		resp.Degraded = append(resp.Degraded, string(k))
	}
	if err != nil {
		// Per-token failures do not undo what the tick recorded.
		s.logger.Warn("manual detection had failures", "run_id", rep.RunID, "error", err)
	}
	c.JSON(http.StatusOK, resp)
}
