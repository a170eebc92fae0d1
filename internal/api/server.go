// Package api serves the engine's read-only status endpoints and a manual
// detection trigger over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/convergence/internal/convergence"
	"github.com/roach88/convergence/internal/engine"
	"github.com/roach88/convergence/internal/ir"
	"github.com/roach88/convergence/internal/store"
)

// Version is reported by the health endpoint.
var Version = "dev"

// Detector runs one detection tick. Implemented by convergence.Detector.
type Detector interface {
	Tick(ctx context.Context) (convergence.TickReport, error)
}

// BoostLookup is implemented by convergence.BoostOracle.
type BoostLookup interface {
	LookupBoost(ctx context.Context, kind ir.AgentKind, token string, asOf time.Time) (float64, error)
}

// Server holds the API dependencies.
type Server struct {
	store    *store.Store
	detector Detector
	boosts   BoostLookup
	clock    engine.Clock
	recent   time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	// base scopes manual detection ticks to the server, not the request.
	base context.Context
}

// Option configures a Server.
type Option func(*Server)

// WithClock sets the clock used for "recent" stats and boost lookups.
func WithClock(c engine.Clock) Option {
	return func(s *Server) {
		s.clock = c
	}
}

// WithRecent sets how far back the "recent" stats count. Default: 24h.
func WithRecent(d time.Duration) Option {
	return func(s *Server) {
		s.recent = d
	}
}

// New creates a Server. detector may be nil, in which case the detect
// endpoint answers 503.
func New(st *store.Store, detector Detector, boosts BoostLookup, opts ...Option) *Server {
	s := &Server{
		store:    st,
		detector: detector,
		boosts:   boosts,
		clock:    engine.SystemClock{},
		recent:   24 * time.Hour,
		timeout:  10 * time.Second,
		logger:   slog.Default().With("component", "api"),
		base:     context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gin engine.
//
// Endpoints:
//
//	GET  /api/v1/convergence/health
//	GET  /api/v1/convergence/signals?limit=N
//	GET  /api/v1/convergence/stats
//	GET  /api/v1/convergence/boost?agent=&token=
//	POST /api/v1/convergence/detect
//	GET  /metrics
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	v1 := r.Group("/api/v1/convergence")
	v1.GET("/health", s.health)
	v1.GET("/signals", s.listSignals)
	v1.GET("/stats", s.stats)
	v1.GET("/boost", s.boost)
	v1.POST("/detect", s.detect)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.base = ctx
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	return nil
}
