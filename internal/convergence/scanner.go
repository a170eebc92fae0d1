package convergence

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/convergence/internal/ir"
)

// SignalSource is an agent's read-only signal repository.
// An empty window is an empty slice, not an error.
type SignalSource interface {
	ListSignals(ctx context.Context, kind ir.AgentKind, from, to time.Time) ([]ir.Signal, error)
}

// ScanReport is the outcome of one scan.
type ScanReport struct {
	// Observations maps each token seen by two or more agents to one
	// representative signal per agent, in configured agent order.
	Observations map[string][]ir.Signal

	// Degraded lists agents whose source failed or is not configured.
	// They contributed zero observations.
	Degraded []ir.AgentKind

	// Signals counts every signal read, before deduplication.
	Signals int
}

// Scanner reads every agent's signals for a window and keeps the overlaps.
type Scanner struct {
	rules   *Rules
	sources map[ir.AgentKind]SignalSource
	timeout time.Duration
	logger  *slog.Logger
}

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithSourceTimeout bounds each agent's query. Default: 30s.
func WithSourceTimeout(d time.Duration) ScannerOption {
	return func(s *Scanner) {
		s.timeout = d
	}
}

// WithScannerLogger sets the scanner's logger.
func WithScannerLogger(l *slog.Logger) ScannerOption {
	return func(s *Scanner) {
		s.logger = l
	}
}

// NewScanner creates a Scanner over one source per agent kind. Agents in
// rules without a source are always reported as degraded.
func NewScanner(rules *Rules, sources map[ir.AgentKind]SignalSource, opts ...ScannerOption) *Scanner {
	s := &Scanner{
		rules:   rules,
		sources: sources,
		timeout: 30 * time.Second,
		logger:  slog.Default().With("component", "scanner"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan queries every agent concurrently over the inclusive range
// [from, to] and returns the multi-agent overlaps.
//
// Scan never fails: an agent whose query errors or times out is logged,
// listed in Degraded, and contributes nothing. The remaining agents are
// still matched against each other.
func (s *Scanner) Scan(ctx context.Context, from, to time.Time) ScanReport {
	kinds := s.rules.Agents()
	results := make([][]ir.Signal, len(kinds))
	failed := make([]bool, len(kinds))

	var g errgroup.Group
	for i, kind := range kinds {
		i, kind := i, kind
		g.Go(func() error {
			signals, err := s.query(ctx, kind, from, to)
			if err != nil {
				s.logger.Warn("signal source unavailable, treating as zero observations",
					"agent", kind, "from", from, "to", to, "error", err)
				sourceFailures.WithLabelValues(string(kind)).Inc()
				failed[i] = true
				return nil
			}
			results[i] = signals
			return nil
		})
	}
	_ = g.Wait()

	report := ScanReport{Observations: make(map[string][]ir.Signal)}
	byToken := make(map[string][]ir.Signal)
	for i, kind := range kinds {
		if failed[i] {
			report.Degraded = append(report.Degraded, kind)
			continue
		}
		report.Signals += len(results[i])
		signalsRead.WithLabelValues(string(kind)).Add(float64(len(results[i])))

		for _, sig := range results[i] {
			token := ir.NormalizeToken(sig.TokenSymbol)
			if token == "" {
				continue
			}
			sig.TokenSymbol = token
			sig.AgentKind = kind
			byToken[token] = append(byToken[token], sig)
		}
	}

	for token, signals := range byToken {
		reps := s.rules.representatives(signals)
		if len(reps) < 2 {
			continue
		}
		report.Observations[token] = reps
	}
	return report
}

func (s *Scanner) query(ctx context.Context, kind ir.AgentKind, from, to time.Time) ([]ir.Signal, error) {
	src, ok := s.sources[kind]
	if !ok || src == nil {
		return nil, errNoSource
	}

	qctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return src.ListSignals(qctx, kind, from, to)
}
