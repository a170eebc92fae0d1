package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/convergence/internal/ir"
)

var testWindowStart = time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)

// createTestStore creates a new temp-dir store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestResult creates a two-agent result with minimal required fields.
func createTestResult(token string, windowStart time.Time) ir.ConvergenceResult {
	r := ir.ConvergenceResult{
		TokenSymbol:    token,
		WindowStart:    windowStart,
		WindowEnd:      windowStart.Add(24 * time.Hour),
		AgentsInvolved: []ir.AgentKind{ir.AgentTipster, ir.AgentWhale},
		AgentCount:     2,
		Scores: []ir.AgentScore{
			{Agent: ir.AgentTipster, Score: 70, Vote: ir.DirectionBullish, SourceID: "sig-1"},
			{Agent: ir.AgentWhale, Score: 50, Vote: ir.DirectionBullish, SourceID: "tx-9"},
		},
		AvgScore:           60,
		Multiplier:         1.7,
		ConvergenceScore:   102,
		Direction:          ir.DirectionBullish,
		DirectionAgreement: true,
		RunID:              "run-1",
		DetectedAt:         windowStart.Add(6 * time.Hour),
	}
	r.ContentHash = ir.MustHashPayload(ir.DomainConvergence, r.Payload()).String()
	return r
}
