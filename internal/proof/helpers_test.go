package proof

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/convergence/internal/ir"
	"github.com/roach88/convergence/internal/store"
	"github.com/roach88/convergence/internal/testutil"
)

var testNow = time.Date(2026, 10, 17, 18, 0, 0, 0, time.UTC)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestPublisher(t *testing.T, st *store.Store, l *testutil.FakeLedger, clock *testutil.SettableClock, opts ...Option) *Publisher {
	t.Helper()
	base := []Option{
		WithClock(clock),
		WithHolderIDs(testutil.NewSequentialRunIDs("holder")),
		WithLeaseTTL(5 * time.Minute),
		WithTimeouts(5*time.Second, 5*time.Second),
	}
	return New(st, l, 42, append(base, opts...)...)
}

// recordedResult stores an AVAX two-agent result and returns it with its
// ledger artifact.
func recordedResult(t *testing.T, st *store.Store) (ir.ConvergenceResult, ir.Artifact) {
	t.Helper()
	windowStart := time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)
	r := ir.ConvergenceResult{
		TokenSymbol:    "AVAX",
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
		RunID:              "run-0001",
		DetectedAt:         testNow,
	}
	r.ContentHash = ir.MustHashPayload(ir.DomainConvergence, r.Payload()).String()

	stored, inserted, err := st.RecordConvergence(context.Background(), r)
	require.NoError(t, err)
	require.True(t, inserted)

	a := ir.Artifact{
		Identity:      stored.Identity(),
		Domain:        ir.DomainConvergence,
		Payload:       stored.Payload(),
		Score:         ir.Hundredths(stored.ConvergenceScore),
		ScoreDecimals: 2,
		Tag1:          "convergence",
		Tag2:          "2-agent",
		URI:           "convergence://signal/1",
		ExpectedHash:  stored.ContentHash,
	}
	return stored, a
}
