package convergence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/convergence/internal/ir"
	"github.com/roach88/convergence/internal/proof"
	"github.com/roach88/convergence/internal/store"
	"github.com/roach88/convergence/internal/testutil"
)

type detectorFixture struct {
	store     *store.Store
	source    *testutil.FakeSource
	ledger    *testutil.FakeLedger
	clock     *testutil.SettableClock
	publisher *proof.Publisher
	detector  *Detector
}

func newDetectorFixture(t *testing.T, signals ...ir.Signal) *detectorFixture {
	t.Helper()
	return newDetectorFixtureWith(t, nil, signals...)
}

func newDetectorFixtureWith(t *testing.T, opts []DetectorOption, signals ...ir.Signal) *detectorFixture {
	t.Helper()
	f := &detectorFixture{
		store:  setupTestStore(t),
		source: testutil.NewFakeSource(signals...),
		ledger: testutil.NewFakeLedger(),
		clock:  testutil.NewSettableClock(day1Noon),
	}
	f.publisher = proof.New(f.store, f.ledger, 42,
		proof.WithClock(f.clock),
		proof.WithHolderIDs(testutil.NewSequentialRunIDs("holder")),
		proof.WithTimeouts(5*time.Second, 5*time.Second))

	rules := defaultRules(t)
	rec := NewRecorder(f.store, f.publisher, PublishPolicy{
		MinAgents:    3,
		Tag:          "convergence",
		URIScheme:    "convergence",
		BacklogLimit: 10,
	}, 5*time.Second)
	opts = append([]DetectorOption{
		WithClock(f.clock),
		WithRunIDs(testutil.NewSequentialRunIDs("run")),
	}, opts...)
	f.detector = NewDetector(rules, NewScanner(rules, allSources(f.source)), rec, f.store, 24*time.Hour, opts...)
	return f
}

func (f *detectorFixture) checkpoint(t *testing.T) store.Checkpoint {
	t.Helper()
	cp, found, err := f.store.ReadCheckpoint(context.Background(), CheckpointName)
	require.NoError(t, err)
	require.True(t, found)
	return cp
}

func avaxSignals() []ir.Signal {
	return []ir.Signal{
		tipster("AVAX", 0.70, "BUY", day1.Add(2*time.Hour), "tip-1"),
		whale("AVAX", "medium", "swap", day1.Add(3*time.Hour), "tx-1"),
	}
}

func TestTick_TwoAgentConvergence(t *testing.T) {
	f := newDetectorFixture(t, avaxSignals()...)

	rep, err := f.detector.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "run-0001", rep.RunID)
	assert.Equal(t, []Window{window1}, rep.Windows)
	assert.Equal(t, 1, rep.Overlaps)
	require.Len(t, rep.Recorded, 1)
	assert.Zero(t, rep.Published, "two-agent results are not published")
	assert.Zero(t, f.ledger.Submissions())

	res := rep.Recorded[0]
	assert.Equal(t, "AVAX", res.TokenSymbol)
	assert.Equal(t, []ir.AgentKind{ir.AgentTipster, ir.AgentWhale}, res.AgentsInvolved)
	assert.Equal(t, 60.0, res.AvgScore)
	assert.Equal(t, 1.7, res.Multiplier)
	assert.Equal(t, 102.0, res.ConvergenceScore)
	assert.Equal(t, ir.DirectionBullish, res.Direction)
	assert.Equal(t, "run-0001", res.RunID)
	assert.Equal(t, day1Noon, res.DetectedAt)

	stored, err := f.store.ReadConvergence(context.Background(), "AVAX", day1)
	require.NoError(t, err)
	assert.Equal(t, res.ContentHash, stored.ContentHash)
	assert.NotEmpty(t, stored.ContentHash)
	assert.Empty(t, stored.ProofTxRef)

	cp := f.checkpoint(t)
	assert.Equal(t, day1, cp.WindowStart)
	assert.Equal(t, day1Noon, cp.ScannedThrough)
	assert.Equal(t, "run-0001", cp.RunID)
}

func TestTick_RepeatedTicksRecordOnce(t *testing.T) {
	f := newDetectorFixture(t, avaxSignals()...)

	_, err := f.detector.Tick(context.Background())
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	rep, err := f.detector.Tick(context.Background())
	require.NoError(t, err)

	assert.Empty(t, rep.Recorded)
	assert.Equal(t, 1, rep.Duplicates)

	all, err := f.store.ListConvergences(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, "run-0001", all[0].RunID, "first detection is kept")
}

func TestTick_SingleAgentIsNotConvergence(t *testing.T) {
	f := newDetectorFixture(t,
		tipster("PEPE", 0.9, "BUY", day1.Add(time.Hour), "tip-1"),
		tipster("PEPE", 0.8, "BUY", day1.Add(2*time.Hour), "tip-2"),
	)

	rep, err := f.detector.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, rep.Overlaps)
	assert.Empty(t, rep.Recorded)
}

func TestTick_ThreeAgentPublishedOnce(t *testing.T) {
	f := newDetectorFixture(t, append(avaxSignals(),
		narrative("AVAX", 0.5, day1.Add(4*time.Hour), "n-1"))...)

	rep, err := f.detector.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, rep.Recorded, 1)
	assert.Equal(t, 3, rep.Recorded[0].AgentCount)
	assert.Equal(t, 1, rep.Published)

	for k := 0; k < 3; k++ {
		f.clock.Advance(time.Hour)
		rep, err = f.detector.Tick(context.Background())
		require.NoError(t, err)
		assert.Zero(t, rep.Published)
	}

	require.Equal(t, 1, f.ledger.Submissions())
	claim := f.ledger.Claims()[0]
	assert.Equal(t, "convergence", claim.Tag1)
	assert.Equal(t, "3-agent", claim.Tag2)
	assert.Equal(t, 2, claim.ScoreDecimals)

	stored, err := f.store.ReadConvergence(context.Background(), "AVAX", day1)
	require.NoError(t, err)
	assert.Equal(t, "tx-0001", stored.ProofTxRef)
	assert.Equal(t, stored.ContentHash, stored.ProofHash)
	assert.Equal(t, ir.Hundredths(stored.ConvergenceScore), claim.Score)
	assert.Equal(t, stored.ContentHash, claim.Hash.String())
}

func TestTick_PublishFailureRetriedFromBacklog(t *testing.T) {
	f := newDetectorFixture(t, append(avaxSignals(),
		narrative("AVAX", 0.5, day1.Add(4*time.Hour), "n-1"))...)
	f.ledger.FailWith(errors.New("rpc unavailable"))

	rep, err := f.detector.Tick(context.Background())
	require.Error(t, err)
	assert.Len(t, rep.Recorded, 1)
	assert.Zero(t, rep.Published)
	assert.Equal(t, 1, rep.Failures)

	stored, err := f.store.ReadConvergence(context.Background(), "AVAX", day1)
	require.NoError(t, err)
	assert.Empty(t, stored.ProofTxRef)
	assert.Equal(t, day1Noon, f.checkpoint(t).ScannedThrough, "a publish failure does not hold the checkpoint")

	f.ledger.FailWith(nil)
	f.clock.Advance(time.Hour)
	rep, err = f.detector.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Published)
	assert.Equal(t, 1, rep.Duplicates)
	assert.Equal(t, 1, f.ledger.Submissions())

	stored, err = f.store.ReadConvergence(context.Background(), "AVAX", day1)
	require.NoError(t, err)
	assert.Equal(t, "tx-0001", stored.ProofTxRef)
}

func TestTick_PartialOutage(t *testing.T) {
	f := newDetectorFixture(t,
		tipster("AVAX", 0.70, "BUY", day1.Add(2*time.Hour), "tip-1"),
		whale("AVAX", "medium", "swap", day1.Add(3*time.Hour), "tx-1"),
		tipster("SOL", 0.60, "BUY", day1.Add(2*time.Hour), "tip-2"),
		narrative("SOL", 0.4, day1.Add(5*time.Hour), "n-1"),
	)
	f.source.SetDown(ir.AgentWhale, true)

	rep, err := f.detector.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []ir.AgentKind{ir.AgentWhale}, rep.Degraded)
	require.Len(t, rep.Recorded, 1)
	assert.Equal(t, "SOL", rep.Recorded[0].TokenSymbol)

	cp := f.checkpoint(t)
	assert.Equal(t, day1, cp.WindowStart)
	assert.Equal(t, day1, cp.ScannedThrough, "window marked as not covered")

	f.source.SetDown(ir.AgentWhale, false)
	f.clock.Advance(time.Hour)
	rep, err = f.detector.Tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rep.Degraded)
	require.Len(t, rep.Recorded, 1)
	assert.Equal(t, "AVAX", rep.Recorded[0].TokenSymbol)
	assert.Equal(t, 1, rep.Duplicates)
	assert.Equal(t, day1Noon.Add(time.Hour), f.checkpoint(t).ScannedThrough)
}

func TestTick_OutageRecoveredAfterWindowCloses(t *testing.T) {
	f := newDetectorFixture(t, avaxSignals()...)

	_, err := f.detector.Tick(context.Background())
	require.NoError(t, err)

	// Whale is down for the rest of the day; a late whale signal lands.
	f.source.SetDown(ir.AgentWhale, true)
	f.source.Add(
		tipster("ARB", 0.8, "BUY", day1.Add(18*time.Hour), "tip-9"),
		whale("ARB", "high", "swap", day1.Add(19*time.Hour), "tx-9"),
	)
	f.clock.Set(day1.Add(20 * time.Hour))
	rep, err := f.detector.Tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rep.Recorded)
	assert.Equal(t, day1Noon, f.checkpoint(t).ScannedThrough)

	f.source.SetDown(ir.AgentWhale, false)
	f.clock.Set(window1.End.Add(time.Hour))
	rep, err = f.detector.Tick(context.Background())
	require.NoError(t, err)

	require.Len(t, rep.Windows, 2)
	assert.Equal(t, window1, rep.Windows[0])
	assert.Equal(t, window1.End, rep.Windows[1].Start)
	require.Len(t, rep.Recorded, 1)
	assert.Equal(t, "ARB", rep.Recorded[0].TokenSymbol)
	assert.Equal(t, day1, rep.Recorded[0].WindowStart)

	cp := f.checkpoint(t)
	assert.Equal(t, window1.End, cp.WindowStart)
}

func TestTick_CatchesUpUnfinishedWindow(t *testing.T) {
	f := newDetectorFixture(t)

	_, err := f.detector.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, day1Noon, f.checkpoint(t).ScannedThrough)

	// The process is down from noon until after midnight.
	f.source.Add(
		tipster("DOGE", 0.75, "BUY", day1.Add(15*time.Hour), "tip-3"),
		whale("DOGE", "high", "swap", day1.Add(15*time.Hour+30*time.Minute), "tx-3"),
	)
	f.clock.Set(window1.End.Add(time.Hour))

	rep, err := f.detector.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, rep.Recorded, 1)
	assert.Equal(t, "DOGE", rep.Recorded[0].TokenSymbol)
	assert.Equal(t, window1.Start, rep.Recorded[0].WindowStart)
	assert.Equal(t, window1.End, rep.Recorded[0].WindowEnd)

	// A later tick does not scan the closed window again.
	f.clock.Advance(time.Hour)
	rep, err = f.detector.Tick(context.Background())
	require.NoError(t, err)
	assert.Len(t, rep.Windows, 1)
}

func TestTick_CatchesUpEverySkippedWindow(t *testing.T) {
	f := newDetectorFixture(t)
	day2 := window1.End
	day3 := day2.Add(24 * time.Hour)

	_, err := f.detector.Tick(context.Background())
	require.NoError(t, err)

	// Down for all of day two; the overlap happens in between.
	f.source.Add(
		tipster("DOGE", 0.75, "BUY", day2.Add(5*time.Hour), "tip-4"),
		whale("DOGE", "high", "swap", day2.Add(6*time.Hour), "tx-4"),
	)
	f.clock.Set(day3.Add(time.Hour))

	rep, err := f.detector.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Window{
		window1,
		{Start: day2, End: day3},
		{Start: day3, End: day3.Add(24 * time.Hour)},
	}, rep.Windows)
	require.Len(t, rep.Recorded, 1)
	assert.Equal(t, "DOGE", rep.Recorded[0].TokenSymbol)
	assert.Equal(t, day2, rep.Recorded[0].WindowStart)

	cp := f.checkpoint(t)
	assert.Equal(t, day3, cp.WindowStart)
	assert.Equal(t, day3.Add(time.Hour), cp.ScannedThrough)

	f.clock.Advance(time.Hour)
	rep, err = f.detector.Tick(context.Background())
	require.NoError(t, err)
	assert.Len(t, rep.Windows, 1, "closed windows are not scanned again")
	assert.Empty(t, rep.Recorded)
}

func TestTick_CatchUpLimitSkipsOldestWindows(t *testing.T) {
	f := newDetectorFixtureWith(t, []DetectorOption{WithMaxCatchUp(2)})
	day := func(n int) time.Time { return day1.Add(time.Duration(n-1) * 24 * time.Hour) }

	_, err := f.detector.Tick(context.Background())
	require.NoError(t, err)

	f.source.Add(
		tipster("ARB", 0.8, "BUY", day(2).Add(time.Hour), "tip-old"),
		whale("ARB", "high", "swap", day(2).Add(2*time.Hour), "tx-old"),
		tipster("DOGE", 0.75, "BUY", day(4).Add(time.Hour), "tip-new"),
		whale("DOGE", "high", "swap", day(4).Add(2*time.Hour), "tx-new"),
	)
	f.clock.Set(day(5).Add(time.Hour))

	rep, err := f.detector.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Window{
		{Start: day(3), End: day(4)},
		{Start: day(4), End: day(5)},
		{Start: day(5), End: day(6)},
	}, rep.Windows)
	require.Len(t, rep.Recorded, 1)
	assert.Equal(t, "DOGE", rep.Recorded[0].TokenSymbol)
	assert.Equal(t, day(5), f.checkpoint(t).WindowStart)
}

func TestTick_CatchUpStopsAtDegradedWindow(t *testing.T) {
	f := newDetectorFixture(t)
	day2 := window1.End
	day3 := day2.Add(24 * time.Hour)

	_, err := f.detector.Tick(context.Background())
	require.NoError(t, err)

	f.source.Add(
		tipster("DOGE", 0.75, "BUY", day2.Add(5*time.Hour), "tip-4"),
		whale("DOGE", "high", "swap", day2.Add(6*time.Hour), "tx-4"),
	)
	f.source.SetDown(ir.AgentWhale, true)
	f.clock.Set(day3.Add(time.Hour))

	rep, err := f.detector.Tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rep.Recorded)
	cp := f.checkpoint(t)
	assert.Equal(t, day1, cp.WindowStart, "checkpoint held at the first unfinished window")
	assert.Equal(t, day1Noon, cp.ScannedThrough)

	f.source.SetDown(ir.AgentWhale, false)
	f.clock.Advance(time.Hour)
	rep, err = f.detector.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, rep.Recorded, 1)
	assert.Equal(t, day2, rep.Recorded[0].WindowStart)
	assert.Equal(t, day3, f.checkpoint(t).WindowStart)
}

func TestTick_ConcurrentTicksRecordOnce(t *testing.T) {
	f := newDetectorFixture(t, append(avaxSignals(),
		narrative("AVAX", 0.5, day1.Add(4*time.Hour), "n-1"))...)

	const n = 8
	reports := make([]TickReport, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Publishing races may surface as in-progress errors; the
			// counts below are what matter.
			reports[i], _ = f.detector.Tick(context.Background())
		}()
	}
	wg.Wait()

	var recorded int
	for _, rep := range reports {
		recorded += len(rep.Recorded)
	}
	assert.Equal(t, 1, recorded)

	all, err := f.store.ListConvergences(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.LessOrEqual(t, f.ledger.Submissions(), 1)

	// Whatever a racing tick left behind, the next one publishes exactly once.
	f.clock.Advance(time.Hour)
	_, err = f.detector.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.ledger.Submissions())
}

func TestBoostedClaimAfterConvergence(t *testing.T) {
	f := newDetectorFixture(t, avaxSignals()...)
	_, err := f.detector.Tick(context.Background())
	require.NoError(t, err)

	oracle := NewBoostOracle(f.store, 24*time.Hour, time.Second)
	tipsterClaims := proof.NewClaimPublisher(ir.AgentTipster, f.publisher, oracle, f.store, f.clock)
	narrativeClaims := proof.NewClaimPublisher(ir.AgentNarrative, f.publisher, oracle, f.store, f.clock)

	score := 75
	claim, err := tipsterClaims.PublishReport(context.Background(), ir.AgentReport{
		ReportID:  "tipster-daily-1",
		AgentKind: ir.AgentTipster,
		Period:    "daily",
		Text:      "Top pick: AVAX",
		Score:     &score,
		TopToken:  "AVAX",
		CreatedAt: day1Noon,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(12750), claim.Score)
	assert.Equal(t, 1.7, claim.Boost)

	plain, err := narrativeClaims.PublishReport(context.Background(), ir.AgentReport{
		ReportID:  "narrative-daily-1",
		AgentKind: ir.AgentNarrative,
		Period:    "daily",
		Text:      "AVAX chatter",
		Score:     &score,
		TopToken:  "AVAX",
		CreatedAt: day1Noon,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7500), plain.Score)
	assert.Equal(t, 1.0, plain.Boost)

	claims := f.ledger.Claims()
	require.Len(t, claims, 2)
	assert.Equal(t, "daily-conv-1.7x", claims[0].Tag2)
	assert.Equal(t, "tipster://report/tipster-daily-1", claims[0].URI)
	assert.Equal(t, "daily", claims[1].Tag2)
}
