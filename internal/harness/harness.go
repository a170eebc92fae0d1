package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/roach88/convergence/internal/config"
	"github.com/roach88/convergence/internal/convergence"
	"github.com/roach88/convergence/internal/ir"
	"github.com/roach88/convergence/internal/proof"
	"github.com/roach88/convergence/internal/store"
	"github.com/roach88/convergence/internal/testutil"
)

// Harness wires the real pipeline over in-memory collaborators.
type Harness struct {
	cfg      *config.Config
	store    *store.Store
	source   *testutil.FakeSource
	ledger   *testutil.FakeLedger
	clock    *testutil.SettableClock
	holders  *testutil.SequentialRunIDs
	detector *convergence.Detector
	oracle   *convergence.BoostOracle
	claims   map[ir.AgentKind]*proof.ClaimPublisher
	logger   *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database. Execution flow:
//  1. build the configuration and wire the pipeline
//  2. store the scenario's reports
//  3. run each step: set the clock, apply state changes, run actions
//  4. evaluate assertions against the final state
//
// An error is returned only when the scenario cannot be run at all;
// failed assertions are reported in the Result.
func Run(scenario *Scenario) (*Result, error) {
	cfg, err := scenarioConfig(scenario.Config)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h, err := newHarness(cfg, st, scenario)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	if len(scenario.Reports) > 0 {
		if _, err := st.AppendReports(ctx, scenario.Reports); err != nil {
			return nil, fmt.Errorf("failed to store reports: %w", err)
		}
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i+1, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	result.Ledger = h.ledger.Claims()

	actx := &AssertionContext{
		Ctx:    ctx,
		Store:  st,
		Oracle: h.oracle,
		Ledger: h.ledger,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// scenarioConfig round-trips the override map through the config loader
// so scenarios get the same defaults and validation as a config file.
func scenarioConfig(overrides map[string]any) (*config.Config, error) {
	if len(overrides) == 0 {
		return config.Default(), nil
	}
	data, err := yaml.Marshal(overrides)
	if err != nil {
		return nil, fmt.Errorf("scenario config: %w", err)
	}
	cfg, err := config.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("scenario config: %w", err)
	}
	return cfg, nil
}

func newHarness(cfg *config.Config, st *store.Store, scenario *Scenario) (*Harness, error) {
	start := scenario.Steps[0].At
	h := &Harness{
		cfg:     cfg,
		store:   st,
		source:  testutil.NewFakeSource(scenario.Signals...),
		ledger:  testutil.NewFakeLedger(),
		clock:   testutil.NewSettableClock(start),
		holders: testutil.NewSequentialRunIDs("holder"),
		claims:  make(map[ir.AgentKind]*proof.ClaimPublisher),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	rules, err := convergence.NewRules(cfg)
	if err != nil {
		return nil, err
	}
	sources := make(map[ir.AgentKind]convergence.SignalSource)
	for _, kind := range rules.Agents() {
		sources[kind] = h.source
	}

	publisher := h.publisher(cfg.Ledger.AgentID)
	recorder := convergence.NewRecorder(st, publisher, convergence.PublishPolicy{
		MinAgents:    cfg.Publish.MinAgents,
		Tag:          cfg.Publish.Tag,
		URIScheme:    cfg.Publish.URIScheme,
		BacklogLimit: cfg.Publish.BacklogLimit,
	}, cfg.StoreTimeout())
	scanner := convergence.NewScanner(rules, sources,
		convergence.WithSourceTimeout(cfg.SourceTimeout()),
		convergence.WithScannerLogger(h.logger))

	h.detector = convergence.NewDetector(rules, scanner, recorder, st, cfg.Window(),
		convergence.WithClock(h.clock),
		convergence.WithRunIDs(testutil.NewSequentialRunIDs("run")),
		convergence.WithStoreTimeout(cfg.StoreTimeout()),
		convergence.WithMaxCatchUp(cfg.Scan.MaxCatchUpWindows))
	h.oracle = convergence.NewBoostOracle(st, cfg.Window(), cfg.StoreTimeout())

	for _, a := range cfg.Agents {
		kind := ir.AgentKind(a.Kind)
		h.claims[kind] = proof.NewClaimPublisher(kind, h.publisher(a.Claims.AgentID), h.oracle, st, h.clock)
	}
	return h, nil
}

func (h *Harness) publisher(agentID int64) *proof.Publisher {
	return proof.New(h.store, h.ledger, agentID,
		proof.WithClock(h.clock),
		proof.WithHolderIDs(h.holders),
		proof.WithLeaseTTL(h.cfg.LeaseTTL()),
		proof.WithTimeouts(h.cfg.StoreTimeout(), h.cfg.LedgerTimeout()),
		proof.WithLogger(h.logger))
}

// executeStep applies one step. Tick and claim failures are part of the
// trace, not errors: scenarios exercise them on purpose.
func (h *Harness) executeStep(ctx context.Context, n int, step Step, result *Result) error {
	h.clock.Set(step.At)
	at := ir.IRTime(step.At)

	for _, kind := range step.Down {
		h.source.SetDown(kind, true)
	}
	for _, kind := range step.Up {
		h.source.SetDown(kind, false)
	}
	if step.LedgerError != "" {
		h.ledger.FailWith(fmt.Errorf("%s", step.LedgerError))
	}
	if step.LedgerOK {
		h.ledger.FailWith(nil)
	}
	if len(step.AddSignals) > 0 {
		h.source.Add(step.AddSignals...)
	}

	if step.Tick {
		rep, err := h.detector.Tick(ctx)
		if err != nil {
			h.logger.Debug("tick had failures", "step", n, "error", err)
		}
		result.AddTickTrace(n, rep, at, err != nil)
	}

	if step.PublishReports != "" {
		cp, ok := h.claims[step.PublishReports]
		if !ok {
			return fmt.Errorf("publish_reports: agent %q is not configured", step.PublishReports)
		}
		agent, _ := h.cfg.Agent(string(step.PublishReports))
		published, err := cp.PublishPending(ctx, h.store, agent.Claims.BatchSize)
		if err != nil {
			h.logger.Debug("claim run had failures", "step", n, "error", err)
		}
		result.AddClaimsTrace(n, step.PublishReports, at, published, err != nil)
	}
	return nil
}
