package convergence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/roach88/convergence/internal/engine"
	"github.com/roach88/convergence/internal/ir"
	"github.com/roach88/convergence/internal/store"
)

// CheckpointName is the scan_checkpoints row the detector owns.
const CheckpointName = "convergence"

// DefaultMaxCatchUp is how many closed windows one tick scans after a gap.
const DefaultMaxCatchUp = 7

// TickReport summarizes one detector tick.
type TickReport struct {
	RunID   string   `json:"run_id"`
	Windows []Window `json:"windows"`

	// Overlaps counts tokens seen by two or more agents, across windows.
	Overlaps int `json:"overlaps"`

	// Recorded holds the results this tick inserted.
	Recorded []ir.ConvergenceResult `json:"recorded"`

	// Duplicates counts overlaps that were already recorded.
	Duplicates int `json:"duplicates"`

	Published int            `json:"published"`
	Degraded  []ir.AgentKind `json:"degraded,omitempty"`
	Failures  int            `json:"failures"`
}

// Detector runs the scan, synthesize, record, publish pipeline.
//
// Detector holds no state between ticks: the window being scanned and how
// far it has been covered live in the scan checkpoint, so a restarted
// process picks up where the last one stopped.
type Detector struct {
	rules    *Rules
	scanner  *Scanner
	recorder *Recorder
	store    *store.Store
	clock    engine.Clock
	ids      engine.RunIDGenerator
	window   time.Duration
	timeout  time.Duration
	maxCatch int
	logger   *slog.Logger
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithClock sets the clock ticks read "now" from. Default: engine.SystemClock.
func WithClock(c engine.Clock) DetectorOption {
	return func(d *Detector) {
		d.clock = c
	}
}

// WithRunIDs sets the run id generator. Default: engine.UUIDv7Generator.
func WithRunIDs(g engine.RunIDGenerator) DetectorOption {
	return func(d *Detector) {
		d.ids = g
	}
}

// WithStoreTimeout bounds each store call the detector makes. Default: 10s.
func WithStoreTimeout(t time.Duration) DetectorOption {
	return func(d *Detector) {
		d.timeout = t
	}
}

// WithMaxCatchUp bounds how many closed windows a tick scans when the
// checkpoint is behind. Older windows are skipped and logged.
// Default: DefaultMaxCatchUp.
func WithMaxCatchUp(n int) DetectorOption {
	return func(d *Detector) {
		if n > 0 {
			d.maxCatch = n
		}
	}
}

// NewDetector wires a detector over window-length windows.
func NewDetector(rules *Rules, scanner *Scanner, recorder *Recorder, st *store.Store, window time.Duration, opts ...DetectorOption) *Detector {
	d := &Detector{
		rules:    rules,
		scanner:  scanner,
		recorder: recorder,
		store:    st,
		clock:    engine.SystemClock{},
		ids:      engine.UUIDv7Generator{},
		window:   window,
		timeout:  10 * time.Second,
		maxCatch: DefaultMaxCatchUp,
		logger:   slog.Default().With("component", "detector"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Window returns the window containing asOf.
func (d *Detector) Window(asOf time.Time) Window {
	return WindowFor(asOf, d.window)
}

// Tick runs one detection pass:
//
//  1. retry publication of qualifying results that have no proof yet
//  2. if the checkpoint is behind the current window, scan every closed
//     window from the checkpoint onwards once in full, advancing the
//     checkpoint after each
//  3. scan the current window up to now and record every overlap
//  4. advance the checkpoint, unless a source was down
//
// Failures for one token are logged and do not stop the others. The
// returned error joins every per-token failure; the report is always
// filled in.
func (d *Detector) Tick(ctx context.Context) (TickReport, error) {
	runID := d.ids.Generate()
	now := d.clock.Now().UTC()

	ctx, span := startTickSpan(ctx, runID)
	defer span.End()

	logger := d.logger.With("run_id", runID)
	rep := TickReport{RunID: runID}
	var errs []error

	if n, err := d.recorder.PublishBacklog(ctx); err != nil {
		errs = append(errs, err)
	} else if n > 0 {
		rep.Published += n
	}

	current := d.Window(now)
	cp, found, cpErr := d.readCheckpoint(ctx)
	if cpErr != nil {
		errs = append(errs, cpErr)
	}

	caughtUp := true
	if found && cp.WindowStart.Before(current.Start) {
		var cerrs []error
		caughtUp, cerrs = d.catchUp(ctx, logger, &rep, cp, current, now)
		errs = append(errs, cerrs...)
	}

	through := current.Through(now)
	complete, werrs := d.scanWindow(ctx, logger, &rep, current, through, now)
	errs = append(errs, werrs...)
	switch {
	case !caughtUp:
		logger.Warn("checkpoint held at unfinished window")
	case !complete:
		logger.Warn("checkpoint not advanced: scan incomplete", "window", current.String(), "degraded", rep.Degraded)
		if !found && cpErr == nil {
			// Mark the window as started but uncovered so a later tick
			// catches it up.
			errs = appendErr(errs, d.advanceCheckpoint(ctx, runID, current, current.Start, now))
		}
	default:
		errs = appendErr(errs, d.advanceCheckpoint(ctx, runID, current, through, now))
	}

	setTickSpanResult(span, rep)
	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tick had failures")
	}

	logger.Info("convergence tick complete",
		"windows", len(rep.Windows),
		"overlaps", rep.Overlaps,
		"recorded", len(rep.Recorded),
		"duplicates", rep.Duplicates,
		"published", rep.Published,
		"degraded", rep.Degraded,
		"failures", rep.Failures)
	return rep, err
}

// catchUp scans the closed windows between the checkpoint and current, oldest
// first. The checkpoint window is skipped when it was already scanned to its
// end. It stops at the first window that cannot be scanned completely and
// leaves the checkpoint there so the next tick resumes from it.
func (d *Detector) catchUp(ctx context.Context, logger *slog.Logger, rep *TickReport, cp store.Checkpoint, current Window, now time.Time) (bool, []error) {
	first := WindowFor(cp.WindowStart, d.window)
	if !cp.ScannedThrough.Before(first.Last()) {
		first = Window{Start: first.End, End: first.End.Add(d.window)}
	}

	pending := int(current.Start.Sub(first.Start) / d.window)
	if pending <= 0 {
		return true, nil
	}
	if pending > d.maxCatch {
		oldest := Window{Start: current.Start.Add(-time.Duration(d.maxCatch) * d.window)}
		logger.Warn("catch-up limit reached, skipping windows",
			"skipped_from", first.Start,
			"skipped_until", oldest.Start,
			"skipped", pending-d.maxCatch,
			"max_catch_up", d.maxCatch)
		catchUpSkipped.Add(float64(pending - d.maxCatch))
		first = Window{Start: oldest.Start, End: oldest.Start.Add(d.window)}
	}

	var errs []error
	for w := first; w.Start.Before(current.Start); w = (Window{Start: w.End, End: w.End.Add(d.window)}) {
		logger.Info("catching up closed window", "window", w.String())
		complete, werrs := d.scanWindow(ctx, logger, rep, w, w.Last(), now)
		errs = append(errs, werrs...)
		if !complete {
			if w.Start.After(cp.WindowStart) {
				// Mark w as started but uncovered so the next tick resumes here.
				errs = appendErr(errs, d.advanceCheckpoint(ctx, rep.RunID, w, w.Start, now))
			}
			return false, errs
		}
		errs = appendErr(errs, d.advanceCheckpoint(ctx, rep.RunID, w, w.Last(), now))
	}
	return true, errs
}

// scanWindow scans w through the given instant, records overlaps and
// publishes new top-tier results. complete is false when a source was down
// or a result could not be recorded, so the window must be scanned again.
func (d *Detector) scanWindow(ctx context.Context, logger *slog.Logger, rep *TickReport, w Window, through, now time.Time) (complete bool, errs []error) {
	rep.Windows = append(rep.Windows, w)
	scan := d.scanner.Scan(ctx, w.Start, through)
	rep.Overlaps += len(scan.Observations)
	for _, kind := range scan.Degraded {
		if !containsKind(rep.Degraded, kind) {
			rep.Degraded = append(rep.Degraded, kind)
		}
	}

	var failures int
	for _, token := range SortedTokens(scan.Observations) {
		res, ok := d.rules.Synthesize(token, w, scan.Observations[token])
		if !ok {
			continue
		}
		res.RunID = rep.RunID
		res.DetectedAt = now

		stored, isNew, err := d.recorder.Record(ctx, res)
		if err != nil {
			logger.Error("record failed", "token", token, "window", w.String(), "error", err)
			rep.Failures++
			failures++
			errs = append(errs, err)
			continue
		}
		if !isNew {
			rep.Duplicates++
			continue
		}
		rep.Recorded = append(rep.Recorded, stored)
		logger.Info("convergence recorded",
			"token", stored.TokenSymbol,
			"agents", stored.AgentsInvolved,
			"score", stored.ConvergenceScore,
			"multiplier", stored.Multiplier,
			"direction", stored.Direction)

		if !d.recorder.Publishable(stored) {
			continue
		}
		ref, err := d.recorder.Publish(ctx, stored)
		if err != nil {
			// Left for the next tick's backlog pass.
			logger.Error("publish failed", "token", stored.TokenSymbol, "error", err)
			rep.Failures++
			errs = append(errs, err)
			continue
		}
		rep.Published++
		logger.Info("convergence published", "token", stored.TokenSymbol, "tx_ref", ref.TxRef)
	}

	return len(scan.Degraded) == 0 && failures == 0, errs
}

func (d *Detector) readCheckpoint(ctx context.Context) (store.Checkpoint, bool, error) {
	sctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	cp, found, err := d.store.ReadCheckpoint(sctx, CheckpointName)
	if err != nil {
		return store.Checkpoint{}, false, fmt.Errorf("tick: %w", err)
	}
	return cp, found, nil
}

func (d *Detector) advanceCheckpoint(ctx context.Context, runID string, w Window, through, now time.Time) error {
	sctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	_, err := d.store.AdvanceCheckpoint(sctx, store.Checkpoint{
		Name:           CheckpointName,
		WindowStart:    w.Start,
		ScannedThrough: through,
		RunID:          runID,
		UpdatedAt:      now,
	})
	if err != nil {
		return fmt.Errorf("tick: %w", err)
	}
	return nil
}

func containsKind(kinds []ir.AgentKind, k ir.AgentKind) bool {
	for _, x := range kinds {
		if x == k {
			return true
		}
	}
	return false
}

func appendErr(errs []error, err error) []error {
	if err != nil {
		return append(errs, err)
	}
	return errs
}
