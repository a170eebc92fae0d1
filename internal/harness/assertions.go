package harness

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/roach88/convergence/internal/convergence"
	"github.com/roach88/convergence/internal/ir"
	"github.com/roach88/convergence/internal/store"
	"github.com/roach88/convergence/internal/testutil"
)

// AssertionContext is what assertions read the final state from.
type AssertionContext struct {
	Ctx    context.Context
	Store  *store.Store
	Oracle *convergence.BoostOracle
	Ledger *testutil.FakeLedger
}

// AssertionError is returned when an assertion fails.
// It carries the trace to help debug the failure.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, describeEvent(event))
		}
	}
	return buf.String()
}

func describeEvent(event TraceEvent) string {
	b, err := ir.MarshalCanonical(event)
	if err != nil {
		return fmt.Sprintf("%v", event)
	}
	return string(b)
}

// EvaluateAssertions checks every assertion and returns one message per
// failure.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(a, actx); err != nil {
			var ae *AssertionError
			if errors.As(err, &ae) {
				ae.Trace = result.Trace
			}
			failures = append(failures, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return failures
}

func evaluate(a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertResult:
		return assertResult(actx, a)
	case AssertNoResult:
		return assertNoResult(actx, a)
	case AssertResultCount:
		return assertResultCount(actx, a)
	case AssertLedgerCount:
		return assertCount(a.Type, *a.Count, actx.Ledger.Submissions())
	case AssertBoost:
		return assertBoost(actx, a)
	case AssertClaim:
		return assertClaim(actx, a)
	case AssertCheckpoint:
		return assertCheckpoint(actx, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func assertResult(actx *AssertionContext, a Assertion) error {
	res, err := actx.Store.ReadConvergence(actx.Ctx, ir.NormalizeToken(a.Token), a.WindowStart)
	if errors.Is(err, sql.ErrNoRows) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("result for %s in window %s", a.Token, a.WindowStart.Format(time.RFC3339)),
			Actual:   "no result",
		}
	}
	if err != nil {
		return err
	}

	var diffs []string
	if a.Agents != nil && !slices.Equal(a.Agents, res.AgentsInvolved) {
		diffs = append(diffs, fmt.Sprintf("agents %v, got %v", a.Agents, res.AgentsInvolved))
	}
	if a.Score != nil && ir.Hundredths(*a.Score) != ir.Hundredths(res.ConvergenceScore) {
		diffs = append(diffs, fmt.Sprintf("score %.2f, got %.2f", *a.Score, res.ConvergenceScore))
	}
	if a.Multiplier != nil && ir.Hundredths(*a.Multiplier) != ir.Hundredths(res.Multiplier) {
		diffs = append(diffs, fmt.Sprintf("multiplier %.2f, got %.2f", *a.Multiplier, res.Multiplier))
	}
	if a.Direction != "" && a.Direction != res.Direction {
		diffs = append(diffs, fmt.Sprintf("direction %s, got %s", a.Direction, res.Direction))
	}
	if a.Published != nil && *a.Published != (res.ProofTxRef != "") {
		diffs = append(diffs, fmt.Sprintf("published %t, got tx ref %q", *a.Published, res.ProofTxRef))
	}
	if len(diffs) > 0 {
		return &AssertionError{
			Type:     a.Type,
			Expected: a.Token + " with " + strings.Join(diffs, "; "),
			Actual:   fmt.Sprintf("%+v", res),
		}
	}
	return nil
}

func assertNoResult(actx *AssertionContext, a Assertion) error {
	res, err := actx.Store.ReadConvergence(actx.Ctx, ir.NormalizeToken(a.Token), a.WindowStart)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("no result for %s in window %s", a.Token, a.WindowStart.Format(time.RFC3339)),
		Actual:   fmt.Sprintf("result %d with agents %v", res.ID, res.AgentsInvolved),
	}
}

func assertResultCount(actx *AssertionContext, a Assertion) error {
	all, err := actx.Store.ListConvergences(actx.Ctx, 10000)
	if err != nil {
		return err
	}
	return assertCount(a.Type, *a.Count, len(all))
}

func assertCount(kind string, want, got int) error {
	if want != got {
		return &AssertionError{
			Type:     kind,
			Expected: fmt.Sprintf("%d", want),
			Actual:   fmt.Sprintf("%d", got),
		}
	}
	return nil
}

func assertBoost(actx *AssertionContext, a Assertion) error {
	got, err := actx.Oracle.LookupBoost(actx.Ctx, a.Agent, a.Token, a.At)
	if err != nil {
		return err
	}
	if ir.Hundredths(got) != ir.Hundredths(*a.Boost) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("boost %.2f for %s on %s", *a.Boost, a.Agent, a.Token),
			Actual:   fmt.Sprintf("%.2f", got),
		}
	}
	return nil
}

func assertClaim(actx *AssertionContext, a Assertion) error {
	claim, found, err := actx.Store.ReadClaim(actx.Ctx, a.ReportID)
	if err != nil {
		return err
	}
	if !found {
		return &AssertionError{Type: a.Type, Expected: "claim " + a.ReportID, Actual: "no claim"}
	}

	var diffs []string
	if a.ClaimScore != nil && *a.ClaimScore != claim.Score {
		diffs = append(diffs, fmt.Sprintf("score %d, got %d", *a.ClaimScore, claim.Score))
	}
	if a.Published != nil && *a.Published != (claim.ProofTxRef != "") {
		diffs = append(diffs, fmt.Sprintf("published %t, got tx ref %q", *a.Published, claim.ProofTxRef))
	}
	if len(diffs) > 0 {
		return &AssertionError{
			Type:     a.Type,
			Expected: a.ReportID + " with " + strings.Join(diffs, "; "),
			Actual:   fmt.Sprintf("%+v", claim),
		}
	}
	return nil
}

func assertCheckpoint(actx *AssertionContext, a Assertion) error {
	cp, found, err := actx.Store.ReadCheckpoint(actx.Ctx, convergence.CheckpointName)
	if err != nil {
		return err
	}
	if !found {
		return &AssertionError{Type: a.Type, Expected: "a checkpoint", Actual: "none"}
	}
	if !cp.WindowStart.Equal(a.WindowStart) ||
		(!a.ScannedThrough.IsZero() && !cp.ScannedThrough.Equal(a.ScannedThrough)) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("window %s scanned through %s", a.WindowStart.Format(time.RFC3339), a.ScannedThrough.Format(time.RFC3339)),
			Actual:   fmt.Sprintf("window %s scanned through %s", cp.WindowStart.Format(time.RFC3339), cp.ScannedThrough.Format(time.RFC3339)),
		}
	}
	return nil
}
