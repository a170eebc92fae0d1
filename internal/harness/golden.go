package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/convergence/internal/ir"
)

// Snapshot renders a result as canonical JSON: the scenario name, the
// trace, and every claim that landed on the ledger.
func Snapshot(name string, result *Result) ([]byte, error) {
	trace := make(ir.IRArray, len(result.Trace))
	for i, event := range result.Trace {
		trace[i] = event
	}
	claims := make(ir.IRArray, len(result.Ledger))
	for i, c := range result.Ledger {
		claims[i] = ledgerEvent(c)
	}
	return ir.MarshalCanonical(ir.IRObject{
		"scenario_name": ir.IRString(name),
		"trace":         trace,
		"ledger":        claims,
	})
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an already-run result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	snapshot, err := Snapshot(name, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, snapshot)
	return nil
}
