package harness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/convergence/internal/ir"
	"github.com/roach88/convergence/internal/ledger"
)

func TestRunWithGolden_Testdata(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			require.Equal(t, name, scenario.Name, "scenario name must match its file name")

			// Regenerate with:
			//   go test ./internal/harness -run TestRunWithGolden_Testdata -update
			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRunWithGolden_EveryScenarioHasGolden(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		_, err := os.Stat(filepath.Join("testdata", "golden", name+".golden"))
		assert.NoError(t, err, "missing golden file for %s", name)
	}
}

func TestSnapshot_Canonical(t *testing.T) {
	result := NewResult()
	result.AddClaimsTrace(1, ir.AgentTipster, ir.IRString("2026-10-17T14:00:00Z"), 1, false)
	result.Ledger = []ledger.Claim{{
		AgentID:       7,
		Identity:      "claim/tipster-r1",
		Score:         13600,
		ScoreDecimals: 2,
		Tag1:          "tipster",
		Tag2:          "daily-conv-1.7x",
		URI:           "tipster://report/tipster-r1",
	}}

	got, err := Snapshot("s", result)
	require.NoError(t, err)

	want := `{"ledger":[{"agent_id":7,"decimals":2,"score":13600,"tag1":"tipster","tag2":"daily-conv-1.7x","uri":"tipster://report/tipster-r1"}],` +
		`"scenario_name":"s",` +
		`"trace":[{"agent":"tipster","at":"2026-10-17T14:00:00Z","error":false,"published":1,"step":1,"type":"claims"}]}`
	assert.Equal(t, want, string(got))
}

func TestSnapshot_EmptyResult(t *testing.T) {
	got, err := Snapshot("empty", NewResult())
	require.NoError(t, err)
	assert.Equal(t, `{"ledger":[],"scenario_name":"empty","trace":[]}`, string(got))
}

func TestSnapshot_ExcludesHashes(t *testing.T) {
	result := NewResult()
	result.Ledger = []ledger.Claim{{Hash: ir.MustHashPayload(ir.DomainClaim, ir.IRObject{"v": ir.IRString("1")})}}

	got, err := Snapshot("s", result)
	require.NoError(t, err)
	assert.NotContains(t, string(got), "hash")
	assert.NotContains(t, string(got), "identity")
}
