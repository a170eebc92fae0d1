package convergence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/convergence/internal/config"
	"github.com/roach88/convergence/internal/ir"
)

func TestNewRules_AgentOrder(t *testing.T) {
	r := defaultRules(t)
	assert.Equal(t, []ir.AgentKind{ir.AgentTipster, ir.AgentWhale, ir.AgentNarrative}, r.Agents())

	_, ok := r.Agent("auditor")
	assert.False(t, ok)
}

func TestNewRules_RejectsUnknownScale(t *testing.T) {
	cfg := config.Default()
	cfg.Agents[0].Scale = "logarithmic"
	_, err := NewRules(cfg)
	assert.ErrorContains(t, err, "unknown scale")
}

func TestNormalize(t *testing.T) {
	r := defaultRules(t)
	tip, _ := r.Agent(ir.AgentTipster)
	wh, _ := r.Agent(ir.AgentWhale)
	nar, _ := r.Agent(ir.AgentNarrative)
	pct := AgentRule{Scale: config.ScalePercent}

	tests := []struct {
		name string
		rule AgentRule
		sig  ir.Signal
		want float64
	}{
		{"fraction", tip, ir.Signal{RawScore: 0.7}, 70},
		{"fraction clamps high", tip, ir.Signal{RawScore: 1.3}, 100},
		{"fraction clamps low", tip, ir.Signal{RawScore: -0.2}, 0},
		{"ladder low", wh, ir.Signal{Grade: "low"}, 25},
		{"ladder critical mixed case", wh, ir.Signal{Grade: " Critical "}, 100},
		{"ladder unknown uses default", wh, ir.Signal{Grade: "enormous"}, 50},
		{"ladder empty uses default", wh, ir.Signal{}, 50},
		{"magnitude positive", nar, ir.Signal{RawScore: 0.45}, 45},
		{"magnitude negative", nar, ir.Signal{RawScore: -0.6}, 60},
		{"percent", pct, ir.Signal{RawScore: 33.333}, 33.33},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rule.Normalize(tt.sig))
		})
	}
}

func TestVote(t *testing.T) {
	r := defaultRules(t)
	tip, _ := r.Agent(ir.AgentTipster)
	wh, _ := r.Agent(ir.AgentWhale)
	nar, _ := r.Agent(ir.AgentNarrative)

	tests := []struct {
		name string
		rule AgentRule
		sig  ir.Signal
		want ir.Direction
	}{
		{"buy", tip, ir.Signal{SignalType: "BUY"}, ir.DirectionBullish},
		{"hold is bullish", tip, ir.Signal{SignalType: "hold"}, ir.DirectionBullish},
		{"avoid", tip, ir.Signal{SignalType: "AVOID"}, ir.DirectionBearish},
		{"unknown type", tip, ir.Signal{SignalType: "WATCH"}, ir.DirectionNeutral},
		{"explicit direction wins", tip, ir.Signal{SignalType: "BUY", Direction: ir.DirectionBearish}, ir.DirectionBearish},
		{"swap", wh, ir.Signal{SignalType: "swap"}, ir.DirectionBullish},
		{"unstake", wh, ir.Signal{SignalType: "unstake"}, ir.DirectionBearish},
		{"sentiment above threshold", nar, ir.Signal{RawScore: 0.21}, ir.DirectionBullish},
		{"sentiment at threshold", nar, ir.Signal{RawScore: 0.2}, ir.DirectionNeutral},
		{"sentiment below negative threshold", nar, ir.Signal{RawScore: -0.5}, ir.DirectionBearish},
		{"fraction ignores threshold", tip, ir.Signal{RawScore: 0.9}, ir.DirectionNeutral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rule.Vote(tt.sig))
		})
	}
}

func TestMultiplierFor(t *testing.T) {
	r := defaultRules(t)

	tests := []struct {
		count     int
		agreement bool
		want      float64
	}{
		{2, false, 1.5},
		{2, true, 1.7},
		{3, false, 2.0},
		{3, true, 2.2},
		{7, false, 2.0},
		{7, true, 2.2},
		{1, true, 1.0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, r.MultiplierFor(tt.count, tt.agreement), "count=%d agreement=%v", tt.count, tt.agreement)
	}
}

func TestMultiplierFor_DefaultAboveTable(t *testing.T) {
	cfg := config.Default()
	cfg.Scoring.Multipliers = []config.MultiplierRule{{Agents: 3, Multiplier: 2.5}, {Agents: 2, Multiplier: 1.25}}
	cfg.Scoring.DefaultMultiplier = 3.0
	r, err := NewRules(cfg)
	require.NoError(t, err)

	assert.Equal(t, 1.25, r.BaseMultiplier(2))
	assert.Equal(t, 2.5, r.BaseMultiplier(3))
	assert.Equal(t, 3.0, r.BaseMultiplier(4))
}
