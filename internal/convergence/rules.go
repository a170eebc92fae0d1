package convergence

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/roach88/convergence/internal/config"
	"github.com/roach88/convergence/internal/ir"
)

// AgentRule is the scoring knowledge the engine holds about one agent:
// how its raw score maps onto 0-100, and how its signals vote.
type AgentRule struct {
	Kind  ir.AgentKind
	Scale string

	// Ladder maps grade labels to scores for ladder-scaled agents.
	// Keys are lower case.
	Ladder       map[string]float64
	DefaultGrade string

	Bullish []string
	Bearish []string

	// Threshold is the signed raw-score cutoff for magnitude-scaled votes.
	Threshold float64

	Representative string
}

// Rules is the complete, immutable scoring configuration.
type Rules struct {
	agents []AgentRule
	order  map[ir.AgentKind]int

	// multipliers is sorted by Agents ascending.
	multipliers       []config.MultiplierRule
	defaultMultiplier float64
	agreementBonus    float64
	minAgreeingVotes  int
}

// NewRules builds Rules from a loaded configuration.
func NewRules(cfg *config.Config) (*Rules, error) {
	if len(cfg.Agents) == 0 {
		return nil, fmt.Errorf("rules: no agents configured")
	}

	r := &Rules{
		order:             make(map[ir.AgentKind]int, len(cfg.Agents)),
		multipliers:       slices.Clone(cfg.Scoring.Multipliers),
		defaultMultiplier: cfg.Scoring.DefaultMultiplier,
		agreementBonus:    cfg.Scoring.AgreementBonus,
		minAgreeingVotes:  max(cfg.Scoring.MinAgreeingVotes, 1),
	}
	slices.SortFunc(r.multipliers, func(a, b config.MultiplierRule) int {
		return a.Agents - b.Agents
	})

	for i, a := range cfg.Agents {
		kind := ir.AgentKind(a.Kind)
		if _, dup := r.order[kind]; dup {
			return nil, fmt.Errorf("rules: agent %s configured twice", kind)
		}
		switch a.Scale {
		case config.ScaleLadder, config.ScaleFraction, config.ScaleMagnitude, config.ScalePercent:
		default:
			return nil, fmt.Errorf("rules: agent %s: unknown scale %q", kind, a.Scale)
		}

		ladder := make(map[string]float64, len(a.Ladder))
		for grade, score := range a.Ladder {
			ladder[strings.ToLower(grade)] = score
		}
		r.agents = append(r.agents, AgentRule{
			Kind:           kind,
			Scale:          a.Scale,
			Ladder:         ladder,
			DefaultGrade:   strings.ToLower(a.DefaultGrade),
			Bullish:        slices.Clone(a.Bullish),
			Bearish:        slices.Clone(a.Bearish),
			Threshold:      a.Threshold,
			Representative: a.Representative,
		})
		r.order[kind] = i
	}
	return r, nil
}

// Agents returns the configured agent kinds in order.
func (r *Rules) Agents() []ir.AgentKind {
	kinds := make([]ir.AgentKind, len(r.agents))
	for i, a := range r.agents {
		kinds[i] = a.Kind
	}
	return kinds
}

// Agent returns the rule for kind.
func (r *Rules) Agent(kind ir.AgentKind) (AgentRule, bool) {
	i, ok := r.order[kind]
	if !ok {
		return AgentRule{}, false
	}
	return r.agents[i], true
}

// Normalize maps a signal's raw score onto 0-100 per the agent's scale.
// The result is clamped and rounded to hundredths.
func (a AgentRule) Normalize(s ir.Signal) float64 {
	var score float64
	switch a.Scale {
	case config.ScaleLadder:
		v, ok := a.Ladder[strings.ToLower(strings.TrimSpace(s.Grade))]
		if !ok {
			v = a.Ladder[a.DefaultGrade]
		}
		score = v
	case config.ScaleFraction:
		score = s.RawScore * 100
	case config.ScaleMagnitude:
		score = math.Abs(s.RawScore) * 100
	case config.ScalePercent:
		score = s.RawScore
	}
	if math.IsNaN(score) {
		score = 0
	}
	score = min(max(score, 0), 100)
	return float64(ir.Hundredths(score)) / 100
}

// Vote derives the signal's directional vote. An explicit direction set
// by the collector wins; then the signal type lists; then, for magnitude
// agents, the sign of the raw score past the threshold.
func (a AgentRule) Vote(s ir.Signal) ir.Direction {
	switch s.Direction {
	case ir.DirectionBullish, ir.DirectionBearish, ir.DirectionNeutral:
		return s.Direction
	}

	if s.SignalType != "" {
		if containsFold(a.Bullish, s.SignalType) {
			return ir.DirectionBullish
		}
		if containsFold(a.Bearish, s.SignalType) {
			return ir.DirectionBearish
		}
	}

	if a.Scale == config.ScaleMagnitude {
		switch {
		case s.RawScore > a.Threshold:
			return ir.DirectionBullish
		case s.RawScore < -a.Threshold:
			return ir.DirectionBearish
		}
	}
	return ir.DirectionNeutral
}

func containsFold(list []string, v string) bool {
	v = strings.TrimSpace(v)
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

// BaseMultiplier returns the count-tier multiplier: the rule with the
// largest agent count not above count. Counts above every rule get the
// default multiplier; counts below every rule get 1.0.
func (r *Rules) BaseMultiplier(count int) float64 {
	if len(r.multipliers) == 0 {
		return r.defaultMultiplier
	}
	if count > r.multipliers[len(r.multipliers)-1].Agents {
		return r.defaultMultiplier
	}
	base := 1.0
	for _, m := range r.multipliers {
		if m.Agents > count {
			break
		}
		base = m.Multiplier
	}
	return base
}

// MultiplierFor returns the final multiplier for an overlap of count agents.
// The agreement bonus is added only for agreeing overlaps of two or more.
// Computed in hundredths so 1.5 + 0.2 is exactly 1.7.
func (r *Rules) MultiplierFor(count int, agreement bool) float64 {
	m := ir.Hundredths(r.BaseMultiplier(count))
	if agreement && count >= 2 {
		m += ir.Hundredths(r.agreementBonus)
	}
	return float64(m) / 100
}
