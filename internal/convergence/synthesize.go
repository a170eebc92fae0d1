package convergence

import (
	"slices"
	"strings"

	"github.com/roach88/convergence/internal/config"
	"github.com/roach88/convergence/internal/ir"
)

// Synthesize scores one token's overlap inside w.
//
// obs holds the token's signals from any number of agents; agents not in
// the rules are ignored, and if an agent appears more than once its
// representative signal is used. Returns false when fewer than two agents
// remain.
//
// The result has no RunID, DetectedAt or ContentHash: those describe the
// recording, not the overlap, and are stamped by the Recorder.
func (r *Rules) Synthesize(token string, w Window, obs []ir.Signal) (ir.ConvergenceResult, bool) {
	reps := r.representatives(obs)
	if len(reps) < 2 {
		return ir.ConvergenceResult{}, false
	}

	res := ir.ConvergenceResult{
		TokenSymbol:    ir.NormalizeToken(token),
		WindowStart:    w.Start.UTC(),
		WindowEnd:      w.End.UTC(),
		AgentsInvolved: make([]ir.AgentKind, 0, len(reps)),
		AgentCount:     len(reps),
		Scores:         make([]ir.AgentScore, 0, len(reps)),
	}

	var sum int64
	var bullish, bearish int
	for _, s := range reps {
		rule := r.agents[r.order[s.AgentKind]]
		score := rule.Normalize(s)
		vote := rule.Vote(s)

		switch vote {
		case ir.DirectionBullish:
			bullish++
		case ir.DirectionBearish:
			bearish++
		}

		sum += ir.Hundredths(score)
		res.AgentsInvolved = append(res.AgentsInvolved, s.AgentKind)
		res.Scores = append(res.Scores, ir.AgentScore{
			Agent:    s.AgentKind,
			Score:    score,
			Vote:     vote,
			SourceID: s.SourceID,
		})
	}

	res.Direction, res.DirectionAgreement = r.direction(bullish, bearish)

	avg := divRound(sum, int64(len(reps)))
	mult := ir.Hundredths(r.MultiplierFor(res.AgentCount, res.DirectionAgreement))
	res.AvgScore = float64(avg) / 100
	res.Multiplier = float64(mult) / 100
	res.ConvergenceScore = float64(divRound(avg*mult, 100)) / 100
	return res, true
}

// direction combines the votes. Conflicting votes are mixed; no votes are
// neutral; otherwise the shared direction, agreeing only when enough
// agents actually voted for it.
func (r *Rules) direction(bullish, bearish int) (ir.Direction, bool) {
	switch {
	case bullish > 0 && bearish > 0:
		return ir.DirectionMixed, false
	case bullish > 0:
		return ir.DirectionBullish, bullish >= r.minAgreeingVotes
	case bearish > 0:
		return ir.DirectionBearish, bearish >= r.minAgreeingVotes
	default:
		return ir.DirectionNeutral, false
	}
}

// representatives keeps one signal per configured agent, ordered by the
// configured agent order.
func (r *Rules) representatives(obs []ir.Signal) []ir.Signal {
	best := make(map[ir.AgentKind]ir.Signal, len(r.agents))
	for _, s := range obs {
		i, ok := r.order[s.AgentKind]
		if !ok {
			continue
		}
		cur, seen := best[s.AgentKind]
		if !seen || r.agents[i].prefer(s, cur) {
			best[s.AgentKind] = s
		}
	}

	reps := make([]ir.Signal, 0, len(best))
	for _, a := range r.agents {
		if s, ok := best[a.Kind]; ok {
			reps = append(reps, s)
		}
	}
	return reps
}

// prefer reports whether candidate should replace current as the agent's
// representative. The ordering is total, so the choice does not depend on
// the order signals arrive in.
func (a AgentRule) prefer(candidate, current ir.Signal) bool {
	if a.Representative == config.RepresentativeStrongest {
		cs, ks := ir.Hundredths(a.Normalize(candidate)), ir.Hundredths(a.Normalize(current))
		if cs != ks {
			return cs > ks
		}
		// Ladder grades are coarse; the raw value (e.g. USD amount)
		// ranks signals within one grade.
		if a.Scale == config.ScaleLadder && candidate.RawScore != current.RawScore {
			return candidate.RawScore > current.RawScore
		}
	}
	if !candidate.ObservedAt.Equal(current.ObservedAt) {
		return candidate.ObservedAt.Before(current.ObservedAt)
	}
	return strings.Compare(candidate.SourceID, current.SourceID) < 0
}

// divRound divides non-negative a by positive b, rounding half up.
func divRound(a, b int64) int64 {
	return (a + b/2) / b
}

// SortedTokens returns the keys of an overlap map in lexical order.
func SortedTokens(overlaps map[string][]ir.Signal) []string {
	tokens := make([]string, 0, len(overlaps))
	for t := range overlaps {
		tokens = append(tokens, t)
	}
	slices.Sort(tokens)
	return tokens
}
