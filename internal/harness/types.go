package harness

import (
	"github.com/roach88/convergence/internal/convergence"
	"github.com/roach88/convergence/internal/ir"
	"github.com/roach88/convergence/internal/ledger"
)

// TraceEvent is one action a scenario ran and what came of it, in
// canonical form: scores are hundredths and times are RFC 3339, so the
// trace hashes and diffs deterministically.
type TraceEvent = ir.IRObject

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace holds one event per tick or claim run, in order.
	Trace []TraceEvent `json:"trace"`

	// Ledger holds every claim that landed, in submission order.
	Ledger []ledger.Claim `json:"ledger"`

	// Errors contains assertion failures and action errors.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTickTrace appends a detector tick.
func (r *Result) AddTickTrace(step int, rep convergence.TickReport, at ir.IRString, failed bool) {
	windows := make(ir.IRArray, len(rep.Windows))
	for i, w := range rep.Windows {
		windows[i] = ir.IRTime(w.Start)
	}
	recorded := make(ir.IRArray, len(rep.Recorded))
	for i, res := range rep.Recorded {
		recorded[i] = resultEvent(res)
	}
	degraded := make(ir.IRArray, len(rep.Degraded))
	for i, k := range rep.Degraded {
		degraded[i] = ir.IRString(k)
	}

	r.Trace = append(r.Trace, TraceEvent{
		"step":       ir.IRInt(step),
		"type":       ir.IRString("tick"),
		"at":         at,
		"run_id":     ir.IRString(rep.RunID),
		"windows":    windows,
		"recorded":   recorded,
		"duplicates": ir.IRInt(rep.Duplicates),
		"published":  ir.IRInt(rep.Published),
		"degraded":   degraded,
		"failures":   ir.IRInt(rep.Failures),
		"error":      ir.IRBool(failed),
	})
}

// AddClaimsTrace appends a claim job run.
func (r *Result) AddClaimsTrace(step int, agent ir.AgentKind, at ir.IRString, published int, failed bool) {
	r.Trace = append(r.Trace, TraceEvent{
		"step":      ir.IRInt(step),
		"type":      ir.IRString("claims"),
		"at":        at,
		"agent":     ir.IRString(agent),
		"published": ir.IRInt(published),
		"error":     ir.IRBool(failed),
	})
}

func resultEvent(res ir.ConvergenceResult) ir.IRObject {
	agents := make(ir.IRArray, len(res.AgentsInvolved))
	for i, a := range res.AgentsInvolved {
		agents[i] = ir.IRString(a)
	}
	return ir.IRObject{
		"token":        ir.IRString(res.TokenSymbol),
		"window_start": ir.IRTime(res.WindowStart),
		"agents":       agents,
		"avg_score":    ir.IRInt(ir.Hundredths(res.AvgScore)),
		"multiplier":   ir.IRInt(ir.Hundredths(res.Multiplier)),
		"score":        ir.IRInt(ir.Hundredths(res.ConvergenceScore)),
		"direction":    ir.IRString(res.Direction),
		"agreement":    ir.IRBool(res.DirectionAgreement),
	}
}

func ledgerEvent(c ledger.Claim) ir.IRObject {
	return ir.IRObject{
		"agent_id": ir.IRInt(c.AgentID),
		"score":    ir.IRInt(c.Score),
		"decimals": ir.IRInt(c.ScoreDecimals),
		"tag1":     ir.IRString(c.Tag1),
		"tag2":     ir.IRString(c.Tag2),
		"uri":      ir.IRString(c.URI),
	}
}
