package ir

import (
	"math"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// AgentKind identifies an upstream signal producer.
type AgentKind string

// Agent kinds shipped with the default configuration. Any other kind may be
// configured; nothing in the engine switches on these values.
const (
	AgentTipster   AgentKind = "tipster"
	AgentWhale     AgentKind = "whale"
	AgentNarrative AgentKind = "narrative"
)

// Direction is a directional vote or the synthesized direction of a result.
type Direction string

const (
	DirectionBullish Direction = "bullish"
	DirectionBearish Direction = "bearish"
	DirectionNeutral Direction = "neutral"
	// DirectionMixed only appears on results, never as a single vote.
	DirectionMixed Direction = "mixed"
)

// Signal is a single timestamped, token-tagged observation produced by one
// agent. Signals are owned by the collector agents; the engine only reads them.
type Signal struct {
	AgentKind   AgentKind `json:"agent_kind" yaml:"agent_kind"`
	TokenSymbol string    `json:"token_symbol" yaml:"token_symbol"`

	// RawScore is agent-native: a confidence fraction, a sentiment in
	// [-1, 1], or a percentage, depending on the agent's configured scale.
	RawScore float64 `json:"raw_score" yaml:"raw_score"`

	// Grade is a ladder bucket label (e.g. "high") for ladder-scaled agents.
	Grade string `json:"grade,omitempty" yaml:"grade,omitempty"`

	// SignalType is the domain label the direction vote is derived from
	// (e.g. "BUY", "swap").
	SignalType string `json:"signal_type,omitempty" yaml:"signal_type,omitempty"`

	// Direction, when set by the collector, overrides derivation.
	Direction Direction `json:"direction,omitempty" yaml:"direction,omitempty"`

	ObservedAt time.Time `json:"observed_at" yaml:"observed_at"`

	// SourceID points back at the originating record. Never dereferenced.
	SourceID string `json:"source_id" yaml:"source_id"`
}

// NormalizeToken folds a token symbol to its canonical form: NFKC,
// surrounding quotes and whitespace trimmed, upper case.
func NormalizeToken(symbol string) string {
	s := norm.NFKC.String(symbol)
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	return strings.ToUpper(strings.TrimSpace(s))
}

// AgentScore is one agent's normalized contribution to a result.
type AgentScore struct {
	Agent    AgentKind `json:"agent"`
	Score    float64   `json:"score"`
	Vote     Direction `json:"vote"`
	SourceID string    `json:"source_id"`
}

// ConvergenceResult is the synthesized record of two or more agents flagging
// the same token inside one window. Identity is (TokenSymbol, WindowStart).
type ConvergenceResult struct {
	ID          int64     `json:"id"`
	TokenSymbol string    `json:"token_symbol"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`

	// AgentsInvolved is ordered by the configured agent order.
	AgentsInvolved []AgentKind `json:"agents_involved"`
	AgentCount     int         `json:"agent_count"`

	// Scores is parallel to AgentsInvolved.
	Scores []AgentScore `json:"scores"`

	AvgScore           float64   `json:"avg_score"`
	Multiplier         float64   `json:"multiplier"`
	ConvergenceScore   float64   `json:"convergence_score"`
	Direction          Direction `json:"direction"`
	DirectionAgreement bool      `json:"direction_agreement"`

	// ContentHash is computed when the result is recorded.
	ContentHash string `json:"content_hash"`

	// ProofHash and ProofTxRef stay empty until the result is published.
	ProofHash  string `json:"proof_hash,omitempty"`
	ProofTxRef string `json:"proof_tx_ref,omitempty"`

	RunID      string    `json:"run_id"`
	DetectedAt time.Time `json:"detected_at"`
}

// Involves reports whether kind contributed to r.
func (r ConvergenceResult) Involves(kind AgentKind) bool {
	return slices.Contains(r.AgentsInvolved, kind)
}

// RawScore returns kind's normalized score, or false if kind is absent.
func (r ConvergenceResult) RawScore(kind AgentKind) (float64, bool) {
	for _, s := range r.Scores {
		if s.Agent == kind {
			return s.Score, true
		}
	}
	return 0, false
}

// Identity returns the idempotency key of r.
func (r ConvergenceResult) Identity() IdentityKey {
	return ConvergenceIdentity(r.TokenSymbol, r.WindowStart)
}

// Payload is the canonical, float-free representation of r that is hashed
// and committed. DetectedAt and RunID are excluded: they describe when the
// engine noticed the overlap, not the overlap itself.
func (r ConvergenceResult) Payload() IRObject {
	agents := make(IRArray, len(r.AgentsInvolved))
	for i, a := range r.AgentsInvolved {
		agents[i] = IRString(a)
	}
	scores := make(IRObject, len(r.Scores))
	sources := make(IRObject, len(r.Scores))
	for _, s := range r.Scores {
		scores[string(s.Agent)] = IRInt(Hundredths(s.Score))
		sources[string(s.Agent)] = IRString(s.SourceID)
	}

	return IRObject{
		"v":                 IRString(PayloadVersion),
		"token":             IRString(r.TokenSymbol),
		"window_start":      IRTime(r.WindowStart),
		"window_end":        IRTime(r.WindowEnd),
		"agents":            agents,
		"agent_count":       IRInt(r.AgentCount),
		"scores":            scores,
		"sources":           sources,
		"avg_score":         IRInt(Hundredths(r.AvgScore)),
		"multiplier":        IRInt(Hundredths(r.Multiplier)),
		"convergence_score": IRInt(Hundredths(r.ConvergenceScore)),
		"direction":         IRString(r.Direction),
		"agreement":         IRBool(r.DirectionAgreement),
	}
}

// Hundredths converts a score to fixed-point with two decimals,
// rounding half away from zero.
func Hundredths(f float64) int64 {
	return int64(math.Round(f * 100))
}

// AgentReport is an agent's periodic self-assessment, read by the claim job.
type AgentReport struct {
	ReportID  string    `json:"report_id" yaml:"report_id"`
	AgentKind AgentKind `json:"agent_kind" yaml:"agent_kind"`

	// Period labels the reporting cadence ("daily", "weekly").
	Period string `json:"period" yaml:"period"`

	// Text is the human-readable report. When Score is nil the score is
	// taken from its trailing "Score: N/100" line.
	Text string `json:"text" yaml:"text"`

	// Score is the structured 0-100 score, if the generator attached one.
	Score *int `json:"score,omitempty" yaml:"score,omitempty"`

	// TopToken is the token the boost lookup is made for. Empty means no
	// boost is looked up.
	TopToken string `json:"top_token,omitempty" yaml:"top_token,omitempty"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// PublishedClaim is one agent's periodic score as committed to the ledger.
// ProofTxRef is set at most once per ReportID.
type PublishedClaim struct {
	ReportID      string    `json:"report_id"`
	AgentKind     AgentKind `json:"agent_kind"`
	Score         int64     `json:"score"`
	ScoreDecimals int       `json:"score_decimals"`
	Boost         float64   `json:"boost"`
	ContentHash   string    `json:"content_hash"`
	ProofTxRef    string    `json:"proof_tx_ref,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
