package proof

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/convergence/internal/engine"
	"github.com/roach88/convergence/internal/ir"
	"github.com/roach88/convergence/internal/store"
)

// BoostLookup is the boost oracle as seen by an agent's claim job.
// Implemented by convergence.BoostOracle.
type BoostLookup interface {
	LookupBoost(ctx context.Context, kind ir.AgentKind, token string, asOf time.Time) (float64, error)
}

// ReportSource lists an agent's reports that still need a ledger claim.
// Implemented by store.Store and pgsource.Source.
type ReportSource interface {
	PendingReports(ctx context.Context, kind ir.AgentKind, limit int) ([]ir.AgentReport, error)
}

// ClaimPublisher publishes one agent's periodic reports as boosted claims.
type ClaimPublisher struct {
	kind      ir.AgentKind
	publisher *Publisher
	boosts    BoostLookup
	store     *store.Store
	clock     engine.Clock
	timeout   time.Duration
	logger    *slog.Logger
}

// NewClaimPublisher creates the claim publisher for kind. boosts may be nil,
// in which case claims are never boosted.
func NewClaimPublisher(kind ir.AgentKind, publisher *Publisher, boosts BoostLookup, st *store.Store, clock engine.Clock) *ClaimPublisher {
	if clock == nil {
		clock = engine.SystemClock{}
	}
	return &ClaimPublisher{
		kind:      kind,
		publisher: publisher,
		boosts:    boosts,
		store:     st,
		clock:     clock,
		timeout:   publisher.storeTimeout,
		logger:    slog.Default().With("component", "claims", "agent", string(kind)),
	}
}

// PublishReport publishes r as a claim.
//
// The first attempt fixes the claim: score, boost and content hash are
// stored in published_claims before the ledger call, and every retry
// publishes exactly that stored claim. A report whose claim already has a
// reference returns it without a ledger call.
func (c *ClaimPublisher) PublishReport(ctx context.Context, r ir.AgentReport) (ir.PublishedClaim, error) {
	if r.ReportID == "" {
		return ir.PublishedClaim{}, fmt.Errorf("publish report: empty report id")
	}
	if r.AgentKind != "" && r.AgentKind != c.kind {
		return ir.PublishedClaim{}, fmt.Errorf("publish report %s: agent %s, publisher is for %s", r.ReportID, r.AgentKind, c.kind)
	}

	claim, err := c.prepare(ctx, r)
	if err != nil {
		return ir.PublishedClaim{}, err
	}
	if claim.ProofTxRef != "" {
		return claim, nil
	}

	ref, err := c.publisher.Publish(ctx, c.artifact(r, claim))
	if err != nil {
		return claim, err
	}
	claim.ProofTxRef = ref.TxRef
	c.logger.Info("claim published",
		"report_id", claim.ReportID,
		"score", claim.Score,
		"boost", claim.Boost,
		"tx_ref", ref.TxRef,
		"existing", ref.Existing)
	return claim, nil
}

// prepare returns the stored claim for r, creating it on first sight.
func (c *ClaimPublisher) prepare(ctx context.Context, r ir.AgentReport) (ir.PublishedClaim, error) {
	existing, found, err := c.readClaim(ctx, r.ReportID)
	if err != nil {
		return ir.PublishedClaim{}, err
	}
	if found {
		return existing, nil
	}

	score, err := ReportScore(r)
	if err != nil {
		return ir.PublishedClaim{}, fmt.Errorf("publish report %s: %w", r.ReportID, err)
	}
	boost := c.lookupBoost(ctx, r)

	claim := ir.PublishedClaim{
		ReportID:      r.ReportID,
		AgentKind:     c.kind,
		Score:         int64(score) * ir.Hundredths(boost),
		ScoreDecimals: 2,
		Boost:         boost,
		CreatedAt:     c.clock.Now(),
	}
	hash, _, err := ir.HashPayload(ir.DomainClaim, claimPayload(r, claim))
	if err != nil {
		return ir.PublishedClaim{}, fmt.Errorf("publish report %s: %w", r.ReportID, err)
	}
	claim.ContentHash = hash.String()

	sctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	stored, _, err := c.store.RecordClaim(sctx, claim)
	if err != nil {
		return ir.PublishedClaim{}, fmt.Errorf("publish report %s: %w", r.ReportID, err)
	}
	return stored, nil
}

func (c *ClaimPublisher) readClaim(ctx context.Context, reportID string) (ir.PublishedClaim, bool, error) {
	sctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	claim, found, err := c.store.ReadClaim(sctx, reportID)
	if err != nil {
		return ir.PublishedClaim{}, false, fmt.Errorf("publish report %s: %w", reportID, err)
	}
	return claim, found, nil
}

// lookupBoost asks the oracle about the report's top token. Any failure
// means no boost: an unboosted claim is always valid.
func (c *ClaimPublisher) lookupBoost(ctx context.Context, r ir.AgentReport) float64 {
	if c.boosts == nil {
		return 1.0
	}
	token := ReportTopToken(r)
	if token == "" {
		return 1.0
	}
	boost, err := c.boosts.LookupBoost(ctx, c.kind, token, c.clock.Now())
	if err != nil {
		c.logger.Warn("boost lookup failed, publishing unboosted", "report_id", r.ReportID, "token", token, "error", err)
		return 1.0
	}
	if boost > 1.0 {
		c.logger.Info("convergence boost applied", "report_id", r.ReportID, "token", token, "boost", boost)
	}
	return boost
}

func (c *ClaimPublisher) artifact(r ir.AgentReport, claim ir.PublishedClaim) ir.Artifact {
	return ir.Artifact{
		Identity:      ir.ClaimIdentity(claim.ReportID),
		Domain:        ir.DomainClaim,
		Payload:       claimPayload(r, claim),
		Score:         claim.Score,
		ScoreDecimals: claim.ScoreDecimals,
		Tag1:          string(c.kind),
		Tag2:          claimTag(r.Period, claim.Boost),
		URI:           fmt.Sprintf("%s://report/%s", c.kind, claim.ReportID),
		ExpectedHash:  claim.ContentHash,
	}
}

// claimPayload is the canonical form of a claim. The report text enters
// only through its hash.
func claimPayload(r ir.AgentReport, claim ir.PublishedClaim) ir.IRObject {
	return ir.IRObject{
		"v":           ir.IRString(ir.PayloadVersion),
		"report_id":   ir.IRString(claim.ReportID),
		"agent":       ir.IRString(claim.AgentKind),
		"period":      ir.IRString(r.Period),
		"score":       ir.IRInt(claim.Score),
		"decimals":    ir.IRInt(claim.ScoreDecimals),
		"boost":       ir.IRInt(ir.Hundredths(claim.Boost)),
		"report_hash": ir.IRString(ir.HashText(r.Text).String()),
	}
}

// claimTag is tag2: the period, with the boost appended when one applied,
// e.g. "daily" or "daily-conv-1.7x".
func claimTag(period string, boost float64) string {
	if period == "" {
		period = "report"
	}
	if ir.Hundredths(boost) <= 100 {
		return period
	}
	return fmt.Sprintf("%s-conv-%.1fx", period, boost)
}

// PublishPending publishes up to limit pending reports from src, oldest
// first. Failures are logged per report and the rest are still attempted;
// a report that failed stays pending and is retried on the next run.
// Returns how many were published.
func (c *ClaimPublisher) PublishPending(ctx context.Context, src ReportSource, limit int) (int, error) {
	sctx, cancel := context.WithTimeout(ctx, c.timeout)
	reports, err := src.PendingReports(sctx, c.kind, limit)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("pending reports %s: %w", c.kind, err)
	}

	var published int
	var errs []error
	for _, r := range reports {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if r.AgentKind == "" {
			r.AgentKind = c.kind
		}
		if _, err := c.PublishReport(ctx, r); err != nil {
			c.logger.Error("claim publish failed", "report_id", r.ReportID, "error", err)
			errs = append(errs, err)
			continue
		}
		published++
	}
	return published, errors.Join(errs...)
}
