package convergence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/convergence/internal/ir"
	"github.com/roach88/convergence/internal/store"
)

// Publisher commits an artifact to the ledger at most once.
// Implemented by proof.Publisher.
type Publisher interface {
	Publish(ctx context.Context, a ir.Artifact) (ir.ProofRef, error)
}

// PublishPolicy decides which results are published and how they are
// labelled on the ledger.
type PublishPolicy struct {
	// MinAgents is the smallest agent count that is published.
	MinAgents int

	// Tag is tag1 on the ledger claim.
	Tag string

	// URIScheme prefixes the claim uri: <scheme>://signal/<id>.
	URIScheme string

	// BacklogLimit caps how many unpublished results one tick retries.
	BacklogLimit int
}

// Recorder persists results once per (token, window_start) and publishes
// the top tier.
type Recorder struct {
	store     *store.Store
	publisher Publisher
	policy    PublishPolicy
	timeout   time.Duration
	logger    *slog.Logger
}

// NewRecorder creates a Recorder. publisher may be nil, in which case
// results are recorded but never published.
func NewRecorder(st *store.Store, publisher Publisher, policy PublishPolicy, storeTimeout time.Duration) *Recorder {
	if storeTimeout <= 0 {
		storeTimeout = 10 * time.Second
	}
	return &Recorder{
		store:     st,
		publisher: publisher,
		policy:    policy,
		timeout:   storeTimeout,
		logger:    slog.Default().With("component", "recorder"),
	}
}

// Record hashes res and inserts it. A result already recorded for the same
// token and window is not an error: Record returns the stored row with
// isNew false.
func (r *Recorder) Record(ctx context.Context, res ir.ConvergenceResult) (ir.ConvergenceResult, bool, error) {
	hash, _, err := ir.HashPayload(ir.DomainConvergence, res.Payload())
	if err != nil {
		resultsRecorded.WithLabelValues("error").Inc()
		return ir.ConvergenceResult{}, false, fmt.Errorf("record %s: %w", res.TokenSymbol, err)
	}
	res.ContentHash = hash.String()

	sctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	stored, isNew, err := r.store.RecordConvergence(sctx, res)
	if err != nil {
		resultsRecorded.WithLabelValues("error").Inc()
		return ir.ConvergenceResult{}, false, fmt.Errorf("record %s: %w", res.TokenSymbol, err)
	}
	if isNew {
		resultsRecorded.WithLabelValues("new").Inc()
	} else {
		resultsRecorded.WithLabelValues("duplicate").Inc()
	}
	return stored, isNew, nil
}

// Publishable reports whether res qualifies for ledger publication.
func (r *Recorder) Publishable(res ir.ConvergenceResult) bool {
	return r.publisher != nil && res.AgentCount >= r.policy.MinAgents && res.ProofTxRef == ""
}

// Artifact builds the ledger artifact for a recorded result. The score is
// the convergence score in hundredths; tag2 names the agent count.
func (r *Recorder) Artifact(res ir.ConvergenceResult) ir.Artifact {
	return ir.Artifact{
		Identity:      res.Identity(),
		Domain:        ir.DomainConvergence,
		Payload:       res.Payload(),
		Score:         ir.Hundredths(res.ConvergenceScore),
		ScoreDecimals: 2,
		Tag1:          r.policy.Tag,
		Tag2:          fmt.Sprintf("%d-agent", res.AgentCount),
		URI:           fmt.Sprintf("%s://signal/%d", r.policy.URIScheme, res.ID),
		ExpectedHash:  res.ContentHash,
	}
}

// Publish commits res to the ledger. Results already published return
// their existing reference without a ledger call.
func (r *Recorder) Publish(ctx context.Context, res ir.ConvergenceResult) (ir.ProofRef, error) {
	if r.publisher == nil {
		return ir.ProofRef{}, errors.New("publish: no publisher configured")
	}
	ref, err := r.publisher.Publish(ctx, r.Artifact(res))
	switch {
	case err != nil:
		publishOutcomes.WithLabelValues("error").Inc()
		return ir.ProofRef{}, fmt.Errorf("publish %s: %w", res.Identity(), err)
	case ref.Existing:
		publishOutcomes.WithLabelValues("existing").Inc()
	default:
		publishOutcomes.WithLabelValues("published").Inc()
	}
	return ref, nil
}

// PublishBacklog retries publication of recorded results that qualify but
// have no proof reference, oldest first. Each failure is logged and the
// rest are still attempted. Returns how many were published.
func (r *Recorder) PublishBacklog(ctx context.Context) (int, error) {
	if r.publisher == nil {
		return 0, nil
	}

	sctx, cancel := context.WithTimeout(ctx, r.timeout)
	pending, err := r.store.UnpublishedConvergences(sctx, r.policy.MinAgents, max(r.policy.BacklogLimit, 1))
	cancel()
	if err != nil {
		return 0, fmt.Errorf("publish backlog: %w", err)
	}

	var published int
	var errs []error
	for _, res := range pending {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		ref, err := r.Publish(ctx, res)
		if err != nil {
			r.logger.Error("backlog publish failed", "identity", res.Identity().String(), "error", err)
			errs = append(errs, err)
			continue
		}
		published++
		r.logger.Info("backlog result published",
			"identity", res.Identity().String(), "tx_ref", ref.TxRef, "existing", ref.Existing)
	}
	return published, errors.Join(errs...)
}
