package proof

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/convergence/internal/engine"
	"github.com/roach88/convergence/internal/ir"
	"github.com/roach88/convergence/internal/ledger"
	"github.com/roach88/convergence/internal/store"
)

var tracer = otel.Tracer("convergence.proof")

// Publisher commits artifacts to the ledger under one ledger identity.
//
// Thread-safety: Publish is safe for concurrent use. All coordination goes
// through the store.
type Publisher struct {
	store   *store.Store
	client  ledger.Client
	agentID int64

	clock         engine.Clock
	holders       engine.RunIDGenerator
	leaseTTL      time.Duration
	storeTimeout  time.Duration
	ledgerTimeout time.Duration
	logger        *slog.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithClock sets the clock leases are timed with.
func WithClock(c engine.Clock) Option {
	return func(p *Publisher) {
		p.clock = c
	}
}

// WithHolderIDs sets the generator for lease holder ids.
func WithHolderIDs(g engine.RunIDGenerator) Option {
	return func(p *Publisher) {
		p.holders = g
	}
}

// WithLeaseTTL sets how long an identity stays leased. It must exceed the
// ledger timeout. Default: 5m.
func WithLeaseTTL(d time.Duration) Option {
	return func(p *Publisher) {
		p.leaseTTL = d
	}
}

// WithTimeouts sets the per-call store and ledger timeouts.
// Default: 10s and 60s.
func WithTimeouts(storeTimeout, ledgerTimeout time.Duration) Option {
	return func(p *Publisher) {
		p.storeTimeout = storeTimeout
		p.ledgerTimeout = ledgerTimeout
	}
}

// WithLogger sets the publisher's logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = l
	}
}

// New creates a Publisher that claims under agentID.
func New(st *store.Store, client ledger.Client, agentID int64, opts ...Option) *Publisher {
	p := &Publisher{
		store:         st,
		client:        client,
		agentID:       agentID,
		clock:         engine.SystemClock{},
		holders:       engine.UUIDv7Generator{},
		leaseTTL:      5 * time.Minute,
		storeTimeout:  10 * time.Second,
		ledgerTimeout: 60 * time.Second,
		logger:        slog.Default().With("component", "publisher"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AgentID is the ledger identity this publisher claims under.
func (p *Publisher) AgentID() int64 {
	return p.agentID
}

// Publish commits a to the ledger unless its identity already has a
// reference, in which case that reference is returned with Existing set
// and no ledger call is made.
//
// Errors:
//   - *HashMismatchError: the payload no longer hashes to ExpectedHash
//   - ErrPublishInProgress: another publisher holds the identity
//   - ErrOutcomeUnknown: the ledger call timed out or was cancelled in flight
//   - anything else: a store or ledger failure; nothing was recorded
func (p *Publisher) Publish(ctx context.Context, a ir.Artifact) (ref ir.ProofRef, err error) {
	key := a.Identity
	ctx, span := tracer.Start(ctx, "Publisher.Publish",
		trace.WithAttributes(attribute.String("proof.identity", key.String())),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "publish failed")
		}
		span.SetAttributes(attribute.Bool("proof.existing", ref.Existing))
		span.End()
	}()

	g, found, err := p.lookup(ctx, key)
	if err != nil {
		return ir.ProofRef{}, err
	}
	if found && g.Published() {
		return existingRef(g)
	}

	hash, canonical, err := ir.HashPayload(a.Domain, a.Payload)
	if err != nil {
		return ir.ProofRef{}, fmt.Errorf("publish %s: %w", key, err)
	}
	if a.ExpectedHash != "" && a.ExpectedHash != hash.String() {
		mismatch := &HashMismatchError{
			Identity:  key.String(),
			Expected:  a.ExpectedHash,
			Actual:    hash.String(),
			Canonical: canonical,
		}
		p.logger.Error("content hash mismatch, artifact not published",
			"identity", key.String(),
			"expected", a.ExpectedHash,
			"actual", hash.String(),
			"payload", string(canonical))
		return ir.ProofRef{}, mismatch
	}

	holder := p.holders.Generate()
	acquired, g, err := p.acquire(ctx, key, hash, holder)
	if err != nil {
		return ir.ProofRef{}, err
	}
	if !acquired {
		if g.Published() {
			return existingRef(g)
		}
		return ir.ProofRef{}, fmt.Errorf("publish %s: %w (holder %s until %s)",
			key, ErrPublishInProgress, g.LeaseHolder, g.LeaseUntil.Format(time.RFC3339))
	}

	if finder, ok := p.client.(ledger.Finder); ok {
		txRef, landed, err := p.find(ctx, finder, hash)
		if err != nil {
			p.release(ctx, key, holder)
			return ir.ProofRef{}, fmt.Errorf("publish %s: %w", key, err)
		}
		if landed {
			p.logger.Info("claim already on ledger, adopting reference", "identity", key.String(), "tx_ref", txRef)
			adopted, err := p.commit(ctx, key, txRef, hash)
			if err != nil {
				return ir.ProofRef{}, err
			}
			adopted.Existing = true
			return adopted, nil
		}
	}

	txRef, err := p.submit(ctx, a, hash)
	if err != nil {
		if errors.Is(err, ErrOutcomeUnknown) {
			p.logger.Warn("ledger outcome unknown, lease kept",
				"identity", key.String(), "holder", holder, "error", err)
			return ir.ProofRef{}, err
		}
		p.release(ctx, key, holder)
		return ir.ProofRef{}, err
	}
	return p.commit(ctx, key, txRef, hash)
}

func (p *Publisher) lookup(ctx context.Context, key ir.IdentityKey) (store.ProofGuard, bool, error) {
	sctx, cancel := context.WithTimeout(ctx, p.storeTimeout)
	defer cancel()
	g, found, err := p.store.LookupProof(sctx, key)
	if err != nil {
		return store.ProofGuard{}, false, fmt.Errorf("publish %s: %w", key, err)
	}
	return g, found, nil
}

func (p *Publisher) acquire(ctx context.Context, key ir.IdentityKey, hash ir.ContentHash, holder string) (bool, store.ProofGuard, error) {
	sctx, cancel := context.WithTimeout(ctx, p.storeTimeout)
	defer cancel()
	acquired, g, err := p.store.AcquirePublishLease(sctx, key, hash.String(), holder, p.clock.Now(), p.leaseTTL)
	if err != nil {
		return false, store.ProofGuard{}, fmt.Errorf("publish %s: %w", key, err)
	}
	return acquired, g, nil
}

func (p *Publisher) find(ctx context.Context, finder ledger.Finder, hash ir.ContentHash) (string, bool, error) {
	lctx, cancel := context.WithTimeout(ctx, p.ledgerTimeout)
	defer cancel()
	txRef, found, err := finder.FindClaim(lctx, hash)
	if err != nil {
		return "", false, fmt.Errorf("ledger lookup: %w", err)
	}
	return txRef, found, nil
}

func (p *Publisher) submit(ctx context.Context, a ir.Artifact, hash ir.ContentHash) (string, error) {
	// Nothing has been sent yet, so a cancelled caller is a plain failure.
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("publish %s: submit: %w", a.Identity, err)
	}
	lctx, cancel := context.WithTimeout(ctx, p.ledgerTimeout)
	defer cancel()

	txRef, err := p.client.SubmitClaim(lctx, ledger.Claim{
		AgentID:       p.agentID,
		Identity:      a.Identity.String(),
		Score:         a.Score,
		ScoreDecimals: a.ScoreDecimals,
		Tag1:          a.Tag1,
		Tag2:          a.Tag2,
		URI:           a.URI,
		Hash:          hash,
	})
	if err != nil {
		// Timed out or cancelled mid-call: the claim may have landed.
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || lctx.Err() != nil {
			return "", fmt.Errorf("publish %s: %w: %v", a.Identity, ErrOutcomeUnknown, err)
		}
		return "", fmt.Errorf("publish %s: submit: %w", a.Identity, err)
	}
	return txRef, nil
}

func (p *Publisher) commit(ctx context.Context, key ir.IdentityKey, txRef string, hash ir.ContentHash) (ir.ProofRef, error) {
	// The claim has landed: record it even if the caller's context is
	// already cancelled.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.storeTimeout)
	defer cancel()

	g, committed, err := p.store.CommitProof(sctx, key, txRef, hash.String(), p.clock.Now())
	if err != nil {
		p.logger.Error("ledger claim landed but reference not recorded",
			"identity", key.String(), "tx_ref", txRef, "hash", hash.String(), "error", err)
		return ir.ProofRef{}, fmt.Errorf("publish %s: tx %s: %w", key, txRef, err)
	}
	if !committed {
		p.logger.Warn("reference already committed by another publisher",
			"identity", key.String(), "kept", g.ProofTxRef, "discarded", txRef)
		return existingRef(g)
	}
	return ir.ProofRef{TxRef: txRef, Hash: hash}, nil
}

func (p *Publisher) release(ctx context.Context, key ir.IdentityKey, holder string) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.storeTimeout)
	defer cancel()
	if err := p.store.ReleasePublishLease(sctx, key, holder); err != nil {
		p.logger.Warn("lease not released, it will expire", "identity", key.String(), "error", err)
	}
}

func existingRef(g store.ProofGuard) (ir.ProofRef, error) {
	hash, err := ir.ParseContentHash(g.ContentHash)
	if err != nil {
		return ir.ProofRef{}, fmt.Errorf("publish %s: stored guard: %w", g.Identity, err)
	}
	return ir.ProofRef{TxRef: g.ProofTxRef, Hash: hash, Existing: true}, nil
}
