package ledger

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/convergence/internal/ir"
)

// DryRun logs claims instead of submitting them. Its references are
// derived from the content hash, so the same claim always gets the same
// reference.
type DryRun struct {
	logger *slog.Logger

	mu     sync.Mutex
	landed map[ir.ContentHash]string
}

// NewDryRun creates a dry-run client.
func NewDryRun(logger *slog.Logger) *DryRun {
	if logger == nil {
		logger = slog.Default()
	}
	return &DryRun{
		logger: logger.With("component", "ledger", "mode", "dry-run"),
		landed: make(map[ir.ContentHash]string),
	}
}

// SubmitClaim logs c and returns "dryrun-<first 16 hex chars of hash>".
func (d *DryRun) SubmitClaim(ctx context.Context, c Claim) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref := "dryrun-" + c.Hash.String()[:16]

	d.mu.Lock()
	d.landed[c.Hash] = ref
	d.mu.Unlock()

	d.logger.Info("claim not submitted",
		"identity", c.Identity,
		"agent_id", c.AgentID,
		"score", c.Score,
		"decimals", c.ScoreDecimals,
		"tag1", c.Tag1,
		"tag2", c.Tag2,
		"uri", c.URI,
		"hash", c.Hash.String(),
		"tx_ref", ref)
	return ref, nil
}

// FindClaim returns claims this process dry-ran.
func (d *DryRun) FindClaim(ctx context.Context, hash ir.ContentHash) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ref, ok := d.landed[hash]
	return ref, ok, nil
}
