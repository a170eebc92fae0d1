// Package ledger submits hash-committed score claims to the external
// ledger.
//
// The ledger is billed per submission and is not idempotent at the network
// layer, so nothing in this package retries. Idempotency lives one level up
// in proof.Publisher.
package ledger

import (
	"context"
	"errors"

	"github.com/roach88/convergence/internal/ir"
)

// Claim is one submission: who claims what score for which artifact.
type Claim struct {
	// AgentID is the ledger identity the claim is made under.
	AgentID int64 `json:"agent_id"`

	// Identity is the artifact's identity key, e.g. "claim/tipster-42".
	Identity string `json:"identity"`

	// Score carries ScoreDecimals implied decimals.
	Score         int64 `json:"score"`
	ScoreDecimals int   `json:"score_decimals"`

	Tag1 string `json:"tag1"`
	Tag2 string `json:"tag2"`
	URI  string `json:"uri"`

	// Hash is the bytes32 content hash of the artifact.
	Hash ir.ContentHash `json:"hash"`
}

// Client submits claims. SubmitClaim returns the transaction reference;
// an error means the outcome is failure or unknown, never partial success.
type Client interface {
	SubmitClaim(ctx context.Context, c Claim) (txRef string, err error)
}

// Finder is implemented by clients that can look a landed claim up by its
// content hash. Publishers use it to recover from submissions whose
// outcome was unknown.
type Finder interface {
	FindClaim(ctx context.Context, hash ir.ContentHash) (txRef string, found bool, err error)
}

// ErrRejected means the ledger refused the claim. Resubmitting the same
// claim will not help.
var ErrRejected = errors.New("ledger rejected claim")
