package ir

import (
	"strings"
	"time"
)

// ArtifactKind distinguishes the two things that get published.
type ArtifactKind string

const (
	ArtifactConvergence ArtifactKind = "convergence"
	ArtifactClaim       ArtifactKind = "claim"
)

// IdentityKey names an artifact for idempotent publication. At most one
// ledger reference is ever recorded per key.
type IdentityKey struct {
	Kind  ArtifactKind
	Value string
}

// String renders the key as stored in proof_guards.identity,
// e.g. "convergence/AVAX/2026-10-17T00:00:00Z" or "claim/tipster-42".
func (k IdentityKey) String() string {
	return string(k.Kind) + "/" + k.Value
}

// ParseIdentityKey is the inverse of IdentityKey.String.
func ParseIdentityKey(s string) (IdentityKey, bool) {
	kind, value, ok := strings.Cut(s, "/")
	if !ok || value == "" {
		return IdentityKey{}, false
	}
	switch ArtifactKind(kind) {
	case ArtifactConvergence, ArtifactClaim:
		return IdentityKey{Kind: ArtifactKind(kind), Value: value}, true
	}
	return IdentityKey{}, false
}

// ConvergenceIdentity is the key of the result for token in the window
// starting at windowStart.
func ConvergenceIdentity(token string, windowStart time.Time) IdentityKey {
	return IdentityKey{
		Kind:  ArtifactConvergence,
		Value: token + "/" + string(IRTime(windowStart)),
	}
}

// ConvergenceParts splits a convergence key back into token and window start.
func (k IdentityKey) ConvergenceParts() (token string, windowStart time.Time, ok bool) {
	if k.Kind != ArtifactConvergence {
		return "", time.Time{}, false
	}
	i := strings.LastIndex(k.Value, "/")
	if i <= 0 {
		return "", time.Time{}, false
	}
	start, err := time.Parse(time.RFC3339, k.Value[i+1:])
	if err != nil {
		return "", time.Time{}, false
	}
	return k.Value[:i], start.UTC(), true
}

// ClaimIdentity is the key of an agent's report claim.
func ClaimIdentity(reportID string) IdentityKey {
	return IdentityKey{Kind: ArtifactClaim, Value: reportID}
}

// Artifact is anything the proof publisher can commit to the ledger.
type Artifact struct {
	Identity IdentityKey

	// Domain and Payload determine the content hash.
	Domain  string
	Payload IRObject

	// Score is the integer submitted on-chain, with ScoreDecimals implied
	// decimals (score 10200 with 2 decimals is 102.00).
	Score         int64
	ScoreDecimals int

	Tag1 string
	Tag2 string
	URI  string

	// ExpectedHash, when set, must equal the recomputed content hash or
	// publication fails for this artifact.
	ExpectedHash string
}

// ProofRef is the outcome of a publish.
type ProofRef struct {
	TxRef string      `json:"tx_ref"`
	Hash  ContentHash `json:"hash"`

	// Existing is true when the reference was already recorded and no
	// ledger call was made.
	Existing bool `json:"existing"`
}
