package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/convergence/internal/ir"
)

// ProofGuard is the publication state of one artifact identity.
type ProofGuard struct {
	Identity    ir.IdentityKey
	ContentHash string
	ProofTxRef  string
	LeaseHolder string
	LeaseUntil  time.Time
	PublishedAt time.Time
}

// Published reports whether a ledger reference has been recorded.
func (g ProofGuard) Published() bool {
	return g.ProofTxRef != ""
}

// LookupProof returns the guard for key. found is false if no publish was
// ever attempted for it.
func (s *Store) LookupProof(ctx context.Context, key ir.IdentityKey) (g ProofGuard, found bool, err error) {
	g, err = scanGuard(s.db.QueryRowContext(ctx, `
		SELECT identity, content_hash, proof_tx_ref, lease_holder, lease_until, published_at
		FROM proof_guards
		WHERE identity = ?
	`, key.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return ProofGuard{}, false, nil
	}
	if err != nil {
		return ProofGuard{}, false, fmt.Errorf("lookup proof %s: %w", key, err)
	}
	return g, true, nil
}

// AcquirePublishLease claims the right to submit key to the ledger until
// now+ttl.
//
// The claim is a compare-and-set: it succeeds only if no reference is
// recorded and no other holder has an unexpired lease. When it fails, the
// returned guard tells the caller why (Published() for a committed
// reference, otherwise another holder is mid-publish).
func (s *Store) AcquirePublishLease(ctx context.Context, key ir.IdentityKey, contentHash, holder string, now time.Time, ttl time.Duration) (acquired bool, g ProofGuard, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, ProofGuard{}, fmt.Errorf("acquire lease %s: begin tx: %w", key, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO proof_guards (identity, content_hash)
		VALUES (?, ?)
		ON CONFLICT(identity) DO NOTHING
	`, key.String(), contentHash)
	if err != nil {
		return false, ProofGuard{}, fmt.Errorf("acquire lease %s: insert guard: %w", key, err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE proof_guards
		SET lease_holder = ?, lease_until = ?, content_hash = ?
		WHERE identity = ?
		  AND proof_tx_ref IS NULL
		  AND (lease_holder IS NULL OR lease_until IS NULL OR lease_until <= ?)
	`, holder, toMillis(now.Add(ttl)), contentHash, key.String(), toMillis(now))
	if err != nil {
		return false, ProofGuard{}, fmt.Errorf("acquire lease %s: update: %w", key, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, ProofGuard{}, fmt.Errorf("acquire lease %s: rows affected: %w", key, err)
	}

	g, err = scanGuard(tx.QueryRowContext(ctx, `
		SELECT identity, content_hash, proof_tx_ref, lease_holder, lease_until, published_at
		FROM proof_guards
		WHERE identity = ?
	`, key.String()))
	if err != nil {
		return false, ProofGuard{}, fmt.Errorf("acquire lease %s: select guard: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return false, ProofGuard{}, fmt.Errorf("acquire lease %s: commit: %w", key, err)
	}
	return rowsAffected > 0, g, nil
}

// ReleasePublishLease drops holder's lease on key after a definite ledger
// failure so the next attempt does not wait for expiry. A lease that has
// since passed to another holder is left alone.
func (s *Store) ReleasePublishLease(ctx context.Context, key ir.IdentityKey, holder string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE proof_guards
		SET lease_holder = NULL, lease_until = NULL
		WHERE identity = ? AND lease_holder = ? AND proof_tx_ref IS NULL
	`, key.String(), holder)
	if err != nil {
		return fmt.Errorf("release lease %s: %w", key, err)
	}
	return nil
}

// CommitProof records txRef as the ledger reference of key, together with
// the content hash that was submitted.
//
// The guard row and the artifact row (convergence_results or
// published_claims) are updated in one transaction, each only while its
// proof_tx_ref is NULL. If a reference was already committed, the existing
// guard is returned with committed=false and nothing changes.
func (s *Store) CommitProof(ctx context.Context, key ir.IdentityKey, txRef, contentHash string, now time.Time) (g ProofGuard, committed bool, err error) {
	if txRef == "" {
		return ProofGuard{}, false, fmt.Errorf("commit proof %s: empty tx ref", key)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ProofGuard{}, false, fmt.Errorf("commit proof %s: begin tx: %w", key, err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO proof_guards (identity, content_hash, proof_tx_ref, published_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			content_hash = excluded.content_hash,
			proof_tx_ref = excluded.proof_tx_ref,
			published_at = excluded.published_at,
			lease_holder = NULL,
			lease_until = NULL
		WHERE proof_guards.proof_tx_ref IS NULL
	`, key.String(), contentHash, txRef, toMillis(now))
	if err != nil {
		return ProofGuard{}, false, fmt.Errorf("commit proof %s: update guard: %w", key, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return ProofGuard{}, false, fmt.Errorf("commit proof %s: rows affected: %w", key, err)
	}
	committed = rowsAffected > 0

	if committed {
		if err := attachProof(ctx, tx, key, txRef, contentHash); err != nil {
			return ProofGuard{}, false, fmt.Errorf("commit proof %s: %w", key, err)
		}
	}

	g, err = scanGuard(tx.QueryRowContext(ctx, `
		SELECT identity, content_hash, proof_tx_ref, lease_holder, lease_until, published_at
		FROM proof_guards
		WHERE identity = ?
	`, key.String()))
	if err != nil {
		return ProofGuard{}, false, fmt.Errorf("commit proof %s: select guard: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return ProofGuard{}, false, fmt.Errorf("commit proof %s: commit: %w", key, err)
	}
	return g, committed, nil
}

// attachProof copies the reference onto the artifact's own row.
func attachProof(ctx context.Context, tx *sql.Tx, key ir.IdentityKey, txRef, contentHash string) error {
	switch key.Kind {
	case ir.ArtifactConvergence:
		token, windowStart, ok := key.ConvergenceParts()
		if !ok {
			return fmt.Errorf("malformed convergence identity %q", key.Value)
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE convergence_results
			SET proof_tx_ref = ?, proof_hash = ?
			WHERE token_symbol = ? AND window_start = ? AND proof_tx_ref IS NULL
		`, txRef, contentHash, token, toMillis(windowStart))
		if err != nil {
			return fmt.Errorf("attach to convergence result: %w", err)
		}
	case ir.ArtifactClaim:
		_, err := tx.ExecContext(ctx, `
			UPDATE published_claims
			SET proof_tx_ref = ?
			WHERE report_id = ? AND proof_tx_ref IS NULL
		`, txRef, key.Value)
		if err != nil {
			return fmt.Errorf("attach to claim: %w", err)
		}
	default:
		return fmt.Errorf("unknown artifact kind %q", key.Kind)
	}
	return nil
}

func scanGuard(row rowScanner) (ProofGuard, error) {
	var (
		g                       ProofGuard
		identity                string
		txRef, holder           sql.NullString
		leaseUntil, publishedAt sql.NullInt64
	)
	if err := row.Scan(&identity, &g.ContentHash, &txRef, &holder, &leaseUntil, &publishedAt); err != nil {
		return ProofGuard{}, err
	}
	key, ok := ir.ParseIdentityKey(identity)
	if !ok {
		return ProofGuard{}, fmt.Errorf("malformed identity %q", identity)
	}
	g.Identity = key
	g.ProofTxRef = txRef.String
	g.LeaseHolder = holder.String
	if leaseUntil.Valid {
		g.LeaseUntil = fromMillis(leaseUntil.Int64)
	}
	if publishedAt.Valid {
		g.PublishedAt = fromMillis(publishedAt.Int64)
	}
	return g, nil
}
