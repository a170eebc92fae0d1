package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/convergence/internal/ir"
)

// RecordClaim inserts the claim row for a report before it is submitted.
// Uses ON CONFLICT(report_id) DO NOTHING; if a claim for the report already
// exists, the existing row is returned with inserted=false.
func (s *Store) RecordClaim(ctx context.Context, c ir.PublishedClaim) (stored ir.PublishedClaim, inserted bool, err error) {
	if c.ReportID == "" {
		return ir.PublishedClaim{}, false, fmt.Errorf("record claim: empty report id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ir.PublishedClaim{}, false, fmt.Errorf("record claim: begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO published_claims
		(report_id, agent_kind, score, score_decimals, boost, content_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(report_id) DO NOTHING
	`,
		c.ReportID,
		string(c.AgentKind),
		c.Score,
		c.ScoreDecimals,
		c.Boost,
		c.ContentHash,
		toMillis(c.CreatedAt),
	)
	if err != nil {
		return ir.PublishedClaim{}, false, fmt.Errorf("record claim: insert: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return ir.PublishedClaim{}, false, fmt.Errorf("record claim: rows affected: %w", err)
	}

	stored, err = scanClaim(tx.QueryRowContext(ctx, `
		SELECT report_id, agent_kind, score, score_decimals, boost, content_hash, proof_tx_ref, created_at
		FROM published_claims
		WHERE report_id = ?
	`, c.ReportID))
	if err != nil {
		return ir.PublishedClaim{}, false, fmt.Errorf("record claim: select stored: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ir.PublishedClaim{}, false, fmt.Errorf("record claim: commit: %w", err)
	}
	return stored, rowsAffected > 0, nil
}

// ReadClaim returns the claim for reportID. found is false if none exists.
func (s *Store) ReadClaim(ctx context.Context, reportID string) (c ir.PublishedClaim, found bool, err error) {
	c, err = scanClaim(s.db.QueryRowContext(ctx, `
		SELECT report_id, agent_kind, score, score_decimals, boost, content_hash, proof_tx_ref, created_at
		FROM published_claims
		WHERE report_id = ?
	`, reportID))
	if errors.Is(err, sql.ErrNoRows) {
		return ir.PublishedClaim{}, false, nil
	}
	if err != nil {
		return ir.PublishedClaim{}, false, fmt.Errorf("read claim %s: %w", reportID, err)
	}
	return c, true, nil
}

// ListClaims returns up to limit claims for kind, newest first. An empty
// kind lists claims of every agent.
func (s *Store) ListClaims(ctx context.Context, kind ir.AgentKind, limit int) ([]ir.PublishedClaim, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT report_id, agent_kind, score, score_decimals, boost, content_hash, proof_tx_ref, created_at
		FROM published_claims
		WHERE ? = '' OR agent_kind = ?
		ORDER BY created_at DESC, report_id COLLATE BINARY ASC
		LIMIT ?
	`, string(kind), string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	defer rows.Close()

	claims := []ir.PublishedClaim{}
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claims: %w", err)
	}
	return claims, nil
}

func scanClaim(row rowScanner) (ir.PublishedClaim, error) {
	var (
		c         ir.PublishedClaim
		kind      string
		txRef     sql.NullString
		createdAt int64
	)
	err := row.Scan(&c.ReportID, &kind, &c.Score, &c.ScoreDecimals, &c.Boost, &c.ContentHash, &txRef, &createdAt)
	if err != nil {
		return ir.PublishedClaim{}, err
	}
	c.AgentKind = ir.AgentKind(kind)
	c.ProofTxRef = txRef.String
	c.CreatedAt = fromMillis(createdAt)
	return c, nil
}
