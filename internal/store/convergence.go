package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/convergence/internal/ir"
)

const convergenceColumns = `
	id, token_symbol, window_start, window_end, agents_involved, agent_count,
	scores, avg_score, multiplier, convergence_score, direction,
	direction_agreement, content_hash, proof_hash, proof_tx_ref, run_id, detected_at`

// RecordConvergence inserts a convergence result and returns the stored row.
//
// Uses ON CONFLICT(token_symbol, window_start) DO NOTHING so concurrent
// writers for the same identity never produce two rows. If a row already
// exists, returns the existing row and inserted=false; the caller's result
// is discarded.
func (s *Store) RecordConvergence(ctx context.Context, r ir.ConvergenceResult) (stored ir.ConvergenceResult, inserted bool, err error) {
	if r.TokenSymbol == "" {
		return ir.ConvergenceResult{}, false, fmt.Errorf("record convergence: empty token symbol")
	}
	if r.ContentHash == "" {
		return ir.ConvergenceResult{}, false, fmt.Errorf("record convergence %s: missing content hash", r.TokenSymbol)
	}

	agentsJSON, err := marshalAgents(r.AgentsInvolved)
	if err != nil {
		return ir.ConvergenceResult{}, false, fmt.Errorf("record convergence: %w", err)
	}
	scoresJSON, err := marshalScores(r.Scores)
	if err != nil {
		return ir.ConvergenceResult{}, false, fmt.Errorf("record convergence: %w", err)
	}

	// Use a transaction to ensure atomicity of insert-or-select
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ir.ConvergenceResult{}, false, fmt.Errorf("record convergence: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO convergence_results
		(token_symbol, window_start, window_end, agents_involved, agent_count,
		 scores, avg_score, multiplier, convergence_score, direction,
		 direction_agreement, content_hash, run_id, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(token_symbol, window_start) DO NOTHING
	`,
		r.TokenSymbol,
		toMillis(r.WindowStart),
		toMillis(r.WindowEnd),
		agentsJSON,
		r.AgentCount,
		scoresJSON,
		r.AvgScore,
		r.Multiplier,
		r.ConvergenceScore,
		string(r.Direction),
		r.DirectionAgreement,
		r.ContentHash,
		r.RunID,
		toMillis(r.DetectedAt),
	)
	if err != nil {
		return ir.ConvergenceResult{}, false, fmt.Errorf("record convergence: insert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return ir.ConvergenceResult{}, false, fmt.Errorf("record convergence: rows affected: %w", err)
	}
	inserted = rowsAffected > 0

	row := tx.QueryRowContext(ctx, `
		SELECT `+convergenceColumns+`
		FROM convergence_results
		WHERE token_symbol = ? AND window_start = ?
	`, r.TokenSymbol, toMillis(r.WindowStart))
	stored, err = scanConvergence(row)
	if err != nil {
		return ir.ConvergenceResult{}, false, fmt.Errorf("record convergence: select stored: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ir.ConvergenceResult{}, false, fmt.Errorf("record convergence: commit: %w", err)
	}

	return stored, inserted, nil
}

// ReadConvergence returns the result for token in the window starting at
// windowStart. Returns sql.ErrNoRows if not found.
func (s *Store) ReadConvergence(ctx context.Context, token string, windowStart time.Time) (ir.ConvergenceResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+convergenceColumns+`
		FROM convergence_results
		WHERE token_symbol = ? AND window_start = ?
	`, token, toMillis(windowStart))
	return scanConvergence(row)
}

// LatestConvergence returns the most recent result for token whose window
// ended at or after since. found is false when there is none.
func (s *Store) LatestConvergence(ctx context.Context, token string, since time.Time) (r ir.ConvergenceResult, found bool, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+convergenceColumns+`
		FROM convergence_results
		WHERE token_symbol = ? AND window_end >= ?
		ORDER BY window_end DESC, id DESC
		LIMIT 1
	`, token, toMillis(since))

	r, err = scanConvergence(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.ConvergenceResult{}, false, nil
	}
	if err != nil {
		return ir.ConvergenceResult{}, false, fmt.Errorf("latest convergence %s: %w", token, err)
	}
	return r, true, nil
}

// ListConvergences returns up to limit results, most recently detected first.
// Returns an empty slice (not nil) when there are none.
func (s *Store) ListConvergences(ctx context.Context, limit int) ([]ir.ConvergenceResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+convergenceColumns+`
		FROM convergence_results
		ORDER BY detected_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list convergences: %w", err)
	}
	return collectConvergences(rows)
}

// UnpublishedConvergences returns results with at least minAgents agents
// that have no proof reference yet, oldest window first. This is the
// publisher's retry backlog.
func (s *Store) UnpublishedConvergences(ctx context.Context, minAgents, limit int) ([]ir.ConvergenceResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+convergenceColumns+`
		FROM convergence_results
		WHERE proof_tx_ref IS NULL AND agent_count >= ?
		ORDER BY window_start ASC, id ASC
		LIMIT ?
	`, minAgents, limit)
	if err != nil {
		return nil, fmt.Errorf("unpublished convergences: %w", err)
	}
	return collectConvergences(rows)
}

// Stats summarizes the convergence table.
type Stats struct {
	TotalConvergences int64 `json:"total_convergences"`
	Recent            int64 `json:"recent"`
	ThreeAgentTotal   int64 `json:"three_agent_total"`
	Published         int64 `json:"published"`
	PublishedClaims   int64 `json:"published_claims"`
}

// Stats counts results overall, detected since the given time, with three
// or more agents, and with a proof reference.
func (s *Store) Stats(ctx context.Context, since time.Time) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN detected_at >= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN agent_count >= 3 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN proof_tx_ref IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM convergence_results
	`, toMillis(since)).Scan(&st.TotalConvergences, &st.Recent, &st.ThreeAgentTotal, &st.Published)
	if err != nil {
		return Stats{}, fmt.Errorf("convergence stats: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM published_claims WHERE proof_tx_ref IS NOT NULL
	`).Scan(&st.PublishedClaims)
	if err != nil {
		return Stats{}, fmt.Errorf("claim stats: %w", err)
	}
	return st, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanConvergence(row rowScanner) (ir.ConvergenceResult, error) {
	var (
		r                      ir.ConvergenceResult
		windowStart, windowEnd int64
		agentsJSON, scoresJSON string
		direction              string
		proofHash, proofTxRef  sql.NullString
		detectedAt             int64
	)
	err := row.Scan(
		&r.ID,
		&r.TokenSymbol,
		&windowStart,
		&windowEnd,
		&agentsJSON,
		&r.AgentCount,
		&scoresJSON,
		&r.AvgScore,
		&r.Multiplier,
		&r.ConvergenceScore,
		&direction,
		&r.DirectionAgreement,
		&r.ContentHash,
		&proofHash,
		&proofTxRef,
		&r.RunID,
		&detectedAt,
	)
	if err != nil {
		return ir.ConvergenceResult{}, err
	}

	if r.AgentsInvolved, err = unmarshalAgents(agentsJSON); err != nil {
		return ir.ConvergenceResult{}, err
	}
	if r.Scores, err = unmarshalScores(scoresJSON); err != nil {
		return ir.ConvergenceResult{}, err
	}
	r.WindowStart = fromMillis(windowStart)
	r.WindowEnd = fromMillis(windowEnd)
	r.DetectedAt = fromMillis(detectedAt)
	r.Direction = ir.Direction(direction)
	r.ProofHash = proofHash.String
	r.ProofTxRef = proofTxRef.String
	return r, nil
}

func collectConvergences(rows *sql.Rows) ([]ir.ConvergenceResult, error) {
	defer rows.Close()

	results := []ir.ConvergenceResult{}
	for rows.Next() {
		r, err := scanConvergence(rows)
		if err != nil {
			return nil, fmt.Errorf("scan convergence: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate convergences: %w", err)
	}
	return results, nil
}
