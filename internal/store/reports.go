package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/convergence/internal/ir"
)

// AppendReports stores agent reports for the claim job. Reports are
// immutable: re-appending a report_id is a no-op. Returns how many were new.
func (s *Store) AppendReports(ctx context.Context, reports []ir.AgentReport) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("append reports: begin tx: %w", err)
	}
	defer tx.Rollback()

	added := 0
	for _, r := range reports {
		if r.ReportID == "" || r.AgentKind == "" {
			return 0, fmt.Errorf("append reports: report id and agent kind are required")
		}
		var score sql.NullInt64
		if r.Score != nil {
			score = sql.NullInt64{Int64: int64(*r.Score), Valid: true}
		}
		result, err := tx.ExecContext(ctx, `
			INSERT INTO agent_reports
			(report_id, agent_kind, period, report_text, score, top_token, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(report_id) DO NOTHING
		`,
			r.ReportID,
			string(r.AgentKind),
			r.Period,
			r.Text,
			score,
			ir.NormalizeToken(r.TopToken),
			toMillis(r.CreatedAt),
		)
		if err != nil {
			return 0, fmt.Errorf("append reports: insert %s: %w", r.ReportID, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("append reports: rows affected: %w", err)
		}
		added += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("append reports: commit: %w", err)
	}
	return added, nil
}

// PendingReports returns up to limit reports of kind that have no committed
// claim yet, oldest first. A report whose claim submission failed stays
// pending and is offered again on the next call.
func (s *Store) PendingReports(ctx context.Context, kind ir.AgentKind, limit int) ([]ir.AgentReport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.report_id, r.agent_kind, r.period, r.report_text, r.score, r.top_token, r.created_at
		FROM agent_reports r
		LEFT JOIN published_claims c ON c.report_id = r.report_id
		WHERE r.agent_kind = ? AND c.proof_tx_ref IS NULL
		ORDER BY r.created_at ASC, r.report_id COLLATE BINARY ASC
		LIMIT ?
	`, string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("pending reports %s: %w", kind, err)
	}
	defer rows.Close()

	reports := []ir.AgentReport{}
	for rows.Next() {
		var (
			r         ir.AgentReport
			agent     string
			score     sql.NullInt64
			createdAt int64
		)
		if err := rows.Scan(&r.ReportID, &agent, &r.Period, &r.Text, &score, &r.TopToken, &createdAt); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		r.AgentKind = ir.AgentKind(agent)
		if score.Valid {
			v := int(score.Int64)
			r.Score = &v
		}
		r.CreatedAt = fromMillis(createdAt)
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reports: %w", err)
	}
	return reports, nil
}
