package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/convergence/internal/ir"
)

// AppendSignals writes signals into the local signal store and returns how
// many were new. Re-appending a signal with the same (agent_kind, source_id)
// is a no-op. Token symbols are normalized on the way in.
func (s *Store) AppendSignals(ctx context.Context, signals []ir.Signal) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("append signals: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO signals
		(agent_kind, token_symbol, raw_score, grade, signal_type, direction, observed_at, source_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_kind, source_id) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("append signals: prepare: %w", err)
	}
	defer stmt.Close()

	added := 0
	for i, sig := range signals {
		if sig.AgentKind == "" || sig.SourceID == "" {
			return 0, fmt.Errorf("append signals: signal %d: agent kind and source id are required", i)
		}
		token := ir.NormalizeToken(sig.TokenSymbol)
		if token == "" {
			return 0, fmt.Errorf("append signals: signal %d (%s): empty token symbol", i, sig.SourceID)
		}
		result, err := stmt.ExecContext(ctx,
			string(sig.AgentKind),
			token,
			sig.RawScore,
			sig.Grade,
			sig.SignalType,
			string(sig.Direction),
			toMillis(sig.ObservedAt),
			sig.SourceID,
		)
		if err != nil {
			return 0, fmt.Errorf("append signals: insert %s: %w", sig.SourceID, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("append signals: rows affected: %w", err)
		}
		added += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("append signals: commit: %w", err)
	}
	return added, nil
}

// ListSignals returns kind's signals observed in [from, to], oldest first.
// An empty result is not an error.
func (s *Store) ListSignals(ctx context.Context, kind ir.AgentKind, from, to time.Time) ([]ir.Signal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_kind, token_symbol, raw_score, grade, signal_type, direction, observed_at, source_id
		FROM signals
		WHERE agent_kind = ? AND observed_at >= ? AND observed_at <= ?
		ORDER BY observed_at ASC, id ASC
	`, string(kind), toMillis(from), toMillis(to))
	if err != nil {
		return nil, fmt.Errorf("list signals %s: %w", kind, err)
	}
	defer rows.Close()

	signals := []ir.Signal{}
	for rows.Next() {
		var (
			sig              ir.Signal
			agent, direction string
			observedAt       int64
		)
		if err := rows.Scan(&agent, &sig.TokenSymbol, &sig.RawScore, &sig.Grade, &sig.SignalType, &direction, &observedAt, &sig.SourceID); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		sig.AgentKind = ir.AgentKind(agent)
		sig.Direction = ir.Direction(direction)
		sig.ObservedAt = fromMillis(observedAt)
		signals = append(signals, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate signals: %w", err)
	}
	return signals, nil
}
