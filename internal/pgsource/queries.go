package pgsource

import (
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/roach88/convergence/internal/ir"
)

var defaultSignalQueries = map[ir.AgentKind]string{
	ir.AgentTipster: `
		SELECT token_symbol AS token,
		       id::text AS source_id,
		       confidence::float8 AS raw_score,
		       NULL::text AS grade,
		       signal_type,
		       created_at AS observed_at
		FROM tipster_signals
		WHERE created_at >= $1 AND created_at <= $2
		  AND is_valid = true
		  AND token_symbol IS NOT NULL`,

	ir.AgentWhale: `
		SELECT wt.token_symbol AS token,
		       wt.id::text AS source_id,
		       wt.amount_usd::float8 AS raw_score,
		       wa.significance AS grade,
		       wt.tx_type AS signal_type,
		       wt.detected_at AS observed_at
		FROM whale_transactions wt
		LEFT JOIN whale_analyses wa ON wa.transaction_id = wt.id
		WHERE wt.detected_at >= $1 AND wt.detected_at <= $2
		  AND wt.token_symbol IS NOT NULL`,

	ir.AgentNarrative: `
		SELECT elem AS token,
		       ns.id::text AS source_id,
		       ns.sentiment_score::float8 AS raw_score,
		       NULL::text AS grade,
		       ns.overall_sentiment AS signal_type,
		       ns.analyzed_at AS observed_at
		FROM narrative_sentiments ns,
		     jsonb_array_elements_text(ns.tokens_mentioned) AS elem
		WHERE ns.analyzed_at >= $1 AND ns.analyzed_at <= $2`,
}

// reportQuery selects an agent's reports that carry no proof yet from
// <kind>_reports, newest first. $1 is the limit.
func reportQuery(kind ir.AgentKind) string {
	table := pgx.Identifier{string(kind) + "_reports"}.Sanitize()
	return fmt.Sprintf(`
		SELECT id::text AS id,
		       COALESCE(report_type, '') AS report_type,
		       report_text,
		       created_at
		FROM %s
		WHERE proof_tx_hash IS NULL AND report_text IS NOT NULL
		ORDER BY created_at DESC, id DESC
		LIMIT $1`, table)
}
