// Package harness runs end-to-end convergence scenarios against the real
// detection and publication pipeline.
//
// A scenario seeds signals and reports, then walks a sequence of timed
// steps against a fresh in-memory database, an in-memory signal source
// with outage injection and an in-memory ledger. Every tick and claim run
// is appended to a trace that can be compared against a golden file.
//
// # Scenario Format
//
//	name: partial_outage_recovery
//	description: "What this scenario validates"
//	config:                       # optional, same shape as the config file
//	  scoring: { agreement_bonus: 0.2 }
//	signals:
//	  - { agent_kind: tipster, token_symbol: AVAX, raw_score: 0.7,
//	      signal_type: BUY, observed_at: 2026-10-17T02:00:00Z, source_id: tip-1 }
//	reports:
//	  - { report_id: tipster-r1, agent_kind: tipster, period: daily,
//	      text: "Score: 80/100", top_token: AVAX, created_at: ... }
//	steps:
//	  - at: 2026-10-17T12:00:00Z
//	    down: [whale]
//	    tick: true
//	  - at: 2026-10-17T14:00:00Z
//	    publish_reports: tipster
//	assertions:
//	  - type: result
//	    token: AVAX
//	    window_start: 2026-10-17T00:00:00Z
//	    score: 102
//	  - type: ledger_count
//	    count: 1
//
// Run ids are run-0001, run-0002, ... so traces are reproducible.
package harness
