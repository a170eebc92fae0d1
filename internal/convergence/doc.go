// Package convergence detects tokens flagged by two or more agents inside
// one window and turns each overlap into a scored, hash-committed result.
//
// The pipeline for one tick:
//
//	Scanner.Scan      reads every agent's signals for the window, keeps one
//	                  representative per (agent, token), drops single-agent
//	                  tokens
//	Rules.Synthesize  scores an overlap: normalize, average, vote, multiply
//	Recorder.Record   hashes the result and inserts it once per
//	                  (token, window_start)
//	Recorder.Publish  commits top-tier results to the ledger
//
// Detector.Tick drives the pipeline and owns the scan checkpoint.
// BoostOracle is the read path agents use before publishing their own
// claims.
//
// Synthesize is pure. Every score it produces is fixed-point hundredths
// internally, so the same observations always give bit-identical results
// and the same content hash.
package convergence
