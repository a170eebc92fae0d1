// Package pgsource reads agent signals and reports from the agents' own
// PostgreSQL tables.
//
// Each agent kind maps to one SELECT that yields the signal column
// contract:
//
//	token        text         token symbol, any case
//	source_id    text         id of the originating row
//	raw_score    float8 NULL  agent-native score
//	grade        text NULL    ladder bucket
//	signal_type  text NULL    direction label
//	observed_at  timestamptz
//
// with $1 and $2 bound to the inclusive observation range. The stock
// tipster, whale and narrative tables have built-in queries; any other
// kind needs one configured.
//
// The engine never writes to these tables.
package pgsource
