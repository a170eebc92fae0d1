// Package config loads the engine configuration from YAML, fills defaults,
// and validates the result against an embedded CUE schema.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database" json:"database"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
	Scan     ScanConfig     `yaml:"scan" json:"scan"`
	Scoring  ScoringConfig  `yaml:"scoring" json:"scoring"`
	Publish  PublishConfig  `yaml:"publish" json:"publish"`
	Ledger   LedgerConfig   `yaml:"ledger" json:"ledger"`
	Postgres PostgresConfig `yaml:"postgres" json:"postgres"`
	API      APIConfig      `yaml:"api" json:"api"`

	// Agents is ordered. The order fixes how agents are listed in results
	// and the order scores are summed in.
	Agents []AgentConfig `yaml:"agents" json:"agents"`
}

// DatabaseConfig locates the engine's SQLite database.
type DatabaseConfig struct {
	Path string `yaml:"path" json:"path"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// ScanConfig controls the convergence tick.
type ScanConfig struct {
	WindowHours          int `yaml:"window_hours" json:"window_hours"`
	IntervalSeconds      int `yaml:"interval_seconds" json:"interval_seconds"`
	StoreTimeoutSeconds  int `yaml:"store_timeout_seconds" json:"store_timeout_seconds"`
	SourceTimeoutSeconds int `yaml:"source_timeout_seconds" json:"source_timeout_seconds"`

	// MaxCatchUpWindows bounds how many closed windows one tick rescans
	// after the engine was down. Older windows are skipped.
	MaxCatchUpWindows int `yaml:"max_catch_up_windows" json:"max_catch_up_windows"`
}

// MultiplierRule maps an agent count to its base multiplier.
type MultiplierRule struct {
	Agents     int     `yaml:"agents" json:"agents"`
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`
}

// ScoringConfig holds the synthesizer's multiplier rules.
type ScoringConfig struct {
	Multipliers []MultiplierRule `yaml:"multipliers" json:"multipliers"`

	// DefaultMultiplier applies to agent counts above every rule.
	DefaultMultiplier float64 `yaml:"default_multiplier" json:"default_multiplier"`
	AgreementBonus    float64 `yaml:"agreement_bonus" json:"agreement_bonus"`
	MinAgreeingVotes  int     `yaml:"min_agreeing_votes" json:"min_agreeing_votes"`
}

// PublishConfig controls which results are committed to the ledger.
type PublishConfig struct {
	MinAgents    int    `yaml:"min_agents" json:"min_agents"`
	LeaseSeconds int    `yaml:"lease_seconds" json:"lease_seconds"`
	Tag          string `yaml:"tag" json:"tag"`
	URIScheme    string `yaml:"uri_scheme" json:"uri_scheme"`
	BacklogLimit int    `yaml:"backlog_limit" json:"backlog_limit"`
}

// LedgerConfig selects and tunes the ledger client.
type LedgerConfig struct {
	// Mode is "dry-run" or "http".
	Mode     string `yaml:"mode" json:"mode"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// APIKeyEnv names the environment variable holding the gateway key.
	APIKeyEnv string `yaml:"api_key_env" json:"api_key_env"`

	// AgentID is the ledger identity convergence results are claimed under.
	AgentID        int64   `yaml:"agent_id" json:"agent_id"`
	TimeoutSeconds int     `yaml:"timeout_seconds" json:"timeout_seconds"`
	RatePerSecond  float64 `yaml:"rate_per_second" json:"rate_per_second"`
	Burst          int     `yaml:"burst" json:"burst"`
}

// PostgresConfig is the shared pool for agents whose tables live in postgres.
type PostgresConfig struct {
	DSN      string `yaml:"dsn" json:"dsn"`
	MaxConns int    `yaml:"max_conns" json:"max_conns"`
}

// APIConfig controls the read-only status API.
type APIConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
}

// AgentConfig describes one signal-producing agent.
type AgentConfig struct {
	Kind string `yaml:"kind" json:"kind"`

	// Scale is how RawScore maps to 0-100: ladder, fraction, magnitude, percent.
	Scale        string             `yaml:"scale" json:"scale"`
	Ladder       map[string]float64 `yaml:"ladder,omitempty" json:"ladder,omitempty"`
	DefaultGrade string             `yaml:"default_grade,omitempty" json:"default_grade,omitempty"`

	// Bullish and Bearish list the signal types that vote each way.
	Bullish []string `yaml:"bullish,omitempty" json:"bullish,omitempty"`
	Bearish []string `yaml:"bearish,omitempty" json:"bearish,omitempty"`

	// Threshold is the raw-score cutoff for magnitude-scaled votes.
	Threshold float64 `yaml:"threshold,omitempty" json:"threshold,omitempty"`

	// Representative picks one signal per token: earliest or strongest.
	Representative string `yaml:"representative" json:"representative"`

	Source SourceConfig `yaml:"source" json:"source"`
	Claims ClaimsConfig `yaml:"claims" json:"claims"`
}

// SourceConfig says where an agent's signals or reports are read from.
type SourceConfig struct {
	// Driver is "sqlite" (the engine database) or "postgres".
	Driver string `yaml:"driver" json:"driver"`

	// Query overrides the built-in postgres query for this agent.
	Query string `yaml:"query,omitempty" json:"query,omitempty"`
}

// ClaimsConfig controls an agent's periodic report claims.
type ClaimsConfig struct {
	Enabled         bool         `yaml:"enabled" json:"enabled"`
	AgentID         int64        `yaml:"agent_id" json:"agent_id"`
	IntervalSeconds int          `yaml:"interval_seconds" json:"interval_seconds"`
	BatchSize       int          `yaml:"batch_size" json:"batch_size"`
	Source          SourceConfig `yaml:"source" json:"source"`
}

// Load reads path, fills defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, fills defaults, and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Window returns the scan window as a Duration.
func (c *Config) Window() time.Duration {
	return time.Duration(c.Scan.WindowHours) * time.Hour
}

// Interval returns the convergence tick interval.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Scan.IntervalSeconds) * time.Second
}

// StoreTimeout bounds each store call.
func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.Scan.StoreTimeoutSeconds) * time.Second
}

// SourceTimeout bounds each agent's signal query.
func (c *Config) SourceTimeout() time.Duration {
	return time.Duration(c.Scan.SourceTimeoutSeconds) * time.Second
}

// LedgerTimeout bounds each ledger submission.
func (c *Config) LedgerTimeout() time.Duration {
	return time.Duration(c.Ledger.TimeoutSeconds) * time.Second
}

// LeaseTTL is how long a publisher holds an identity before another may
// retry it.
func (c *Config) LeaseTTL() time.Duration {
	return time.Duration(c.Publish.LeaseSeconds) * time.Second
}

// Agent returns the configuration for kind.
func (c *Config) Agent(kind string) (AgentConfig, bool) {
	for _, a := range c.Agents {
		if a.Kind == kind {
			return a, true
		}
	}
	return AgentConfig{}, false
}

// UsesPostgres reports whether any agent reads signals or reports from
// postgres.
func (c *Config) UsesPostgres() bool {
	for _, a := range c.Agents {
		if a.Source.Driver == "postgres" || (a.Claims.Enabled && a.Claims.Source.Driver == "postgres") {
			return true
		}
	}
	return false
}

// ClaimInterval returns the agent's claim job interval.
func (a AgentConfig) ClaimInterval() time.Duration {
	return time.Duration(a.Claims.IntervalSeconds) * time.Second
}
