package config

// Default returns the configuration used when no file is given: a 24 hour
// window checked hourly, the three stock agents reading from the engine's
// own SQLite database, and a dry-run ledger.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// DefaultAgents returns the stock agent table.
func DefaultAgents() []AgentConfig {
	return []AgentConfig{
		{
			Kind:           "tipster",
			Scale:          ScaleFraction,
			Bullish:        []string{"BUY", "HOLD"},
			Bearish:        []string{"SELL", "AVOID"},
			Representative: RepresentativeStrongest,
		},
		{
			Kind:  "whale",
			Scale: ScaleLadder,
			Ladder: map[string]float64{
				"low":      25,
				"medium":   50,
				"high":     75,
				"critical": 100,
			},
			DefaultGrade:   "medium",
			Bullish:        []string{"swap", "stake", "lp_add"},
			Bearish:        []string{"transfer", "unstake", "lp_remove"},
			Representative: RepresentativeStrongest,
		},
		{
			Kind:           "narrative",
			Scale:          ScaleMagnitude,
			Threshold:      0.2,
			Representative: RepresentativeEarliest,
		},
	}
}

// Scales.
const (
	ScaleLadder    = "ladder"
	ScaleFraction  = "fraction"
	ScaleMagnitude = "magnitude"
	ScalePercent   = "percent"
)

// Representative policies.
const (
	RepresentativeEarliest  = "earliest"
	RepresentativeStrongest = "strongest"
)

// Source drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Ledger modes.
const (
	LedgerDryRun = "dry-run"
	LedgerHTTP   = "http"
)

func (c *Config) applyDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = "convergence.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	if c.Scan.WindowHours == 0 {
		c.Scan.WindowHours = 24
	}
	if c.Scan.IntervalSeconds == 0 {
		c.Scan.IntervalSeconds = 3600
	}
	if c.Scan.StoreTimeoutSeconds == 0 {
		c.Scan.StoreTimeoutSeconds = 10
	}
	if c.Scan.SourceTimeoutSeconds == 0 {
		c.Scan.SourceTimeoutSeconds = 30
	}
	if c.Scan.MaxCatchUpWindows == 0 {
		c.Scan.MaxCatchUpWindows = 7
	}

	if len(c.Scoring.Multipliers) == 0 {
		c.Scoring.Multipliers = []MultiplierRule{
			{Agents: 2, Multiplier: 1.5},
			{Agents: 3, Multiplier: 2.0},
		}
	}
	if c.Scoring.DefaultMultiplier == 0 {
		c.Scoring.DefaultMultiplier = 2.0
	}
	if c.Scoring.AgreementBonus == 0 {
		c.Scoring.AgreementBonus = 0.2
	}
	if c.Scoring.MinAgreeingVotes == 0 {
		c.Scoring.MinAgreeingVotes = 2
	}

	if c.Publish.MinAgents == 0 {
		c.Publish.MinAgents = 3
	}
	if c.Publish.LeaseSeconds == 0 {
		c.Publish.LeaseSeconds = 300
	}
	if c.Publish.Tag == "" {
		c.Publish.Tag = "convergence"
	}
	if c.Publish.URIScheme == "" {
		c.Publish.URIScheme = "convergence"
	}
	if c.Publish.BacklogLimit == 0 {
		c.Publish.BacklogLimit = 50
	}

	if c.Ledger.Mode == "" {
		c.Ledger.Mode = LedgerDryRun
	}
	if c.Ledger.TimeoutSeconds == 0 {
		c.Ledger.TimeoutSeconds = 60
	}
	if c.Ledger.RatePerSecond == 0 {
		c.Ledger.RatePerSecond = 1
	}
	if c.Ledger.Burst == 0 {
		c.Ledger.Burst = 1
	}

	if c.Postgres.MaxConns == 0 {
		c.Postgres.MaxConns = 4
	}
	if c.API.Addr == "" {
		c.API.Addr = ":8090"
	}

	if len(c.Agents) == 0 {
		c.Agents = DefaultAgents()
	}
	for i := range c.Agents {
		a := &c.Agents[i]
		if a.Representative == "" {
			a.Representative = RepresentativeEarliest
		}
		if a.Source.Driver == "" {
			a.Source.Driver = DriverSQLite
		}
		if a.Claims.Source.Driver == "" {
			a.Claims.Source.Driver = a.Source.Driver
		}
		if a.Claims.IntervalSeconds == 0 {
			a.Claims.IntervalSeconds = 3600
		}
		if a.Claims.BatchSize == 0 {
			a.Claims.BatchSize = 10
		}
	}
}
