package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/convergence/internal/ir"
)

// Scenario is one end-to-end pipeline run with expectations.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config overrides the default configuration. It has the shape of the
	// config file and goes through the same defaults and validation.
	Config map[string]any `yaml:"config,omitempty"`

	// Signals are in the source before the first step.
	Signals []ir.Signal `yaml:"signals,omitempty"`

	// Reports are pending agent reports, stored before the first step.
	Reports []ir.AgentReport `yaml:"reports,omitempty"`

	// Steps run in order. Each sets the clock, applies its state changes,
	// then runs its actions.
	Steps []Step `yaml:"steps"`

	// Assertions are checked against the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one point in scenario time.
type Step struct {
	At time.Time `yaml:"at"`

	// Down and Up toggle source outages per agent.
	Down []ir.AgentKind `yaml:"down,omitempty"`
	Up   []ir.AgentKind `yaml:"up,omitempty"`

	// LedgerError makes every ledger submission fail with this message
	// until a later step sets LedgerOK.
	LedgerError string `yaml:"ledger_error,omitempty"`
	LedgerOK    bool   `yaml:"ledger_ok,omitempty"`

	// AddSignals arrive in the source at this step.
	AddSignals []ir.Signal `yaml:"add_signals,omitempty"`

	// Tick runs one detector tick.
	Tick bool `yaml:"tick,omitempty"`

	// PublishReports runs the claim job of this agent once.
	PublishReports ir.AgentKind `yaml:"publish_reports,omitempty"`
}

func (s Step) hasAction() bool {
	return s.Tick || s.PublishReports != ""
}

// Assertion checks one fact about the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// result, no_result, checkpoint
	Token       string    `yaml:"token,omitempty"`
	WindowStart time.Time `yaml:"window_start,omitempty"`

	// result: each set field must match.
	Agents     []ir.AgentKind `yaml:"agents,omitempty"`
	Score      *float64       `yaml:"score,omitempty"`
	Multiplier *float64       `yaml:"multiplier,omitempty"`
	Direction  ir.Direction   `yaml:"direction,omitempty"`
	Published  *bool          `yaml:"published,omitempty"`

	// result_count, ledger_count
	Count *int `yaml:"count,omitempty"`

	// boost
	Agent ir.AgentKind `yaml:"agent,omitempty"`
	At    time.Time    `yaml:"at,omitempty"`
	Boost *float64     `yaml:"boost,omitempty"`

	// claim (also uses Published)
	ReportID   string `yaml:"report_id,omitempty"`
	ClaimScore *int64 `yaml:"claim_score,omitempty"`

	// checkpoint (also uses WindowStart)
	ScannedThrough time.Time `yaml:"scanned_through,omitempty"`
}

// Assertion types.
const (
	AssertResult      = "result"
	AssertNoResult    = "no_result"
	AssertResultCount = "result_count"
	AssertLedgerCount = "ledger_count"
	AssertBoost       = "boost"
	AssertClaim       = "claim"
	AssertCheckpoint  = "checkpoint"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	var prev time.Time
	for i, step := range s.Steps {
		if step.At.IsZero() {
			return fmt.Errorf("steps[%d]: at is required", i)
		}
		if step.At.Before(prev) {
			return fmt.Errorf("steps[%d]: at %s is before the previous step", i, step.At.Format(time.RFC3339))
		}
		prev = step.At
		if !step.hasAction() && len(step.Down) == 0 && len(step.Up) == 0 &&
			len(step.AddSignals) == 0 && step.LedgerError == "" && !step.LedgerOK {
			return fmt.Errorf("steps[%d]: step does nothing", i)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertResult, AssertNoResult:
		if a.Token == "" || a.WindowStart.IsZero() {
			return fmt.Errorf("%s needs token and window_start", a.Type)
		}
	case AssertResultCount, AssertLedgerCount:
		if a.Count == nil {
			return fmt.Errorf("%s needs count", a.Type)
		}
	case AssertBoost:
		if a.Agent == "" || a.Token == "" || a.At.IsZero() || a.Boost == nil {
			return fmt.Errorf("boost needs agent, token, at and boost")
		}
	case AssertClaim:
		if a.ReportID == "" {
			return fmt.Errorf("claim needs report_id")
		}
	case AssertCheckpoint:
		if a.WindowStart.IsZero() {
			return fmt.Errorf("checkpoint needs window_start")
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
