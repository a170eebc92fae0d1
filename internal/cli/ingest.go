package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/convergence/internal/config"
	"github.com/roach88/convergence/internal/ir"
)

// IngestFile is the shape of an ingest file. Either list may be empty.
type IngestFile struct {
	Signals []ir.Signal      `yaml:"signals" json:"signals"`
	Reports []ir.AgentReport `yaml:"reports" json:"reports"`
}

// IngestResult reports how many rows were new.
type IngestResult struct {
	Files        int `json:"files"`
	Signals      int `json:"signals"`
	SignalsAdded int `json:"signals_added"`
	Reports      int `json:"reports"`
	ReportsAdded int `json:"reports_added"`
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Append signals and reports to the local store",
		Long: `Append signals and agent reports from YAML or JSON files to the engine's
own database, where agents with the sqlite driver are read from.

Files hold a "signals" list and a "reports" list. Re-ingesting a signal
with the same agent and source id, or a report with the same id, is a
no-op. Every file is checked before anything is written.

Example file:
  signals:
    - agent_kind: tipster
      token_symbol: AVAX
      raw_score: 0.7
      signal_type: BUY
      observed_at: 2026-10-17T02:00:00Z
      source_id: tip-1
  reports:
    - report_id: tipster-r1
      agent_kind: tipster
      period: daily
      text: "Score: 80/100"
      top_token: AVAX
      created_at: 2026-10-17T11:00:00Z

Examples:
  convergence ingest ./signals.yaml
  convergence ingest --db ./convergence.db day1.json day2.json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runIngest(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, st, err := openStore(opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer st.Close()

	var all IngestFile
	for _, path := range paths {
		f, err := LoadIngestFile(path)
		if err != nil {
			_ = formatter.Error(ErrCodeInvalidInput, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to load "+path, err)
		}
		if err := checkIngestFile(cfg, f); err != nil {
			_ = formatter.Error(ErrCodeInvalidInput, fmt.Sprintf("%s: %v", path, err), nil)
			return WrapExitError(ExitCommandError, "invalid ingest file "+path, err)
		}
		formatter.VerboseLog("%s: %d signal(s), %d report(s)", path, len(f.Signals), len(f.Reports))
		all.Signals = append(all.Signals, f.Signals...)
		all.Reports = append(all.Reports, f.Reports...)
	}

	result := IngestResult{Files: len(paths), Signals: len(all.Signals), Reports: len(all.Reports)}
	if len(all.Signals) > 0 {
		if result.SignalsAdded, err = st.AppendSignals(ctx, all.Signals); err != nil {
			return WrapExitError(ExitCommandError, "failed to append signals", err)
		}
	}
	if len(all.Reports) > 0 {
		if result.ReportsAdded, err = st.AppendReports(ctx, all.Reports); err != nil {
			return WrapExitError(ExitCommandError, "failed to append reports", err)
		}
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Ingested %d file(s): %d/%d signal(s) new, %d/%d report(s) new\n",
		result.Files, result.SignalsAdded, result.Signals, result.ReportsAdded, result.Reports)
	return nil
}

// LoadIngestFile parses a .json file as JSON and anything else as YAML.
// Unknown fields are rejected in both.
func LoadIngestFile(path string) (*IngestFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ingest file: %w", err)
	}

	var f IngestFile
	if strings.EqualFold(filepath.Ext(path), ".json") {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
		return &f, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &f, nil
}

// checkIngestFile rejects rows for agents the config does not know and
// rows missing the fields the store keys on.
func checkIngestFile(cfg *config.Config, f *IngestFile) error {
	for i, s := range f.Signals {
		if _, ok := cfg.Agent(string(s.AgentKind)); !ok {
			return fmt.Errorf("signals[%d]: agent %q is not configured", i, s.AgentKind)
		}
		if s.SourceID == "" {
			return fmt.Errorf("signals[%d]: source_id is required", i)
		}
		if ir.NormalizeToken(s.TokenSymbol) == "" {
			return fmt.Errorf("signals[%d]: token_symbol is required", i)
		}
		if s.ObservedAt.IsZero() {
			return fmt.Errorf("signals[%d]: observed_at is required", i)
		}
	}
	for i, r := range f.Reports {
		if _, ok := cfg.Agent(string(r.AgentKind)); !ok {
			return fmt.Errorf("reports[%d]: agent %q is not configured", i, r.AgentKind)
		}
		if r.ReportID == "" {
			return fmt.Errorf("reports[%d]: report_id is required", i)
		}
		if r.CreatedAt.IsZero() {
			return fmt.Errorf("reports[%d]: created_at is required", i)
		}
	}
	return nil
}
