package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/convergence/internal/convergence"
)

// NewDetectCommand creates the detect command.
func NewDetectCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Run one convergence tick",
		Long: `Run one convergence tick: retry unpublished results, catch up an
unfinished window, scan the current window up to now, record every new
overlap and publish the ones that qualify.

Exit codes:
  0 - Tick completed without failures
  1 - Tick completed with per-token failures (details in the report)
  2 - Command error (config, database)

Examples:
  convergence detect --db ./convergence.db
  convergence detect --config ./convergence.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDetect(rootOpts, cmd)
		},
	}
	return cmd
}

func runDetect(opts *RootOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	a, err := openApp(ctx, opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	rep, tickErr := a.detector.Tick(ctx)
	if formatter.JSON() {
		resp := CLIResponse{Status: "ok", Data: rep, RunID: rep.RunID}
		if tickErr != nil {
			resp.Status = "error"
			resp.Error = &CLIError{Code: ErrCodeTickFailed, Message: tickErr.Error()}
		}
		if err := formatter.encode(resp); err != nil {
			return err
		}
	} else {
		writeTickReport(cmd, rep)
	}

	if tickErr != nil {
		return WrapExitError(ExitFailure, "tick had failures", tickErr)
	}
	return nil
}

func writeTickReport(cmd *cobra.Command, rep convergence.TickReport) {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Run %s\n", rep.RunID)
	for _, win := range rep.Windows {
		fmt.Fprintf(w, "  window %s\n", win)
	}
	for _, res := range rep.Recorded {
		fmt.Fprintf(w, "  ✓ %-8s %v score=%.2f x%.2f %s\n",
			res.TokenSymbol, res.AgentsInvolved, res.ConvergenceScore, res.Multiplier, res.Direction)
	}
	if len(rep.Degraded) > 0 {
		fmt.Fprintf(w, "  degraded sources: %v\n", rep.Degraded)
	}
	fmt.Fprintf(w, "Recorded %d, duplicates %d, published %d, failures %d\n",
		len(rep.Recorded), rep.Duplicates, rep.Published, rep.Failures)
}
