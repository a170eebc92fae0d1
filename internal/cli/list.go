package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/convergence/internal/ir"
)

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Limit       int
	Unpublished bool
	Claims      bool
	Agent       string
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded convergence results or published claims",
		Long: `List recorded convergence results, most recently detected first.

With --unpublished, lists the publication backlog instead: results with at
least publish.min_agents agents and no ledger reference, oldest first.
With --claims, lists agent claims, optionally for one --agent.

Examples:
  convergence list --limit 10
  convergence list --unpublished
  convergence list --claims --agent tipster --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum rows")
	cmd.Flags().BoolVar(&opts.Unpublished, "unpublished", false, "list the publication backlog")
	cmd.Flags().BoolVar(&opts.Claims, "claims", false, "list agent claims instead of results")
	cmd.Flags().StringVar(&opts.Agent, "agent", "", "with --claims, only this agent")

	return cmd
}

func runList(opts *ListOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if opts.Limit <= 0 {
		_ = formatter.Error(ErrCodeInvalidInput, "--limit must be positive", nil)
		return NewExitError(ExitCommandError, "--limit must be positive")
	}
	if opts.Claims && opts.Unpublished {
		_ = formatter.Error(ErrCodeInvalidInput, "--claims and --unpublished are exclusive", nil)
		return NewExitError(ExitCommandError, "--claims and --unpublished are exclusive")
	}

	cfg, st, err := openStore(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer st.Close()

	if opts.Claims {
		claims, err := st.ListClaims(ctx, ir.AgentKind(opts.Agent), opts.Limit)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list claims", err)
		}
		if formatter.JSON() {
			return formatter.Success(claims)
		}
		writeClaims(cmd, claims)
		return nil
	}

	var results []ir.ConvergenceResult
	if opts.Unpublished {
		results, err = st.UnpublishedConvergences(ctx, cfg.Publish.MinAgents, opts.Limit)
	} else {
		results, err = st.ListConvergences(ctx, opts.Limit)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list results", err)
	}
	if formatter.JSON() {
		return formatter.Success(results)
	}
	writeResults(cmd, results)
	return nil
}

func writeResults(cmd *cobra.Command, results []ir.ConvergenceResult) {
	w := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintln(w, "No convergence results.")
		return
	}
	for _, r := range results {
		proof := "unpublished"
		if r.ProofTxRef != "" {
			proof = r.ProofTxRef
		}
		fmt.Fprintf(w, "%-8s %s %v score=%.2f x%.2f %s [%s]\n",
			r.TokenSymbol, r.WindowStart.Format(time.DateOnly), r.AgentsInvolved,
			r.ConvergenceScore, r.Multiplier, r.Direction, proof)
	}
}

func writeClaims(cmd *cobra.Command, claims []ir.PublishedClaim) {
	w := cmd.OutOrStdout()
	if len(claims) == 0 {
		fmt.Fprintln(w, "No claims.")
		return
	}
	for _, c := range claims {
		proof := "pending"
		if c.ProofTxRef != "" {
			proof = c.ProofTxRef
		}
		fmt.Fprintf(w, "%-20s %-10s score=%d/10^%d boost=%.2f [%s]\n",
			c.ReportID, c.AgentKind, c.Score, c.ScoreDecimals, c.Boost, proof)
	}
}
