package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/convergence/internal/ir"
)

// PublishReportOptions holds flags for the publish-report command.
type PublishReportOptions struct {
	*RootOptions
	Limit int
}

// PublishReportResult is the publish-report command's output.
type PublishReportResult struct {
	Agent     string              `json:"agent"`
	Published int                 `json:"published"`
	Claims    []ir.PublishedClaim `json:"claims"`
}

// NewPublishReportCommand creates the publish-report command.
func NewPublishReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PublishReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "publish-report <agent>",
		Short: "Publish an agent's pending reports as boosted claims",
		Long: `Run one agent's claim job once: read its pending reports, score each
from its structured score or trailing "Score: N/100" line, apply the
agent's convergence boost for the report's top token, and commit the
claim to the ledger. A report already claimed is not submitted again.

Exit codes:
  0 - Every pending report was published
  1 - One or more reports failed (they stay pending)
  2 - Command error

Examples:
  convergence publish-report tipster
  convergence publish-report whale --limit 5 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublishReport(opts, ir.AgentKind(args[0]), cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum reports (default claims.batch_size)")

	return cmd
}

func runPublishReport(opts *PublishReportOptions, kind ir.AgentKind, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	a, err := openApp(ctx, opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	cp, src, ac, err := a.claimPublisher(kind)
	if err != nil {
		_ = formatter.Error(ErrCodeInvalidInput, err.Error(), nil)
		return err
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = ac.Claims.BatchSize
	}

	published, pubErr := cp.PublishPending(ctx, src, limit)
	claims, err := a.store.ListClaims(ctx, kind, published)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read claims", err)
	}

	result := PublishReportResult{Agent: string(kind), Published: published, Claims: claims}
	if pubErr != nil {
		if formatter.JSON() {
			if err := formatter.Failure(result, ErrCodeGeneric, pubErr.Error()); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "✗ %s: published %d, failures: %v\n", kind, published, pubErr)
		}
		return WrapExitError(ExitFailure, "some reports failed", pubErr)
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s: published %d claim(s)\n", kind, published)
	writeClaims(cmd, claims)
	return nil
}
