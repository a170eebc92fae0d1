package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/convergence/internal/ir"
)

// BoostOptions holds flags for the boost command.
type BoostOptions struct {
	*RootOptions
	Agent string
	Token string
	At    string // RFC 3339; empty means now
}

// BoostResult is the boost command's output.
type BoostResult struct {
	Agent string    `json:"agent"`
	Token string    `json:"token"`
	At    time.Time `json:"at"`
	Boost float64   `json:"boost"`
}

// NewBoostCommand creates the boost command.
func NewBoostCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BoostOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "boost",
		Short: "Look up an agent's convergence boost for a token",
		Long: `Look up the multiplier an agent's claim for a token would get.

An agent gets the multiplier of the latest convergence result it took
part in whose window ended within one window of the given time, and 1.0
otherwise.

Examples:
  convergence boost --agent tipster --token AVAX
  convergence boost --agent whale --token AVAX --at 2026-10-17T14:00:00Z`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBoost(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Agent, "agent", "", "agent kind (required)")
	cmd.Flags().StringVar(&opts.Token, "token", "", "token symbol (required)")
	cmd.Flags().StringVar(&opts.At, "at", "", "evaluate as of this RFC 3339 time (default now)")
	_ = cmd.MarkFlagRequired("agent")
	_ = cmd.MarkFlagRequired("token")

	return cmd
}

func runBoost(opts *BoostOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	at := time.Now().UTC()
	if opts.At != "" {
		parsed, err := time.Parse(time.RFC3339, opts.At)
		if err != nil {
			_ = formatter.Error(ErrCodeInvalidInput, fmt.Sprintf("invalid --at: %v", err), nil)
			return WrapExitError(ExitCommandError, "invalid --at", err)
		}
		at = parsed.UTC()
	}

	a, err := openApp(ctx, opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	token := ir.NormalizeToken(opts.Token)
	boost, err := a.oracle.LookupBoost(ctx, ir.AgentKind(opts.Agent), token, at)
	if err != nil {
		// The oracle still answered 1.0; the lookup itself failed.
		return WrapExitError(ExitCommandError, "boost lookup failed", err)
	}

	result := BoostResult{Agent: opts.Agent, Token: token, At: at, Boost: boost}
	if formatter.JSON() {
		return formatter.Success(result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s on %s at %s: %.2fx\n", result.Agent, result.Token, at.Format(time.RFC3339), boost)
	return nil
}
