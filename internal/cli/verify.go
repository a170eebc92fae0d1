package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/convergence/internal/ir"
	"github.com/roach88/convergence/internal/store"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Limit int
}

// Mismatch is one stored artifact whose hashes or references disagree.
type Mismatch struct {
	Identity string `json:"identity"`
	Problem  string `json:"problem"`
}

// VerifyResult holds the overall verification result.
type VerifyResult struct {
	Results    int        `json:"results"`
	Claims     int        `json:"claims"`
	Published  int        `json:"published"`
	Mismatches []Mismatch `json:"mismatches"`
	Verified   bool       `json:"verified"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Recompute content hashes and check ledger references",
		Long: `Recompute the content hash of every stored convergence result from its
canonical payload and compare it with the stored hash, the hash that was
committed to the ledger, and the publish guard. Claims are checked
against their publish guard.

A mismatch means a stored row no longer matches what was, or will be,
committed.

Exit codes:
  0 - Everything verified
  1 - One or more mismatches
  2 - Command error (database not found, etc.)

Examples:
  convergence verify --db ./convergence.db
  convergence verify --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 10000, "maximum results and claims to check")

	return cmd
}

func runVerify(opts *VerifyOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	_, st, err := openStore(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer st.Close()

	result, err := verifyStore(ctx, st, opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to verify", err)
	}

	if formatter.JSON() {
		if !result.Verified {
			if err := formatter.Failure(result, ErrCodeHashMismatch, "verification failed"); err != nil {
				return err
			}
			return NewExitError(ExitFailure, "verification failed")
		}
		return formatter.Success(result)
	}
	return outputVerifyText(cmd, result)
}

// verifyStore checks every result and claim in st.
func verifyStore(ctx context.Context, st *store.Store, limit int) (VerifyResult, error) {
	result := VerifyResult{Mismatches: []Mismatch{}}

	results, err := st.ListConvergences(ctx, limit)
	if err != nil {
		return result, err
	}
	for _, r := range results {
		result.Results++
		if r.ProofTxRef != "" {
			result.Published++
		}
		problems, err := verifyConvergence(ctx, st, r)
		if err != nil {
			return result, err
		}
		for _, p := range problems {
			result.Mismatches = append(result.Mismatches, Mismatch{Identity: r.Identity().String(), Problem: p})
		}
	}

	claims, err := st.ListClaims(ctx, "", limit)
	if err != nil {
		return result, err
	}
	for _, c := range claims {
		result.Claims++
		if c.ProofTxRef != "" {
			result.Published++
		}
		key := ir.ClaimIdentity(c.ReportID)
		problems, err := verifyGuard(ctx, st, key, c.ContentHash, c.ProofTxRef)
		if err != nil {
			return result, err
		}
		for _, p := range problems {
			result.Mismatches = append(result.Mismatches, Mismatch{Identity: key.String(), Problem: p})
		}
	}

	result.Verified = len(result.Mismatches) == 0
	return result, nil
}

func verifyConvergence(ctx context.Context, st *store.Store, r ir.ConvergenceResult) ([]string, error) {
	var problems []string

	hash, _, err := ir.HashPayload(ir.DomainConvergence, r.Payload())
	if err != nil {
		return nil, err
	}
	if hash.String() != r.ContentHash {
		problems = append(problems, fmt.Sprintf("content hash %s, recomputed %s", r.ContentHash, hash))
	}
	if r.ProofHash != "" && r.ProofHash != r.ContentHash {
		problems = append(problems, fmt.Sprintf("proof hash %s differs from content hash", r.ProofHash))
	}
	if r.ProofTxRef != "" && r.ProofHash == "" {
		problems = append(problems, "published without a proof hash")
	}

	guardProblems, err := verifyGuard(ctx, st, r.Identity(), r.ContentHash, r.ProofTxRef)
	if err != nil {
		return nil, err
	}
	return append(problems, guardProblems...), nil
}

// verifyGuard compares an artifact's stored hash and reference with its
// publish guard. An artifact never offered for publication has no guard.
func verifyGuard(ctx context.Context, st *store.Store, key ir.IdentityKey, contentHash, txRef string) ([]string, error) {
	g, found, err := st.LookupProof(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found {
		if txRef != "" {
			return []string{"published without a publish guard"}, nil
		}
		return nil, nil
	}

	var problems []string
	if g.ContentHash != contentHash {
		problems = append(problems, fmt.Sprintf("guard hash %s differs from content hash %s", g.ContentHash, contentHash))
	}
	if g.ProofTxRef != txRef {
		problems = append(problems, fmt.Sprintf("guard tx ref %q differs from stored tx ref %q", g.ProofTxRef, txRef))
	}
	return problems, nil
}

// outputVerifyText outputs the verify result as text.
func outputVerifyText(cmd *cobra.Command, result VerifyResult) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Verified %d result(s) and %d claim(s), %d published\n", result.Results, result.Claims, result.Published)
	for _, m := range result.Mismatches {
		fmt.Fprintf(w, "✗ %s: %s\n", m.Identity, m.Problem)
	}

	if result.Verified {
		fmt.Fprintln(w, "✓ All hashes and references verified")
		return nil
	}

	fmt.Fprintln(w, "✗ Verification failed")
	return NewExitError(ExitFailure, "verification failed")
}
