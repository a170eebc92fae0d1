package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/convergence/internal/api"
	"github.com/roach88/convergence/internal/engine"
	"github.com/roach88/convergence/internal/logging"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions

	// NoAPI disables the status API even when the config enables it.
	NoAPI bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the detector and claim jobs until interrupted",
		Long: `Run the convergence detector every scan interval and each enabled
agent's claim job every claims interval. When api.enabled is set, the
read-only status API is served on api.addr.

Example:
  convergence run --config ./convergence.yaml
  convergence run --db /tmp/convergence.db --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.NoAPI, "no-api", false, "do not serve the status API")

	return cmd
}

func runEngine(opts *RunOptions, cmd *cobra.Command) error {
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	a, err := openApp(ctx, opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			slog.Error("error closing app", "error", closeErr)
		}
	}()

	eng := engine.New(engine.WithLogger(logging.New("engine")))
	for _, job := range a.jobs() {
		if err := eng.Register(job); err != nil {
			return WrapExitError(ExitCommandError, "failed to register job", err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	slog.Info("engine starting", "db", a.cfg.Database.Path, "jobs", eng.Jobs())
	fmt.Fprintf(cmd.OutOrStdout(), "Convergence engine started (%d jobs).\n", len(eng.Jobs()))
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(gctx)
	})
	if a.cfg.API.Enabled && !opts.NoAPI {
		server := api.New(a.store, a.detector, a.oracle)
		g.Go(func() error {
			return server.ListenAndServe(gctx, a.cfg.API.Addr)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "engine error", err)
	}

	slog.Info("engine stopped gracefully")
	return nil
}
