package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/convergence/internal/config"
	"github.com/roach88/convergence/internal/convergence"
	"github.com/roach88/convergence/internal/engine"
	"github.com/roach88/convergence/internal/ir"
	"github.com/roach88/convergence/internal/ledger"
	"github.com/roach88/convergence/internal/logging"
	"github.com/roach88/convergence/internal/pgsource"
	"github.com/roach88/convergence/internal/proof"
	"github.com/roach88/convergence/internal/store"
)

// app is the wired pipeline shared by the commands that touch the
// database: config, store, sources, ledger, detector, oracle and one claim
// publisher per agent.
type app struct {
	cfg    *config.Config
	store  *store.Store
	pool   *pgxpool.Pool
	ledger ledger.Client

	detector *convergence.Detector
	oracle   *convergence.BoostOracle
	claims   map[ir.AgentKind]*proof.ClaimPublisher
	reports  map[ir.AgentKind]proof.ReportSource
}

// loadConfig reads the config file named by opts, or the defaults.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.ConfigPath == "" {
		cfg = config.Default()
	} else if cfg, err = config.Load(opts.ConfigPath); err != nil {
		return nil, err
	}
	if opts.Database != "" {
		cfg.Database.Path = opts.Database
	}
	return cfg, nil
}

// initLogging configures slog from the config; --verbose forces debug.
func initLogging(cfg *config.Config, verbose bool, w io.Writer) error {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	if verbose {
		level = slog.LevelDebug
	}
	logging.Init(level, cfg.Logging.Format, w)
	return nil
}

// openStore loads the config and opens only the database, for commands
// that read or write engine tables without touching sources or the ledger.
func openStore(opts *RootOptions, logOut io.Writer) (*config.Config, *store.Store, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if err := initLogging(cfg, opts.Verbose, logOut); err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "invalid logging config", err)
	}
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return cfg, st, nil
}

// openApp loads the config and wires the pipeline. Callers must Close it.
func openApp(ctx context.Context, opts *RootOptions, logOut io.Writer) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if err := initLogging(cfg, opts.Verbose, logOut); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid logging config", err)
	}

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	a := &app{
		cfg:     cfg,
		store:   st,
		claims:  make(map[ir.AgentKind]*proof.ClaimPublisher),
		reports: make(map[ir.AgentKind]proof.ReportSource),
	}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	var pg *pgsource.Source
	if cfg.UsesPostgres() {
		pool, err := pgsource.OpenPool(ctx, cfg.Postgres)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to connect to postgres", err)
		}
		a.pool = pool
		pg = pgsource.New(pool, pgsourceOptions(cfg)...)
	}

	client, err := newLedgerClient(cfg.Ledger, cfg.LedgerTimeout())
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid ledger config", err)
	}
	a.ledger = client

	rules, err := convergence.NewRules(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid scoring config", err)
	}

	sources := make(map[ir.AgentKind]convergence.SignalSource)
	for _, ac := range cfg.Agents {
		kind := ir.AgentKind(ac.Kind)
		sources[kind] = pick(ac.Source.Driver, a.store, pg)
		a.reports[kind] = pick(ac.Claims.Source.Driver, a.store, pg)
	}

	recorder := convergence.NewRecorder(a.store, a.publisher(cfg.Ledger.AgentID), convergence.PublishPolicy{
		MinAgents:    cfg.Publish.MinAgents,
		Tag:          cfg.Publish.Tag,
		URIScheme:    cfg.Publish.URIScheme,
		BacklogLimit: cfg.Publish.BacklogLimit,
	}, cfg.StoreTimeout())
	scanner := convergence.NewScanner(rules, sources,
		convergence.WithSourceTimeout(cfg.SourceTimeout()),
		convergence.WithScannerLogger(logging.New("scanner")))

	a.detector = convergence.NewDetector(rules, scanner, recorder, a.store, cfg.Window(),
		convergence.WithStoreTimeout(cfg.StoreTimeout()),
		convergence.WithMaxCatchUp(cfg.Scan.MaxCatchUpWindows))
	a.oracle = convergence.NewBoostOracle(a.store, cfg.Window(), cfg.StoreTimeout())

	for _, ac := range cfg.Agents {
		kind := ir.AgentKind(ac.Kind)
		a.claims[kind] = proof.NewClaimPublisher(kind, a.publisher(ac.Claims.AgentID), a.oracle, a.store, engine.SystemClock{})
	}
	return nil
}

// pick returns the local store for the sqlite driver and the postgres
// source otherwise. Both implement every source interface the app needs.
func pick(driver string, st *store.Store, pg *pgsource.Source) interface {
	convergence.SignalSource
	proof.ReportSource
} {
	if driver == config.DriverPostgres && pg != nil {
		return pg
	}
	return st
}

func pgsourceOptions(cfg *config.Config) []pgsource.Option {
	var opts []pgsource.Option
	for _, ac := range cfg.Agents {
		kind := ir.AgentKind(ac.Kind)
		if ac.Source.Query != "" {
			opts = append(opts, pgsource.WithSignalQuery(kind, ac.Source.Query))
		}
		if ac.Claims.Source.Query != "" {
			opts = append(opts, pgsource.WithReportQuery(kind, ac.Claims.Source.Query))
		}
	}
	return opts
}

func newLedgerClient(cfg config.LedgerConfig, timeout time.Duration) (ledger.Client, error) {
	switch cfg.Mode {
	case config.LedgerDryRun:
		return ledger.NewDryRun(slog.Default()), nil
	case config.LedgerHTTP:
		var key string
		if cfg.APIKeyEnv != "" {
			key = os.Getenv(cfg.APIKeyEnv)
			if key == "" {
				return nil, fmt.Errorf("ledger api key: %s is not set", cfg.APIKeyEnv)
			}
		}
		return ledger.NewHTTPClient(cfg.Endpoint,
			ledger.WithAPIKey(key),
			ledger.WithTimeout(timeout),
			ledger.WithRate(cfg.RatePerSecond, cfg.Burst)), nil
	}
	return nil, fmt.Errorf("unknown ledger mode %q", cfg.Mode)
}

func (a *app) publisher(agentID int64) *proof.Publisher {
	return proof.New(a.store, a.ledger, agentID,
		proof.WithLeaseTTL(a.cfg.LeaseTTL()),
		proof.WithTimeouts(a.cfg.StoreTimeout(), a.cfg.LedgerTimeout()),
		proof.WithLogger(logging.New("proof")))
}

// claimPublisher returns the publisher and report source for kind.
func (a *app) claimPublisher(kind ir.AgentKind) (*proof.ClaimPublisher, proof.ReportSource, config.AgentConfig, error) {
	ac, ok := a.cfg.Agent(string(kind))
	if !ok {
		return nil, nil, config.AgentConfig{}, NewExitError(ExitCommandError, fmt.Sprintf("agent %q is not configured", kind))
	}
	return a.claims[kind], a.reports[kind], ac, nil
}

// jobs returns the engine jobs: the convergence tick, and one claim job per
// agent with claims enabled.
func (a *app) jobs() []engine.Job {
	jobs := []engine.Job{{
		Name:     "convergence",
		Interval: a.cfg.Interval(),
		Run: func(ctx context.Context) error {
			_, err := a.detector.Tick(ctx)
			return err
		},
	}}
	for _, ac := range a.cfg.Agents {
		if !ac.Claims.Enabled {
			continue
		}
		kind := ir.AgentKind(ac.Kind)
		cp, src, batch := a.claims[kind], a.reports[kind], ac.Claims.BatchSize
		jobs = append(jobs, engine.Job{
			Name:     "claims/" + ac.Kind,
			Interval: ac.ClaimInterval(),
			Run: func(ctx context.Context) error {
				_, err := cp.PublishPending(ctx, src, batch)
				return err
			},
		})
	}
	return jobs
}

// Close releases the pool and the database.
func (a *app) Close() error {
	if a.pool != nil {
		a.pool.Close()
	}
	var errs []error
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	return errors.Join(errs...)
}
