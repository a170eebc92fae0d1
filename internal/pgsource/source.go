package pgsource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/convergence/internal/config"
	"github.com/roach88/convergence/internal/ir"
)

// ErrNoQuery is returned for an agent kind with neither a built-in nor a
// configured query.
var ErrNoQuery = errors.New("pgsource: no query for agent")

// querier is the subset of *pgxpool.Pool the source uses.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Source reads signals and reports through a shared pool.
//
// Implements convergence.SignalSource and proof.ReportSource.
type Source struct {
	db            querier
	signalQueries map[ir.AgentKind]string
	reportQueries map[ir.AgentKind]string
	logger        *slog.Logger
}

// Option configures a Source.
type Option func(*Source)

// WithSignalQuery replaces the signal query for kind.
func WithSignalQuery(kind ir.AgentKind, query string) Option {
	return func(s *Source) {
		s.signalQueries[kind] = query
	}
}

// WithReportQuery replaces the pending-report query for kind. The query
// takes the limit as $1 and yields id, report_type, report_text,
// created_at.
func WithReportQuery(kind ir.AgentKind, query string) Option {
	return func(s *Source) {
		s.reportQueries[kind] = query
	}
}

// OpenPool connects a pool for cfg and checks it with a ping.
func OpenPool(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// New creates a Source over pool.
func New(pool *pgxpool.Pool, opts ...Option) *Source {
	return newSource(pool, opts...)
}

func newSource(db querier, opts ...Option) *Source {
	s := &Source{
		db:            db,
		signalQueries: make(map[ir.AgentKind]string, len(defaultSignalQueries)),
		reportQueries: make(map[ir.AgentKind]string),
		logger:        slog.Default().With("component", "pgsource"),
	}
	for kind, q := range defaultSignalQueries {
		s.signalQueries[kind] = q
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SignalQuery returns the query ListSignals runs for kind.
func (s *Source) SignalQuery(kind ir.AgentKind) (string, error) {
	q, ok := s.signalQueries[kind]
	if !ok || q == "" {
		return "", fmt.Errorf("%w %s", ErrNoQuery, kind)
	}
	return q, nil
}

// ReportQuery returns the query PendingReports runs for kind.
func (s *Source) ReportQuery(kind ir.AgentKind) string {
	if q, ok := s.reportQueries[kind]; ok && q != "" {
		return q
	}
	return reportQuery(kind)
}

// signalRow is one row of the signal column contract.
type signalRow struct {
	Token      string    `db:"token"`
	SourceID   string    `db:"source_id"`
	RawScore   *float64  `db:"raw_score"`
	Grade      *string   `db:"grade"`
	SignalType *string   `db:"signal_type"`
	ObservedAt time.Time `db:"observed_at"`
}

func (r signalRow) signal(kind ir.AgentKind) ir.Signal {
	sig := ir.Signal{
		AgentKind:   kind,
		TokenSymbol: r.Token,
		ObservedAt:  r.ObservedAt.UTC(),
		SourceID:    r.SourceID,
	}
	if r.RawScore != nil {
		sig.RawScore = *r.RawScore
	}
	if r.Grade != nil {
		sig.Grade = *r.Grade
	}
	if r.SignalType != nil {
		sig.SignalType = *r.SignalType
	}
	return sig
}

// ListSignals returns kind's signals observed in [from, to].
func (s *Source) ListSignals(ctx context.Context, kind ir.AgentKind, from, to time.Time) ([]ir.Signal, error) {
	q, err := s.SignalQuery(kind)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, q, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("list %s signals: %w", kind, err)
	}
	collected, err := pgx.CollectRows(rows, pgx.RowToStructByName[signalRow])
	if err != nil {
		return nil, fmt.Errorf("list %s signals: %w", kind, err)
	}

	signals := make([]ir.Signal, 0, len(collected))
	for _, r := range collected {
		if ir.NormalizeToken(r.Token) == "" {
			continue
		}
		signals = append(signals, r.signal(kind))
	}
	return signals, nil
}

// reportRow is one row of a pending-report query.
type reportRow struct {
	ID         string    `db:"id"`
	ReportType string    `db:"report_type"`
	ReportText string    `db:"report_text"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r reportRow) report(kind ir.AgentKind) ir.AgentReport {
	return ir.AgentReport{
		ReportID:  ReportID(kind, r.ID),
		AgentKind: kind,
		Period:    r.ReportType,
		Text:      r.ReportText,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

// ReportID is the claim report id of row id in kind's report table.
func ReportID(kind ir.AgentKind, id string) string {
	return string(kind) + "-" + id
}

// PendingReports returns up to limit of kind's reports that have no proof
// in the agent's own table. The score and top token are parsed from the
// report text by the claim publisher.
func (s *Source) PendingReports(ctx context.Context, kind ir.AgentKind, limit int) ([]ir.AgentReport, error) {
	rows, err := s.db.Query(ctx, s.ReportQuery(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("pending %s reports: %w", kind, err)
	}
	collected, err := pgx.CollectRows(rows, pgx.RowToStructByName[reportRow])
	if err != nil {
		return nil, fmt.Errorf("pending %s reports: %w", kind, err)
	}

	reports := make([]ir.AgentReport, len(collected))
	for i, r := range collected {
		reports[i] = r.report(kind)
	}
	return reports, nil
}
