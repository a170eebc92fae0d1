package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Job is a recurring unit of work.
//
// Run is called once when the engine starts, then every Interval. A run
// that returns an error is logged and the job waits for its next interval.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Engine runs registered jobs until its context is cancelled.
//
// Thread-safety model:
//   - Register(): before Run only
//   - Run(): called from exactly one goroutine
//   - Trigger(), RunOnce(): safe from any goroutine
//
// INVARIANTS:
//   - Job names are unique
//   - Runs of the same job never overlap within one Engine
type Engine struct {
	logger *slog.Logger

	mu     sync.Mutex
	jobs   []*registeredJob
	byName map[string]*registeredJob
}

type registeredJob struct {
	Job

	// running serializes runs of this job across the loop and RunOnce.
	running sync.Mutex

	// trigger has capacity 1: repeated Trigger calls before the job wakes
	// collapse into a single extra run.
	trigger chan struct{}
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithLogger sets the logger jobs are reported on.
//
// Default: slog.Default() with component=engine.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an Engine with no jobs.
func New(opts ...EngineOption) *Engine {
	e := &Engine{
		logger: slog.Default().With("component", "engine"),
		byName: make(map[string]*registeredJob),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register adds a job. Returns a RuntimeError if the name is taken or the
// job is malformed.
func (e *Engine) Register(job Job) error {
	if job.Name == "" {
		return fmt.Errorf("register job: name is required")
	}
	if job.Run == nil {
		return fmt.Errorf("register job %s: run func is required", job.Name)
	}
	if job.Interval <= 0 {
		return fmt.Errorf("register job %s: interval must be positive, got %s", job.Name, job.Interval)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.byName[job.Name]; ok {
		return &RuntimeError{
			Code:    ErrCodeDuplicateJob,
			Message: "job already registered",
			Job:     job.Name,
		}
	}
	rj := &registeredJob{Job: job, trigger: make(chan struct{}, 1)}
	e.jobs = append(e.jobs, rj)
	e.byName[job.Name] = rj
	return nil
}

// Jobs returns registered job names in registration order.
func (e *Engine) Jobs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	names := make([]string, len(e.jobs))
	for i, j := range e.jobs {
		names[i] = j.Name
	}
	return names
}

// Run starts every registered job and blocks until ctx is cancelled.
//
// Returns ctx.Err() on cancellation. Job failures never end Run: they are
// logged and counted, following the log-and-continue model.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	jobs := append([]*registeredJob(nil), e.jobs...)
	e.mu.Unlock()

	e.logger.Info("engine starting", "jobs", len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	for _, j := range jobs {
		j := j
		g.Go(func() error {
			e.loop(gctx, j)
			return nil
		})
	}
	_ = g.Wait()

	e.logger.Info("engine stopping: context cancelled")
	return ctx.Err()
}

func (e *Engine) loop(ctx context.Context, j *registeredJob) {
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		if err := e.execute(ctx, j); err != nil {
			logJobError(e.logger, j.Name, err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-j.trigger:
		}
	}
}

// RunOnce runs the named job immediately and returns its error.
// If a run of the same job is in progress, RunOnce waits for it to finish
// and then runs again.
func (e *Engine) RunOnce(ctx context.Context, name string) error {
	j, err := e.lookup(name)
	if err != nil {
		return err
	}
	return e.execute(ctx, j)
}

// Trigger asks the named job's loop to run as soon as its current run (if
// any) completes. Non-blocking; repeated triggers coalesce.
func (e *Engine) Trigger(name string) error {
	j, err := e.lookup(name)
	if err != nil {
		return err
	}
	select {
	case j.trigger <- struct{}{}:
	default:
	}
	return nil
}

func (e *Engine) lookup(name string) (*registeredJob, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	j, ok := e.byName[name]
	if !ok {
		return nil, &RuntimeError{
			Code:    ErrCodeUnknownJob,
			Message: "no such job",
			Job:     name,
		}
	}
	return j, nil
}

// execute runs j once with panic recovery, timing and metrics.
func (e *Engine) execute(ctx context.Context, j *registeredJob) (err error) {
	j.running.Lock()
	defer j.running.Unlock()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = NewPanicError(j.Name, r)
		}
		elapsed := time.Since(start)
		jobDuration.WithLabelValues(j.Name).Observe(elapsed.Seconds())
		jobRuns.WithLabelValues(j.Name, outcomeLabel(err)).Inc()
		if err == nil {
			e.logger.Debug("job finished", "job", j.Name, "elapsed", elapsed)
		}
	}()

	if runErr := j.Run(ctx); runErr != nil {
		return NewRunError(j.Name, runErr)
	}
	return nil
}

// logJobError logs a failed run with enough context to find it again.
func logJobError(logger *slog.Logger, job string, err error) {
	if IsPanicError(err) {
		logger.Error("job panicked", "job", job, "error", err)
		return
	}
	logger.Error("job failed", "job", job, "error", err)
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsPanicError(err):
		return "panic"
	default:
		return "error"
	}
}
