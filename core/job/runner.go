package job

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/trezcool/kickoff/core"
)

// Handler runs one job. Returning an error schedules a retry.
type Handler func(ctx context.Context, j Job) error

// RunnerConfig controls polling, concurrency and retries.
type RunnerConfig struct {
	PollInterval  time.Duration
	BatchSize     int
	Concurrency   int
	MaxAttempts   int
	RetryBackoff  time.Duration
	RetryMaxDelay time.Duration
	LockTTL       time.Duration
}

func (conf RunnerConfig) normalized() RunnerConfig {
	if conf.PollInterval <= 0 {
		conf.PollInterval = 30 * time.Second
	}
	if conf.BatchSize <= 0 {
		conf.BatchSize = 50
	}
	if conf.Concurrency <= 0 {
		conf.Concurrency = 4
	}
	if conf.MaxAttempts <= 0 {
		conf.MaxAttempts = 5
	}
	if conf.RetryBackoff <= 0 {
		conf.RetryBackoff = 30 * time.Second
	}
	if conf.RetryMaxDelay < conf.RetryBackoff {
		conf.RetryMaxDelay = conf.RetryBackoff
	}
	if conf.LockTTL <= 0 {
		conf.LockTTL = 5 * time.Minute
	}
	return conf
}

// ConfigFromCore builds a RunnerConfig from core.Conf.
func ConfigFromCore() RunnerConfig {
	jc := core.Conf.Jobs
	return RunnerConfig{
		PollInterval:  jc.PollInterval,
		BatchSize:     jc.BatchSize,
		Concurrency:   jc.Concurrency,
		MaxAttempts:   jc.MaxAttempts,
		RetryBackoff:  jc.RetryBackoff,
		RetryMaxDelay: jc.RetryMaxDelay,
		LockTTL:       jc.LockTTL,
	}
}

// Stats summarizes one polling pass.
type Stats struct {
	Due       int
	Conflicts int
	Done      int
	Retried   int
	Dead      int
}

type Runner struct {
	repo   Repository
	logger core.Logger
	conf   RunnerConfig

	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRunner(repo Repository, logger core.Logger, conf RunnerConfig) *Runner {
	return &Runner{
		repo:     repo,
		logger:   logger,
		conf:     conf.normalized(),
		handlers: make(map[string]Handler),
	}
}

// Handle registers the handler of a job kind.
func (r *Runner) Handle(kind string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

func (r *Runner) handler(kind string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

// Run polls for due jobs until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.conf.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("polling jobs", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce claims the due jobs and runs them on the worker pool, waiting for all of them.
func (r *Runner) RunOnce(ctx context.Context) (Stats, error) {
	var stats Stats
	jobs, err := r.repo.DueJobs(ctx, NowFunc().UTC(), r.conf.BatchSize)
	if err != nil {
		return stats, errors.Wrap(err, "loading due jobs")
	}
	stats.Due = len(jobs)

	var mu sync.Mutex
	count := func(f func(*Stats)) {
		mu.Lock()
		f(&stats)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.conf.Concurrency)
	for _, j := range jobs {
		j := j
		claimed, err := r.claim(ctx, j)
		if err != nil {
			if errors.Cause(err) == ErrConflict {
				count(func(s *Stats) { s.Conflicts++ })
				continue
			}
			r.logger.Error("claiming job", err, map[string]interface{}{"job_id": j.ID, "kind": j.Kind})
			continue
		}
		g.Go(func() error {
			status, err := r.execute(gctx, claimed)
			if err != nil {
				r.logger.Error("finishing job", err, map[string]interface{}{"job_id": claimed.ID, "kind": claimed.Kind})
				return nil
			}
			count(func(s *Stats) {
				switch status {
				case StatusDone:
					s.Done++
				case StatusPending:
					s.Retried++
				case StatusDead:
					s.Dead++
				}
			})
			return nil
		})
	}
	return stats, g.Wait()
}

// claim marks j running with a lock, failing with ErrConflict if another worker got it first.
func (r *Runner) claim(ctx context.Context, j Job) (Job, error) {
	now := NowFunc().UTC()
	j.Status = StatusRunning
	j.Attempts++
	j.LockedUntil = now.Add(r.conf.LockTTL)
	j.UpdatedAt = now
	return r.repo.UpdateJob(ctx, j)
}

// execute runs the handler and records the outcome; it returns the job's new status.
func (r *Runner) execute(ctx context.Context, j Job) (string, error) {
	runErr := r.safeRun(ctx, j)

	now := NowFunc().UTC()
	j.LockedUntil = time.Time{}
	j.UpdatedAt = now
	switch {
	case runErr == nil:
		j.Status = StatusDone
		j.LastError = ""
	case errors.Cause(runErr) == errUnknownKind || j.Attempts >= r.conf.MaxAttempts:
		j.Status = StatusDead
		j.LastError = runErr.Error()
		r.logger.Error("job is dead", runErr, map[string]interface{}{"job_id": j.ID, "kind": j.Kind, "attempts": j.Attempts})
	default:
		j.Status = StatusPending
		j.LastError = runErr.Error()
		j.RunAt = now.Add(r.backoff(j.Attempts))
		r.logger.Warn("job failed, retrying", runErr, map[string]interface{}{"job_id": j.ID, "kind": j.Kind, "run_at": j.RunAt})
	}

	// the job context may be cancelled on shutdown, the outcome must still be saved
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	_, err := r.repo.UpdateJob(saveCtx, j)
	if errors.Cause(err) == ErrDuplicate {
		// a newer pending job took over the key
		j.Status = StatusDead
		j.LastError += " (superseded)"
		_, err = r.repo.UpdateJob(saveCtx, j)
	}
	if err != nil {
		return "", errors.Wrapf(err, "saving job %s", j.ID)
	}
	return j.Status, nil
}

var errUnknownKind = errors.New("no handler for job kind")

func (r *Runner) safeRun(ctx context.Context, j Job) (err error) {
	h, ok := r.handler(j.Kind)
	if !ok {
		return errors.Wrap(errUnknownKind, j.Kind)
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v\n%s", rec, debug.Stack())
		}
	}()
	return h(ctx, j)
}

// backoff doubles RetryBackoff per previous attempt, capped at RetryMaxDelay.
func (r *Runner) backoff(attempts int) time.Duration {
	delay := r.conf.RetryBackoff
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= r.conf.RetryMaxDelay {
			return r.conf.RetryMaxDelay
		}
	}
	return delay
}
