package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/halwer/rolo/internal/storage"
)

// JobStore abstracts the queue and housekeeping operations the runner needs.
type JobStore interface {
	ListQueuedJobs(userID string, limit int) ([]storage.Job, error)
	ClaimJob(userID, id string) (bool, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string, maxAttempts int) (bool, error)
	FailJobTerminal(id string, errMsg string) error
	ReleaseJob(id string, errMsg string) error
	RequeueStuckJobs(cutoff time.Time) (int, error)
	UsersWithQueuedJobs() ([]string, error)
	PruneUsage(before time.Time) (int, error)
}

// Handler processes jobs of a single kind.
type Handler interface {
	Handle(ctx context.Context, job storage.Job) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, job storage.Job) error

func (f HandlerFunc) Handle(ctx context.Context, job storage.Job) error {
	return f(ctx, job)
}

// Summary reports what a single queue pass did. Deferred jobs went back to
// the queue without charging an attempt and do not count as processed.
type Summary struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Deferred  int `json:"deferred"`
}

// outcome is how one claimed job ended.
type outcome int

const (
	outcomeFailed outcome = iota
	outcomeSucceeded
	outcomeDeferred
)

// Config holds the runner's tuning knobs. Zero values fall back to defaults.
type Config struct {
	PollInterval      time.Duration
	BatchSize         int
	MaxAttempts       int
	ProcessingTimeout time.Duration
	StuckAfter        time.Duration
	Backoff           Backoff
}

// Runner drains the job queue. Handlers are registered per job kind; claim
// conflicts with other runners are resolved by the store, so several Runner
// instances can share one database.
type Runner struct {
	store       JobStore
	handlers    map[string]Handler
	backoff     Backoff
	poll        time.Duration
	batchSize   int
	maxAttempts int
	timeout     time.Duration
	stuckAfter  time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// NewRunner creates a Runner with the given store and config.
func NewRunner(store JobStore, cfg Config) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = 5 * time.Minute
	}
	if cfg.StuckAfter <= 0 {
		cfg.StuckAfter = 10 * time.Minute
	}
	if cfg.Backoff == (Backoff{}) {
		cfg.Backoff = DefaultBackoff()
	}
	return &Runner{
		store:       store,
		handlers:    make(map[string]Handler),
		backoff:     cfg.Backoff,
		poll:        cfg.PollInterval,
		batchSize:   cfg.BatchSize,
		maxAttempts: cfg.MaxAttempts,
		timeout:     cfg.ProcessingTimeout,
		stuckAfter:  cfg.StuckAfter,
		logger:      slog.Default(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Register installs the handler for a job kind. Jobs of a kind with no
// handler fail terminally when claimed.
func (r *Runner) Register(kind string, h Handler) {
	r.handlers[kind] = h
}

// Run polls for jobs until ctx is cancelled. Every ten poll intervals it also
// sweeps stalled claims back into the queue and prunes old usage counters.
func (r *Runner) Run(ctx context.Context) {
	sweepEvery := 10 * r.poll
	nextSweep := r.now().Add(sweepEvery)

	for {
		if ctx.Err() != nil {
			return
		}

		if r.now().After(nextSweep) {
			r.sweep()
			nextSweep = r.now().Add(sweepEvery)
		}

		sum, err := r.RunAll(ctx)
		if err != nil {
			r.logger.Error("runner iteration failed", "error", err)
		}
		if sum.Processed > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(r.poll):
		}
	}
}

// RunAll runs one pass for every user with queued work and merges the
// summaries. A failing pass is logged and skipped so one user's queue
// trouble cannot starve the rest.
func (r *Runner) RunAll(ctx context.Context) (Summary, error) {
	var total Summary

	users, err := r.store.UsersWithQueuedJobs()
	if err != nil {
		return total, fmt.Errorf("listing users with queued jobs: %w", err)
	}

	for _, userID := range users {
		if ctx.Err() != nil {
			return total, nil
		}
		sum, err := r.RunPass(ctx, userID)
		if err != nil {
			r.logger.Error("queue pass failed", "user_id", userID, "error", err)
			continue
		}
		total.Processed += sum.Processed
		total.Succeeded += sum.Succeeded
		total.Failed += sum.Failed
		total.Deferred += sum.Deferred
	}
	return total, nil
}

// RunPass claims and processes one batch of eligible jobs for a user.
// Handler failures are recorded on the job and counted, not returned; the
// error covers queue access only. Cancelling ctx stops the pass cleanly
// after the job in flight.
func (r *Runner) RunPass(ctx context.Context, userID string) (Summary, error) {
	var sum Summary

	jobs, err := r.store.ListQueuedJobs(userID, r.batchSize)
	if err != nil {
		return sum, fmt.Errorf("listing queued jobs for %s: %w", userID, err)
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			return sum, nil
		}
		if !r.backoff.Eligible(job.Attempts, job.UpdatedAt, r.now()) {
			continue
		}

		claimed, err := r.store.ClaimJob(userID, job.ID)
		if err != nil {
			return sum, fmt.Errorf("claiming job %s: %w", job.ID, err)
		}
		if !claimed {
			continue
		}

		switch r.processJob(ctx, job) {
		case outcomeSucceeded:
			sum.Processed++
			sum.Succeeded++
		case outcomeDeferred:
			sum.Deferred++
		default:
			sum.Processed++
			sum.Failed++
		}
	}
	return sum, nil
}

// processJob dispatches one claimed job and settles its outcome in the store.
func (r *Runner) processJob(ctx context.Context, job storage.Job) outcome {
	handler, ok := r.handlers[job.Kind]
	if !ok {
		r.logger.Warn("job has no handler", "job_id", job.ID, "kind", job.Kind)
		if err := r.store.FailJobTerminal(job.ID, fmt.Sprintf("unknown job kind %q", job.Kind)); err != nil {
			r.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", err)
		}
		return outcomeFailed
	}

	jobCtx, cancel := context.WithTimeout(ctx, r.timeout)
	err := handler.Handle(jobCtx, job)
	cancel()

	if err != nil {
		if IsThrottled(err) {
			// Not the job's fault; release it unscathed so the attempt
			// budget survives until the quota window resets.
			r.logger.Info("job deferred until quota window resets", "job_id", job.ID, "kind", job.Kind, "error", err)
			if relErr := r.store.ReleaseJob(job.ID, err.Error()); relErr != nil {
				r.logger.Error("failed to release job", "job_id", job.ID, "error", relErr)
			}
			return outcomeDeferred
		}
		r.logger.Warn("job failed", "job_id", job.ID, "kind", job.Kind, "attempt", job.Attempts+1, "error", err)
		if IsPermanent(err) {
			if failErr := r.store.FailJobTerminal(job.ID, err.Error()); failErr != nil {
				r.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
			}
		} else {
			if _, failErr := r.store.FailJob(job.ID, err.Error(), r.maxAttempts); failErr != nil {
				r.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
			}
		}
		return outcomeFailed
	}

	if err := r.store.CompleteJob(job.ID); err != nil {
		r.logger.Error("failed to mark job as done", "job_id", job.ID, "error", err)
		return outcomeFailed
	}
	return outcomeSucceeded
}

func (r *Runner) sweep() {
	cutoff := r.now().Add(-r.stuckAfter)
	n, err := r.store.RequeueStuckJobs(cutoff)
	if err != nil {
		r.logger.Error("requeuing stuck jobs failed", "error", err)
	} else if n > 0 {
		r.logger.Warn("requeued stalled jobs", "count", n)
	}

	if _, err := r.store.PruneUsage(r.now().Add(-time.Hour)); err != nil {
		r.logger.Error("pruning usage counters failed", "error", err)
	}
}
