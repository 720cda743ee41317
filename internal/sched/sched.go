// Package sched runs the engine's background jobs on fixed intervals with
// panic isolation and per-run timeouts. A failed run is logged and retried
// on the next tick; it never propagates into the decision path.
package sched

import (
	"context"
	"fmt"
	"sync"
	"time"

	"risk-manager/internal/logger"
	"risk-manager/internal/metrics"
)

// Job is one supervised periodic task.
type Job struct {
	Name       string
	Interval   time.Duration
	Timeout    time.Duration
	RunOnStart bool
	Run        func(ctx context.Context) error
}

// Runner owns the job goroutines.
type Runner struct {
	mu   sync.Mutex
	jobs []Job
	stop chan struct{}
	wg   sync.WaitGroup
}

func New() *Runner {
	return &Runner{stop: make(chan struct{})}
}

func (r *Runner) Add(job Job) error {
	if job.Name == "" {
		return fmt.Errorf("job name is empty")
	}
	if job.Interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", job.Name)
	}
	if job.Run == nil {
		return fmt.Errorf("job %s: run func is nil", job.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	return nil
}

// Start launches one goroutine per registered job.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range r.jobs {
		r.wg.Add(1)
		go r.loop(ctx, job)
	}
}

// Stop signals all jobs and waits for them to exit or the context to expire.
func (r *Runner) Stop(ctx context.Context) error {
	close(r.stop)
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *Runner) loop(ctx context.Context, job Job) {
	defer r.wg.Done()

	if job.RunOnStart {
		r.execute(ctx, job)
	}

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.execute(ctx, job)
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (r *Runner) execute(ctx context.Context, job Job) {
	runCtx := ctx
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	err := func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("panic: %v", rec)
			}
		}()
		return job.Run(runCtx)
	}()
	if err != nil {
		metrics.JobFailures.WithLabelValues(job.Name).Inc()
		logger.ErrorWithErr(ctx, "Background job failed, will retry on next tick", err, "job", job.Name)
		return
	}
	logger.Debug(ctx, "Background job completed", "job", job.Name)
}
