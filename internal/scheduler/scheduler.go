// Package scheduler fans a run's jobs out over a bounded worker pool
// and collects their outcomes into a RunSummary.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/juju/clock"
	"golang.org/x/sync/semaphore"

	"github.com/superdup-project/superdup/pkg/logging"
	"github.com/superdup-project/superdup/pkg/model"
	"github.com/superdup-project/superdup/pkg/uuidutil"
)

// JobRunner executes one job end to end. Satisfied by executor.Executor.
type JobRunner interface {
	Run(ctx context.Context, job model.Job) model.JobOutcome
}

// Scheduler runs jobs with at most Concurrency in flight at once.
// Outcomes are reported in configuration order regardless of which job
// finishes first.
type Scheduler struct {
	Exec        JobRunner
	Concurrency int64
	Clock       clock.Clock
	Log         *logging.Logger
}

// RunAll executes every job and returns the aggregated summary. A
// failing or panicking job never prevents the others from running.
// When ctx is cancelled, jobs not yet started are recorded as skipped
// and in-flight jobs are left to observe the cancellation themselves.
func (s *Scheduler) RunAll(ctx context.Context, jobs []model.Job) model.RunSummary {
	clk := s.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	log := s.Log
	if log == nil {
		log = logging.NewLogger(logging.LevelError, logging.FormatText)
	}

	concurrency := s.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	summary := model.RunSummary{
		RunID:     uuidutil.NewV4(),
		StartedAt: clk.Now(),
	}
	log.Info("run started", map[string]any{
		"run_id":      summary.RunID,
		"jobs":        len(jobs),
		"concurrency": concurrency,
	})

	sem := semaphore.NewWeighted(concurrency)
	outcomes := make([]model.JobOutcome, len(jobs))
	var wg sync.WaitGroup
	for i, job := range jobs {
		if err := sem.Acquire(ctx, 1); err != nil {
			outcomes[i] = model.JobOutcome{
				Job:    job.Name,
				Status: model.JobSkipped,
				Reason: "run cancelled before job started",
			}
			continue
		}
		wg.Add(1)
		go func(i int, job model.Job) {
			defer wg.Done()
			defer sem.Release(1)
			outcomes[i] = s.runOne(ctx, job, log)
		}(i, job)
	}
	wg.Wait()

	summary.Outcomes = outcomes
	summary.FinishedAt = clk.Now()
	log.Info("run finished", map[string]any{
		"run_id":    summary.RunID,
		"exit_code": summary.ExitCode(),
	})
	return summary
}

// runOne isolates a single job. A panic inside one job's execution is
// converted into a failed outcome so the rest of the run proceeds.
func (s *Scheduler) runOne(ctx context.Context, job model.Job, log *logging.Logger) (out model.JobOutcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("job panicked", map[string]any{
				"job":   job.Name,
				"panic": fmt.Sprint(r),
			})
			out = model.JobOutcome{
				Job:    job.Name,
				Status: model.JobFailed,
				Reason: fmt.Sprintf("internal error: %v", r),
			}
		}
	}()
	return s.Exec.Run(ctx, job)
}
