package scheduler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/superdup-project/superdup/internal/executor"
	"github.com/superdup-project/superdup/internal/runner"
	"github.com/superdup-project/superdup/internal/scheduler"
	"github.com/superdup-project/superdup/internal/stamp"
	"github.com/superdup-project/superdup/pkg/color"
	"github.com/superdup-project/superdup/pkg/model"
)

type funcRunner func(ctx context.Context, job model.Job) model.JobOutcome

func (f funcRunner) Run(ctx context.Context, job model.Job) model.JobOutcome {
	return f(ctx, job)
}

func jobs(names ...string) []model.Job {
	var out []model.Job
	for _, n := range names {
		out = append(out, model.Job{Name: n, Enabled: true})
	}
	return out
}

func TestRunAll_OutcomesInConfigOrder(t *testing.T) {
	// First job blocks until the second finishes, so completion order is
	// the reverse of configuration order.
	bDone := make(chan struct{})
	s := &scheduler.Scheduler{
		Concurrency: 2,
		Exec: funcRunner(func(_ context.Context, job model.Job) model.JobOutcome {
			if job.Name == "a" {
				<-bDone
			} else {
				defer close(bDone)
			}
			return model.JobOutcome{Job: job.Name, Status: model.JobSuccess}
		}),
	}

	sum := s.RunAll(context.Background(), jobs("a", "b"))

	require.Len(t, sum.Outcomes, 2)
	assert.Equal(t, "a", sum.Outcomes[0].Job)
	assert.Equal(t, "b", sum.Outcomes[1].Job)
	assert.Equal(t, 0, sum.ExitCode())
}

func TestRunAll_ConcurrencyBound(t *testing.T) {
	var mu sync.Mutex
	inFlight, peak := 0, 0
	s := &scheduler.Scheduler{
		Concurrency: 2,
		Exec: funcRunner(func(_ context.Context, job model.Job) model.JobOutcome {
			mu.Lock()
			inFlight++
			if inFlight > peak {
				peak = inFlight
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			inFlight--
			mu.Unlock()
			return model.JobOutcome{Job: job.Name, Status: model.JobSuccess}
		}),
	}

	s.RunAll(context.Background(), jobs("a", "b", "c", "d", "e"))

	assert.LessOrEqual(t, peak, 2)
	assert.GreaterOrEqual(t, peak, 1)
}

func TestRunAll_PanicIsolated(t *testing.T) {
	s := &scheduler.Scheduler{
		Concurrency: 1,
		Exec: funcRunner(func(_ context.Context, job model.Job) model.JobOutcome {
			if job.Name == "bad" {
				panic("boom")
			}
			return model.JobOutcome{Job: job.Name, Status: model.JobSuccess}
		}),
	}

	sum := s.RunAll(context.Background(), jobs("good", "bad", "also-good"))

	require.Len(t, sum.Outcomes, 3)
	assert.Equal(t, model.JobSuccess, sum.Outcomes[0].Status)
	assert.Equal(t, model.JobFailed, sum.Outcomes[1].Status)
	assert.Contains(t, sum.Outcomes[1].Reason, "boom")
	assert.Equal(t, model.JobSuccess, sum.Outcomes[2].Status)
	assert.Equal(t, 1, sum.ExitCode())
}

func TestRunAll_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &scheduler.Scheduler{
		Concurrency: 1,
		Exec: funcRunner(func(_ context.Context, job model.Job) model.JobOutcome {
			t.Fatal("no job may start after cancellation")
			return model.JobOutcome{}
		}),
	}

	sum := s.RunAll(ctx, jobs("a", "b"))

	require.Len(t, sum.Outcomes, 2)
	for _, o := range sum.Outcomes {
		assert.Equal(t, model.JobSkipped, o.Status)
		assert.Contains(t, o.Reason, "cancelled")
	}
	assert.Equal(t, 0, sum.ExitCode(), "a cancelled run with no failures exits zero")
}

func TestRunAll_SummaryMetadata(t *testing.T) {
	s := &scheduler.Scheduler{
		Exec: funcRunner(func(_ context.Context, job model.Job) model.JobOutcome {
			return model.JobOutcome{Job: job.Name, Status: model.JobSuccess}
		}),
	}

	sum := s.RunAll(context.Background(), jobs("a"))

	assert.Len(t, sum.RunID, 36)
	assert.False(t, sum.StartedAt.IsZero())
	assert.False(t, sum.FinishedAt.Before(sum.StartedAt))
}

// End-to-end shape of a small run: one real executor over fake
// collaborators, one enabled job with retention, one disabled job.
func TestRunAll_ExecutorScenario(t *testing.T) {
	runs := &recordingRunner{}
	exec := &executor.Executor{
		ToolCommand: "duplicacy",
		Runner:      runs,
		Locker:      grantingLocker{},
		Stamps:      stamp.NewStore(filepath.Join(t.TempDir(), "stamps.json")),
	}
	s := &scheduler.Scheduler{Exec: exec, Concurrency: 2}

	sum := s.RunAll(context.Background(), []model.Job{
		{Name: "a", Source: "/srv/a", Target: "s3://b/a",
			Retention: model.Retention{KeepDaily: 7}, Enabled: true},
		{Name: "b", Source: "/srv/b", Target: "s3://b/b"},
	})

	require.Len(t, sum.Outcomes, 2)
	assert.Equal(t, model.JobSuccess, sum.Outcomes[0].Status)
	assert.Equal(t, model.JobDisabled, sum.Outcomes[1].Status)
	assert.Equal(t, 0, sum.ExitCode())
	assert.Equal(t, []string{"backup", "prune"}, runs.tags())
}

type recordingRunner struct {
	mu    sync.Mutex
	specs []runner.Spec
}

func (r *recordingRunner) Run(_ context.Context, spec runner.Spec) (runner.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs = append(r.specs, spec)
	return runner.Result{ExitCode: 0}, nil
}

func (r *recordingRunner) tags() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var tags []string
	for _, s := range r.specs {
		tags = append(tags, s.Tag)
	}
	return tags
}

type grantingLocker struct{}

type noopHandle struct{}

func (noopHandle) Release() error { return nil }

func (grantingLocker) Acquire(model.Job) (executor.LockHandle, error) {
	return noopHandle{}, nil
}

func TestReporter_Text(t *testing.T) {
	color.Disable()
	sum := &model.RunSummary{
		RunID:      "test-run",
		StartedAt:  time.Now().Add(-3 * time.Second),
		FinishedAt: time.Now(),
		Outcomes: []model.JobOutcome{
			{Job: "documents", Status: model.JobSuccess},
			{Job: "photos", Status: model.JobFailed, FirstFatal: model.StepBackup, Steps: []model.StepResult{
				{Kind: model.StepBackup, Status: model.StepFailed, ExitCode: 2, Attempts: 3},
			}},
			{Job: "mail", Status: model.JobSkipped, Reason: "lock held by pid 99"},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, (&scheduler.Reporter{Out: &buf}).Report(sum))

	out := buf.String()
	assert.Contains(t, out, "documents")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "backup: exit 2 after 3 attempt(s)")
	assert.Contains(t, out, "lock held by pid 99")
	assert.Contains(t, out, "1 succeeded, 1 failed, 1 skipped, 0 disabled")
}

func TestReporter_JSON(t *testing.T) {
	sum := &model.RunSummary{
		RunID: "json-run",
		Outcomes: []model.JobOutcome{
			{Job: "documents", Status: model.JobSuccess},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, (&scheduler.Reporter{Out: &buf, JSON: true}).Report(sum))

	var decoded model.RunSummary
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "json-run", decoded.RunID)
	require.Len(t, decoded.Outcomes, 1)
	assert.Equal(t, model.JobSuccess, decoded.Outcomes[0].Status)
}
