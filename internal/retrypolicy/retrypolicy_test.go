package retrypolicy_test

import (
	"context"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/superdup-project/superdup/internal/retrypolicy"
	"github.com/superdup-project/superdup/internal/runner"
	"github.com/superdup-project/superdup/pkg/errclass"
	"github.com/superdup-project/superdup/pkg/model"
)

const waitTimeout = 10 * time.Second

func policy(clk *testclock.Clock) retrypolicy.Policy {
	p := retrypolicy.Policy{
		MaxAttempts: 3,
		BackoffBase: time.Second,
		BackoffMax:  time.Minute,
	}
	if clk != nil {
		p.Clock = clk
	}
	return p
}

// scripted returns an AttemptFunc that replays the given results in order.
func scripted(results ...runner.Result) retrypolicy.AttemptFunc {
	i := 0
	return func(ctx context.Context) (runner.Result, error) {
		res := results[i]
		if i < len(results)-1 {
			i++
		}
		return res, nil
	}
}

func TestExecute_SuccessFirstAttempt(t *testing.T) {
	res := policy(nil).Execute(context.Background(), model.StepBackup,
		scripted(runner.Result{ExitCode: 0, Output: "ok"}))

	assert.Equal(t, model.StepSuccess, res.Status)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "ok", res.Output)
}

func TestExecute_RetriesThenSucceeds(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	done := make(chan model.StepResult, 1)

	go func() {
		done <- policy(clk).Execute(context.Background(), model.StepBackup,
			scripted(
				runner.Result{ExitCode: 1},
				runner.Result{ExitCode: 1},
				runner.Result{ExitCode: 0, Output: "third time lucky"},
			))
	}()

	// Backoff schedule is 1s then 2s (base doubled per attempt).
	require.NoError(t, clk.WaitAdvance(time.Second, waitTimeout, 1))
	require.NoError(t, clk.WaitAdvance(2*time.Second, waitTimeout, 1))

	res := <-done
	assert.Equal(t, model.StepSuccess, res.Status)
	assert.Equal(t, 3, res.Attempts)
	assert.GreaterOrEqual(t, res.Duration, 3*time.Second)
	assert.Equal(t, "third time lucky", res.Output)
}

func TestExecute_ExhaustsAttempts(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	done := make(chan model.StepResult, 1)

	go func() {
		done <- policy(clk).Execute(context.Background(), model.StepPrune,
			scripted(runner.Result{ExitCode: 2, Output: "still broken"}))
	}()

	require.NoError(t, clk.WaitAdvance(time.Second, waitTimeout, 1))
	require.NoError(t, clk.WaitAdvance(2*time.Second, waitTimeout, 1))

	res := <-done
	assert.Equal(t, model.StepFailed, res.Status)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 2, res.ExitCode)
	assert.Equal(t, "still broken", res.Output)
}

func TestExecute_HooksNeverRetried(t *testing.T) {
	for _, kind := range []model.StepKind{model.StepPreHook, model.StepPostHook, model.StepCheck, model.StepVerify} {
		res := policy(nil).Execute(context.Background(), kind,
			scripted(runner.Result{ExitCode: 1}))
		assert.Equal(t, model.StepFailed, res.Status, string(kind))
		assert.Equal(t, 1, res.Attempts, string(kind))
	}
}

func TestExecute_TimeoutRetriedOnce(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	done := make(chan model.StepResult, 1)

	go func() {
		done <- policy(clk).Execute(context.Background(), model.StepBackup,
			scripted(
				runner.Result{TimedOut: true, ExitCode: -1},
				runner.Result{TimedOut: true, ExitCode: -1},
				runner.Result{ExitCode: 0},
			))
	}()

	// One backoff between the two timed-out attempts; the second
	// timeout is fatal, so the third scripted result is never reached.
	require.NoError(t, clk.WaitAdvance(time.Second, waitTimeout, 1))

	res := <-done
	assert.Equal(t, model.StepTimedOut, res.Status)
	assert.Equal(t, 2, res.Attempts)
}

func TestExecute_TimeoutThenSuccess(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	done := make(chan model.StepResult, 1)

	go func() {
		done <- policy(clk).Execute(context.Background(), model.StepBackup,
			scripted(
				runner.Result{TimedOut: true, ExitCode: -1},
				runner.Result{ExitCode: 0},
			))
	}()

	require.NoError(t, clk.WaitAdvance(time.Second, waitTimeout, 1))

	res := <-done
	assert.Equal(t, model.StepSuccess, res.Status)
	assert.Equal(t, 2, res.Attempts)
}

func TestExecute_LaunchFailureFatal(t *testing.T) {
	res := policy(nil).Execute(context.Background(), model.StepBackup,
		func(ctx context.Context) (runner.Result, error) {
			return runner.Result{}, errclass.ErrLaunchFailed.WithMessage("binary not found")
		})

	assert.Equal(t, model.StepLaunchFailed, res.Status)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, -1, res.ExitCode)
	assert.Contains(t, res.Error, "binary not found")
}

func TestExecute_CancelStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	res := policy(nil).Execute(ctx, model.StepBackup,
		func(context.Context) (runner.Result, error) {
			cancel()
			return runner.Result{ExitCode: 1}, nil
		})

	assert.Equal(t, model.StepFailed, res.Status)
	assert.Equal(t, 1, res.Attempts)
}
