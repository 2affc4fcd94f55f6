// Package retrypolicy wraps one step execution with bounded retry and
// exponential backoff, classifying each attempt as retryable or fatal.
package retrypolicy

import (
	"context"
	"errors"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"

	"github.com/superdup-project/superdup/internal/runner"
	"github.com/superdup-project/superdup/pkg/errclass"
	"github.com/superdup-project/superdup/pkg/logging"
	"github.com/superdup-project/superdup/pkg/model"
)

// Sentinels carried through retry.Call to classify attempt outcomes.
var (
	errStepFailed   = errors.New("step exited non-zero")
	errStepTimedOut = errors.New("step timed out")
)

// AttemptFunc runs one attempt of a step and reports the process
// result. An error means the process could not be launched.
type AttemptFunc func(ctx context.Context) (runner.Result, error)

// Policy holds the retry tuning for one run. The clock is injectable
// so tests drive the backoff without sleeping.
type Policy struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	Clock       clock.Clock
	Log         *logging.Logger
}

// Retryable reports whether a step kind may be retried at all.
// Backup and prune are idempotent from the tool's point of view; hooks
// may have side effects that are not, and check/verify repeats would
// only repeat the same verdict.
func Retryable(kind model.StepKind) bool {
	return kind == model.StepBackup || kind == model.StepPrune
}

// Execute runs the step until success, fatal failure, or exhausted
// attempts, and returns the StepResult of the final attempt annotated
// with the number of attempts made.
//
// Classification: a non-zero exit of a retryable step retries with
// exponential backoff (base doubled per attempt, capped); a timeout is
// retryable exactly once more before turning fatal; launch failures
// and non-retryable kinds fail immediately.
func (p Policy) Execute(ctx context.Context, kind model.StepKind, attempt AttemptFunc) model.StepResult {
	clk := p.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	log := p.Log
	if log == nil {
		log = logging.NewLogger(logging.LevelError, logging.FormatText)
	}

	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 || !Retryable(kind) {
		maxAttempts = 1
	}

	var (
		attempts  int
		timeouts  int
		last      runner.Result
		launchErr error
	)

	start := clk.Now()
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			attempts++
			res, err := attempt(ctx)
			if err != nil {
				launchErr = err
				return err
			}
			last = res
			if res.TimedOut {
				timeouts++
				return errStepTimedOut
			}
			if res.ExitCode != 0 {
				return errStepFailed
			}
			return nil
		},
		IsFatalError: func(err error) bool {
			if errors.Is(err, errclass.ErrLaunchFailed) {
				return true
			}
			if errors.Is(err, errStepTimedOut) && timeouts >= 2 {
				return true
			}
			return false
		},
		NotifyFunc: func(err error, attempt int) {
			log.Warn("step attempt failed", map[string]any{
				"step":    string(kind),
				"attempt": attempt,
				"error":   err.Error(),
			})
		},
		Attempts:    maxAttempts,
		Delay:       p.BackoffBase,
		MaxDelay:    p.BackoffMax,
		BackoffFunc: retry.DoubleDelay,
		Clock:       clk,
		Stop:        ctx.Done(),
	})

	sr := model.StepResult{
		Kind:      kind,
		Attempts:  attempts,
		Duration:  clk.Now().Sub(start),
		ExitCode:  last.ExitCode,
		Output:    last.Output,
		Truncated: last.Truncated,
	}

	switch {
	case launchErr != nil:
		sr.Status = model.StepLaunchFailed
		sr.ExitCode = -1
		sr.Output = ""
		sr.Truncated = false
		sr.Error = launchErr.Error()
	case err == nil:
		sr.Status = model.StepSuccess
	case last.TimedOut:
		sr.Status = model.StepTimedOut
		sr.Error = errclass.ErrStepTimeout.WithMessagef("after %d attempt(s)", attempts).Error()
	default:
		sr.Status = model.StepFailed
		if retry.IsRetryStopped(err) {
			sr.Error = "run cancelled"
		}
	}
	return sr
}
