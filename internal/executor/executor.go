// Package executor runs one job's step sequence: pre-hook, backup,
// prune, check/verify, post-hook. The sequence is an explicit state
// machine so each transition is a single place in the code and every
// terminal state releases the job's lock.
package executor

import (
	"context"
	"errors"
	"time"

	"github.com/juju/clock"
	"github.com/kballard/go-shellquote"

	"github.com/superdup-project/superdup/internal/retrypolicy"
	"github.com/superdup-project/superdup/internal/runner"
	"github.com/superdup-project/superdup/internal/stamp"
	"github.com/superdup-project/superdup/internal/steplog"
	"github.com/superdup-project/superdup/pkg/errclass"
	"github.com/superdup-project/superdup/pkg/logging"
	"github.com/superdup-project/superdup/pkg/model"
)

// state is one node of the per-job machine.
type state int

const (
	stateLocking state = iota
	statePreHook
	stateBackup
	statePrune
	stateVerify
	statePostHook
	stateDone
	stateFailed
	stateSkipped
)

// StepRunner launches one external command. Satisfied by
// *runner.Runner; tests substitute a fake.
type StepRunner interface {
	Run(ctx context.Context, spec runner.Spec) (runner.Result, error)
}

// LockHandle is a held lock whose Release is idempotent.
type LockHandle interface {
	Release() error
}

// Locker grants per-key locks. Acquisition is non-blocking: a held
// lock is reported immediately so the job can be skipped.
type Locker interface {
	Acquire(job model.Job) (LockHandle, error)
}

// Executor runs jobs. All collaborators are injected; there is no
// hidden global state shared between concurrently running jobs.
type Executor struct {
	ToolCommand string
	ToolEnv     map[string]string

	Runner StepRunner
	Locker Locker
	Policy retrypolicy.Policy

	Stamps         *stamp.Store
	VerifyInterval time.Duration
	ForceVerify    bool

	// StepLogs is optional; nil disables per-step log files.
	StepLogs *steplog.Writer

	Clock clock.Clock
	Log   *logging.Logger
}

// Run drives the job through the state machine and returns its
// outcome. The outcome is complete when Run returns: one terminal
// status, the ordered step results, and the first fatal step if any.
func (e *Executor) Run(ctx context.Context, job model.Job) model.JobOutcome {
	log := e.logger().WithFields(map[string]any{"job": job.Name})
	outcome := model.JobOutcome{Job: job.Name}

	if !job.Enabled {
		log.Info("job disabled, skipping")
		outcome.Status = model.JobDisabled
		return outcome
	}

	handle, err := e.Locker.Acquire(job)
	if err != nil {
		if errors.Is(err, errclass.ErrLockHeld) {
			log.Warn("lock held elsewhere, skipping job", map[string]any{"error": err.Error()})
			outcome.Status = model.JobSkipped
			outcome.Reason = err.Error()
			return outcome
		}
		log.ErrorErr("lock acquisition failed", err)
		outcome.Status = model.JobFailed
		outcome.Reason = err.Error()
		return outcome
	}
	defer handle.Release()

	st := statePreHook
	for {
		switch st {
		case statePreHook:
			if job.PreHook == "" {
				st = stateBackup
				continue
			}
			res := e.runHook(ctx, model.StepPreHook, job.PreHook, job)
			e.record(&outcome, res, log)
			if res.OK() {
				st = stateBackup
			} else {
				markFatal(&outcome, res)
				st = stateFailed
			}

		case stateBackup:
			res := e.runTool(ctx, model.StepBackup, job,
				append([]string{"backup", "-stats"}, storageArgs(job)...))
			e.record(&outcome, res, log)
			if res.OK() {
				st = statePrune
			} else {
				markFatal(&outcome, res)
				st = stateFailed
			}

		case statePrune:
			if job.Retention.Empty() {
				st = stateVerify
				continue
			}
			res := e.runTool(ctx, model.StepPrune, job,
				append(append([]string{"prune"}, storageArgs(job)...), job.Retention.Args()...))
			e.record(&outcome, res, log)
			if !res.OK() {
				// A successful backup is not failed by retention
				// cleanup; the next run prunes again.
				log.Warn("prune failed, keeping job successful", map[string]any{
					"exit_code": res.ExitCode, "attempts": res.Attempts})
			}
			st = stateVerify

		case stateVerify:
			if !job.Verify {
				st = statePostHook
				continue
			}
			kind, args := e.verifyPlan(job, log)
			res := e.runTool(ctx, kind, job, args)
			if !res.OK() && res.Error == "" {
				res.Error = errclass.ErrVerifyFailed.WithMessagef("%s exited %d", kind, res.ExitCode).Error()
			}
			e.record(&outcome, res, log)
			if !res.OK() {
				markFatal(&outcome, res)
				st = stateFailed
				continue
			}
			if kind == model.StepVerify {
				if err := e.Stamps.Record(job.Name, e.now()); err != nil {
					log.ErrorErr("recording verification stamp failed", err)
				}
			}
			st = statePostHook

		case statePostHook:
			if job.PostHook == "" {
				st = stateDone
				continue
			}
			res := e.runHook(ctx, model.StepPostHook, job.PostHook, job)
			e.record(&outcome, res, log)
			if !res.OK() {
				// Recorded, but a finished backup is not retroactively
				// failed by its post-hook.
				log.Warn("post-hook failed", map[string]any{"exit_code": res.ExitCode})
			}
			st = stateDone

		case stateDone:
			outcome.Status = model.JobSuccess
			log.Info("job succeeded")
			return outcome

		case stateFailed:
			outcome.Status = model.JobFailed
			log.Error("job failed", map[string]any{"step": string(outcome.FirstFatal)})
			return outcome
		}
	}
}

// markFatal records the outcome's first fatal step. Later steps never
// overwrite it.
func markFatal(o *model.JobOutcome, res model.StepResult) {
	if o.FirstFatal == "" {
		o.FirstFatal = res.Kind
	}
}

func (e *Executor) record(outcome *model.JobOutcome, res model.StepResult, log *logging.Logger) {
	outcome.Steps = append(outcome.Steps, res)
	log.Info("step finished", map[string]any{
		"step":     string(res.Kind),
		"status":   string(res.Status),
		"attempts": res.Attempts,
		"duration": res.Duration.String(),
	})
	if e.StepLogs != nil {
		if err := e.StepLogs.Write(outcome.Job, res); err != nil {
			log.Warn("writing step log failed", map[string]any{"error": err.Error()})
		}
	}
}

// runTool invokes the backup tool in the job's source directory,
// wrapped by the retry policy.
func (e *Executor) runTool(ctx context.Context, kind model.StepKind, job model.Job, args []string) model.StepResult {
	spec := runner.Spec{
		Command: e.ToolCommand,
		Args:    args,
		Dir:     job.Source,
		Env:     mergeEnv(e.ToolEnv, job.Env),
		Timeout: job.Timeout,
		Tag:     string(kind),
	}
	return e.policy().Execute(ctx, kind, func(ctx context.Context) (runner.Result, error) {
		return e.Runner.Run(ctx, spec)
	})
}

// runHook invokes a configured hook command line. Hooks are never
// retried: their side effects may not be idempotent.
func (e *Executor) runHook(ctx context.Context, kind model.StepKind, command string, job model.Job) model.StepResult {
	argv, err := shellquote.Split(command)
	if err != nil || len(argv) == 0 {
		return model.StepResult{
			Kind:     kind,
			Status:   model.StepLaunchFailed,
			ExitCode: -1,
			Attempts: 1,
			Error:    errclass.ErrHookFailed.WithMessagef("parse hook command: %v", err).Error(),
		}
	}
	spec := runner.Spec{
		Command: argv[0],
		Args:    argv[1:],
		Dir:     job.Source,
		Env:     job.Env,
		Timeout: job.Timeout,
		Tag:     string(kind),
	}
	return e.policy().Execute(ctx, kind, func(ctx context.Context) (runner.Result, error) {
		return e.Runner.Run(ctx, spec)
	})
}

// verifyPlan decides between the cheap check and the full chunk
// verification, based on the job's stamp age.
func (e *Executor) verifyPlan(job model.Job, log *logging.Logger) (model.StepKind, []string) {
	full := e.ForceVerify
	if !full {
		due, err := e.Stamps.Due(job.Name, e.now(), e.VerifyInterval)
		if err != nil {
			log.Warn("reading verification stamp failed, running cheap check", map[string]any{"error": err.Error()})
		} else {
			full = due
		}
	}
	if full {
		log.Info("full verification due")
		return model.StepVerify, append([]string{"check", "-chunks"}, storageArgs(job)...)
	}
	return model.StepCheck, append([]string{"check"}, storageArgs(job)...)
}

func storageArgs(job model.Job) []string {
	return []string{"-storage", job.Target}
}

func mergeEnv(base, extra map[string]string) map[string]string {
	if len(base) == 0 {
		return extra
	}
	merged := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

func (e *Executor) policy() retrypolicy.Policy {
	p := e.Policy
	if p.Clock == nil {
		p.Clock = e.Clock
	}
	if p.Log == nil {
		p.Log = e.Log
	}
	return p
}

func (e *Executor) now() time.Time {
	if e.Clock != nil {
		return e.Clock.Now()
	}
	return time.Now()
}

func (e *Executor) logger() *logging.Logger {
	if e.Log != nil {
		return e.Log
	}
	return logging.NewLogger(logging.LevelError, logging.FormatText)
}
