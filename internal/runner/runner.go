// Package runner supervises one external command invocation: launch,
// bounded output capture, timeout enforcement, exit status reporting.
package runner

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/superdup-project/superdup/pkg/errclass"
	"github.com/superdup-project/superdup/pkg/logging"
)

// Spec describes one external command invocation.
type Spec struct {
	Command string
	Args    []string
	Dir     string
	Env     map[string]string
	Timeout time.Duration

	// Tag labels streamed output lines in the debug log.
	Tag string
}

// Result is the outcome of a finished invocation. A non-zero exit code
// is a normal Result, not an error: errors are reserved for failing to
// launch the process at all.
type Result struct {
	ExitCode  int
	Output    string
	Truncated bool
	TimedOut  bool
	Duration  time.Duration
}

// Runner launches external commands. The zero concurrency guarantees
// live in the scheduler; a Runner itself is safe for concurrent use.
type Runner struct {
	log         *logging.Logger
	outputLimit int
	dryRun      bool
}

// New creates a runner. outputLimit bounds captured combined output in
// bytes; oldest lines are dropped beyond it.
func New(log *logging.Logger, outputLimit int, dryRun bool) *Runner {
	return &Runner{log: log, outputLimit: outputLimit, dryRun: dryRun}
}

// Run executes the command, streaming combined stdout+stderr through
// the debug log and into a bounded buffer. On timeout or context
// cancellation the whole process group is killed; a timeout is reported
// in the Result together with whatever output was captured.
func (r *Runner) Run(ctx context.Context, spec Spec) (Result, error) {
	start := time.Now()
	argv := strings.Join(append([]string{spec.Command}, spec.Args...), " ")

	if r.dryRun {
		r.log.Info("dry-run: would run command", map[string]any{"argv": argv, "dir": spec.Dir})
		return Result{ExitCode: 0, Duration: time.Since(start)}, nil
	}

	runCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		env := os.Environ()
		for k, v := range spec.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}
	setProcessGroup(cmd)

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	buf := newBoundedBuffer(r.outputLimit)
	scanDone := make(chan struct{})
	go func() {
		defer close(scanDone)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			buf.WriteLine(line)
			r.log.Debug("tool output", map[string]any{"tag": spec.Tag, "line": line})
		}
	}()

	r.log.Debug("running command", map[string]any{"argv": argv, "dir": spec.Dir})
	if err := cmd.Start(); err != nil {
		pw.Close()
		<-scanDone
		return Result{Duration: time.Since(start)},
			errclass.ErrLaunchFailed.WithMessagef("%s: %v", spec.Command, err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	timedOut := false
	select {
	case <-runCtx.Done():
		killProcessGroup(cmd)
		<-waitErr
		// Distinguish the step timeout from a run-level cancellation:
		// only the former marks the result timed-out.
		timedOut = runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil
	case <-waitErr:
	}

	pw.Close()
	<-scanDone

	return Result{
		ExitCode:  cmd.ProcessState.ExitCode(),
		Output:    buf.String(),
		Truncated: buf.Truncated(),
		TimedOut:  timedOut,
		Duration:  time.Since(start),
	}, nil
}
