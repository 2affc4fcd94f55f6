package model

import "time"

// StepResult records the terminal outcome of one step, including every
// retry attempt made for it. Immutable once produced.
type StepResult struct {
	Kind      StepKind      `json:"kind"`
	Status    StepStatus    `json:"status"`
	ExitCode  int           `json:"exit_code"`
	Output    string        `json:"output,omitempty"`
	Truncated bool          `json:"truncated,omitempty"`
	Duration  time.Duration `json:"duration"`
	Attempts  int           `json:"attempts"`
	Error     string        `json:"error,omitempty"`
}

// OK reports whether the step ended in success.
func (r StepResult) OK() bool {
	return r.Status == StepSuccess
}

// JobOutcome is the ordered step record for one job in one run. It is
// created by the executor and never mutated after the sequence ends.
type JobOutcome struct {
	Job        string       `json:"job"`
	Status     JobStatus    `json:"status"`
	Steps      []StepResult `json:"steps,omitempty"`
	FirstFatal StepKind     `json:"first_fatal,omitempty"`
	Reason     string       `json:"reason,omitempty"`
}

// RunSummary aggregates the outcomes of one orchestrator invocation.
type RunSummary struct {
	RunID      string       `json:"run_id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Outcomes   []JobOutcome `json:"outcomes"`
}

// Failed reports whether any job ended in failure. Skipped and disabled
// jobs do not count: lock contention is a scheduling concern and a
// disabled job is a configuration choice, not an error.
func (s *RunSummary) Failed() bool {
	for _, o := range s.Outcomes {
		if o.Status == JobFailed {
			return true
		}
	}
	return false
}

// ExitCode maps the summary onto the process exit convention used by
// cron and systemd: 0 on full success, 1 if any job failed.
func (s *RunSummary) ExitCode() int {
	if s.Failed() {
		return 1
	}
	return 0
}
