package model

// StepKind identifies one phase of a job's execution.
type StepKind string

const (
	StepPreHook  StepKind = "pre-hook"
	StepBackup   StepKind = "backup"
	StepPrune    StepKind = "prune"
	StepCheck    StepKind = "check"
	StepVerify   StepKind = "verify"
	StepPostHook StepKind = "post-hook"
)

// StepStatus is the terminal state of one step attempt sequence.
type StepStatus string

const (
	StepSuccess      StepStatus = "success"
	StepFailed       StepStatus = "failed"
	StepTimedOut     StepStatus = "timed-out"
	StepLaunchFailed StepStatus = "launch-failed"
)

// JobStatus is the terminal state of one job execution. Every job ends in
// exactly one of these, never in a partial state.
type JobStatus string

const (
	JobSuccess  JobStatus = "success"
	JobFailed   JobStatus = "failed"
	JobSkipped  JobStatus = "skipped"
	JobDisabled JobStatus = "disabled"
)
