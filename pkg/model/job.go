package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Job is one configured (source, target, policy) backup unit.
type Job struct {
	// Name is unique across all jobs in a configuration.
	Name string `json:"name"`

	// Source is the local directory handed to the backup tool as its
	// working directory.
	Source string `json:"source"`

	// Target is an opaque storage descriptor passed through to the tool.
	Target string `json:"target"`

	Retention Retention `json:"retention"`

	// PreHook and PostHook are optional command lines run before and
	// after the backup sequence. Empty means absent.
	PreHook  string `json:"pre_hook,omitempty"`
	PostHook string `json:"post_hook,omitempty"`

	// Timeout bounds every external command spawned for this job.
	Timeout time.Duration `json:"timeout"`

	// Verify enables the post-prune check/verify step.
	Verify bool `json:"verify"`

	Enabled bool `json:"enabled"`

	// Env is extra environment for the backup tool (credentials etc).
	Env map[string]string `json:"env,omitempty"`
}

// LockKey returns the digest that serializes conflicting jobs. It is
// derived from the (source, target) pair, not the job name: two
// differently named jobs pointing at the same storage must not run
// concurrently.
func (j Job) LockKey() string {
	h := sha256.Sum256([]byte(j.Source + "\x00" + j.Target))
	return hex.EncodeToString(h[:16])
}

// Retention describes how many snapshots to keep after a successful
// backup. All counts are >= 0; zero means the bucket is unused.
type Retention struct {
	KeepLast    int `json:"keep_last,omitempty" yaml:"keep_last"`
	KeepDaily   int `json:"keep_daily,omitempty" yaml:"keep_daily"`
	KeepWeekly  int `json:"keep_weekly,omitempty" yaml:"keep_weekly"`
	KeepMonthly int `json:"keep_monthly,omitempty" yaml:"keep_monthly"`
}

// Empty reports whether no retention rule is configured, in which case
// the prune step is skipped entirely.
func (r Retention) Empty() bool {
	return r.KeepLast == 0 && r.KeepDaily == 0 && r.KeepWeekly == 0 && r.KeepMonthly == 0
}

// Valid reports whether all counts are non-negative.
func (r Retention) Valid() bool {
	return r.KeepLast >= 0 && r.KeepDaily >= 0 && r.KeepWeekly >= 0 && r.KeepMonthly >= 0
}

// Args renders the retention counts as tool arguments.
func (r Retention) Args() []string {
	var args []string
	if r.KeepLast > 0 {
		args = append(args, "-keep-last", strconv.Itoa(r.KeepLast))
	}
	if r.KeepDaily > 0 {
		args = append(args, "-keep-daily", strconv.Itoa(r.KeepDaily))
	}
	if r.KeepWeekly > 0 {
		args = append(args, "-keep-weekly", strconv.Itoa(r.KeepWeekly))
	}
	if r.KeepMonthly > 0 {
		args = append(args, "-keep-monthly", strconv.Itoa(r.KeepMonthly))
	}
	return args
}
