package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/superdup-project/superdup/internal/executor"
	"github.com/superdup-project/superdup/internal/lock"
	"github.com/superdup-project/superdup/internal/netwait"
	"github.com/superdup-project/superdup/internal/retrypolicy"
	"github.com/superdup-project/superdup/internal/runner"
	"github.com/superdup-project/superdup/internal/scheduler"
	"github.com/superdup-project/superdup/internal/stamp"
	"github.com/superdup-project/superdup/internal/steplog"
	"github.com/superdup-project/superdup/pkg/model"
	"github.com/superdup-project/superdup/pkg/webhook"
)

var (
	runDryRun      bool
	runForceVerify bool
	runJobs        []string
	runConcurrency int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the configured backup jobs",
	Long: `Run the configured backup jobs.

Each enabled job runs its pre-hook, backup, prune, verification and
post-hook steps under a per-destination lock. The process exits 0 when
every job succeeded (skipped and disabled jobs do not count as
failures) and 1 otherwise.

Examples:
  superdup run                          # run everything
  superdup run --jobs documents,photos  # run a subset
  superdup run --dry-run                # print commands without executing
  superdup run --force-verify           # full chunk verification now`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := requireConfig()
		log := runLogger(cfg)

		jobs, err := cfg.ModelJobs()
		if err != nil {
			fmtErr("%v", err)
			os.Exit(2)
		}
		if len(runJobs) > 0 {
			jobs, err = selectJobs(jobs, runJobs)
			if err != nil {
				fmtErr("%v", err)
				os.Exit(2)
			}
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// Cron often fires before the link is up; wait for the network
		// rather than failing every job against unreachable storage.
		if cfg.Network.CheckHost != "" && !runDryRun {
			gate := &netwait.Checker{
				Host:     cfg.Network.CheckHost,
				Attempts: cfg.Network.Attempts,
				Backoff:  cfg.NetworkBackoff(),
				Log:      log,
			}
			if err := gate.Wait(ctx); err != nil {
				fmtErr("%v", err)
				os.Exit(1)
			}
		}

		exec := &executor.Executor{
			ToolCommand: cfg.Tool.Command,
			ToolEnv:     cfg.Tool.Env,
			Runner:      runner.New(log, cfg.Defaults.OutputLimit, runDryRun),
			Locker:      managerLocker{lock.NewManager(cfg.Paths.LockDir)},
			Policy: retrypolicy.Policy{
				MaxAttempts: cfg.Defaults.MaxAttempts,
				BackoffBase: cfg.BackoffBase(),
				BackoffMax:  cfg.BackoffMax(),
				Log:         log,
			},
			Stamps:         stamp.NewStore(cfg.Paths.StampPath),
			VerifyInterval: cfg.VerifyInterval(),
			ForceVerify:    runForceVerify,
			StepLogs:       steplog.NewWriter(cfg.Paths.LogDir, cfg.Defaults.LogFiles),
			Log:            log,
		}

		concurrency := cfg.Defaults.Concurrency
		if runConcurrency > 0 {
			concurrency = runConcurrency
		}
		sched := &scheduler.Scheduler{
			Exec:        exec,
			Concurrency: int64(concurrency),
			Log:         log,
		}
		sum := sched.RunAll(ctx, jobs)

		if jsonOutput {
			outputJSON(&sum)
		} else if err := (&scheduler.Reporter{Out: os.Stdout}).Report(&sum); err != nil {
			fmtErr("report: %v", err)
		}

		// Notification failures are reported but never change the exit
		// status of the run itself.
		if cfg.Notify.URL != "" && !runDryRun {
			client := webhook.NewClient(webhook.Config{
				URL:        cfg.Notify.URL,
				Secret:     cfg.Notify.Secret,
				Timeout:    cfg.NotifyTimeout(),
				MaxRetries: cfg.Notify.Retries,
			}, log)
			if err := client.NotifyRun(context.Background(), &sum); err != nil {
				log.ErrorErr("webhook notification failed", err)
			}
		}

		os.Exit(sum.ExitCode())
	},
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "print tool commands without executing them")
	runCmd.Flags().BoolVar(&runForceVerify, "force-verify", false, "run full chunk verification regardless of schedule")
	runCmd.Flags().StringSliceVar(&runJobs, "jobs", nil, "run only the named jobs (comma separated)")
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "override the configured job concurrency")
	rootCmd.AddCommand(runCmd)
}

// managerLocker adapts *lock.Manager to the executor's Locker interface.
type managerLocker struct {
	m *lock.Manager
}

func (l managerLocker) Acquire(job model.Job) (executor.LockHandle, error) {
	h, err := l.m.Acquire(job)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// selectJobs filters jobs by name, preserving configuration order. An
// unknown name is an error so typos fail loudly instead of silently
// backing up nothing.
func selectJobs(jobs []model.Job, names []string) ([]model.Job, error) {
	byName := make(map[string]model.Job, len(jobs))
	for _, j := range jobs {
		byName[j.Name] = j
	}
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := byName[n]; !ok {
			return nil, fmt.Errorf("unknown job %q", n)
		}
		wanted[n] = true
	}
	var out []model.Job
	for _, j := range jobs {
		if wanted[j.Name] {
			out = append(out, j)
		}
	}
	return out, nil
}
