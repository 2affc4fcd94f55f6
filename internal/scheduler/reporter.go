package scheduler

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/superdup-project/superdup/pkg/color"
	"github.com/superdup-project/superdup/pkg/model"
)

// Reporter renders a finished run for the terminal, one line per job
// plus an aggregate footer, or the raw summary as JSON.
type Reporter struct {
	Out  io.Writer
	JSON bool
}

// Report writes the run summary to Out.
func (r *Reporter) Report(sum *model.RunSummary) error {
	if r.JSON {
		enc := json.NewEncoder(r.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	}

	var success, failed, skipped, disabled int
	for _, o := range sum.Outcomes {
		if _, err := fmt.Fprintf(r.Out, "%s %s%s\n",
			color.JobStatus(o.Status, statusWidth), color.Boldf(o.Job), jobDetail(o)); err != nil {
			return err
		}
		for _, s := range o.Steps {
			if s.OK() {
				continue
			}
			if _, err := fmt.Fprintf(r.Out, "         %s\n",
				color.Dim(stepDetail(s))); err != nil {
				return err
			}
		}
		switch o.Status {
		case model.JobSuccess:
			success++
		case model.JobFailed:
			failed++
		case model.JobSkipped:
			skipped++
		case model.JobDisabled:
			disabled++
		}
	}

	elapsed := sum.FinishedAt.Sub(sum.StartedAt).Round(time.Second)
	line := fmt.Sprintf("%d succeeded, %d failed, %d skipped, %d disabled in %s",
		success, failed, skipped, disabled, elapsed)
	if failed > 0 {
		line = color.Errorf("%s", line)
	} else {
		line = color.Successf("%s", line)
	}
	_, err := fmt.Fprintf(r.Out, "\n%s\n", line)
	return err
}

// statusWidth fits the longest status name ("disabled").
const statusWidth = 8

func jobDetail(o model.JobOutcome) string {
	switch {
	case o.Status == model.JobFailed && o.FirstFatal != "":
		return color.Dim(fmt.Sprintf("  (%s failed)", o.FirstFatal))
	case o.Reason != "":
		return color.Dim(fmt.Sprintf("  (%s)", o.Reason))
	default:
		return ""
	}
}

func stepDetail(s model.StepResult) string {
	switch s.Status {
	case model.StepTimedOut:
		return fmt.Sprintf("%s: timed out after %d attempt(s)", s.Kind, s.Attempts)
	case model.StepLaunchFailed:
		return fmt.Sprintf("%s: %s", s.Kind, s.Error)
	default:
		return fmt.Sprintf("%s: exit %d after %d attempt(s)", s.Kind, s.ExitCode, s.Attempts)
	}
}
