// Package steplog writes each step's captured output to a per-job log
// file and rotates old files, so a failed night can be inspected
// without digging through the aggregate log.
package steplog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/superdup-project/superdup/pkg/model"
)

// Writer writes step output under <dir>/<job>/<step>_<timestamp>.log.
type Writer struct {
	dir  string
	keep int
}

// NewWriter creates a step log writer. keep bounds how many files are
// retained per (job, step) pair; older ones are removed on write.
func NewWriter(dir string, keep int) *Writer {
	if keep < 1 {
		keep = 1
	}
	return &Writer{dir: dir, keep: keep}
}

// Write persists one step result's output and prunes older files for
// the same step. Failures here must never fail the job: the log file
// is a convenience, the authoritative record is the JobOutcome.
func (w *Writer) Write(job string, res model.StepResult) error {
	jobDir := filepath.Join(w.dir, job)
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		return fmt.Errorf("create step log dir: %w", err)
	}

	name := fmt.Sprintf("%s_%s.log", res.Kind, time.Now().UTC().Format("2006-01-02T15-04-05"))
	body := fmt.Sprintf("step: %s\nstatus: %s\nexit_code: %d\nattempts: %d\nduration: %s\n\n%s\n",
		res.Kind, res.Status, res.ExitCode, res.Attempts, res.Duration, res.Output)
	if err := os.WriteFile(filepath.Join(jobDir, name), []byte(body), 0644); err != nil {
		return fmt.Errorf("write step log: %w", err)
	}

	return w.rotate(jobDir, string(res.Kind))
}

func (w *Writer) rotate(jobDir, step string) error {
	entries, err := os.ReadDir(jobDir)
	if err != nil {
		return fmt.Errorf("read step log dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), step+"_") && strings.HasSuffix(e.Name(), ".log") {
			names = append(names, e.Name())
		}
	}
	if len(names) <= w.keep {
		return nil
	}

	// Timestamped names sort chronologically.
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	for _, name := range names[w.keep:] {
		if err := os.Remove(filepath.Join(jobDir, name)); err != nil {
			return fmt.Errorf("rotate step log: %w", err)
		}
	}
	return nil
}
