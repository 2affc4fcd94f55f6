// Package doctor checks that a host is ready to run backups: the tool
// binary resolves, the state directories are writable, sources exist
// and no stale locks linger from crashed runs.
package doctor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/superdup-project/superdup/internal/lock"
	"github.com/superdup-project/superdup/internal/stamp"
	"github.com/superdup-project/superdup/pkg/config"
	"github.com/superdup-project/superdup/pkg/pathutil"
)

// Finding represents a detected issue.
type Finding struct {
	Category    string `json:"category"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Path        string `json:"path,omitempty"`
}

// Result contains doctor check results.
type Result struct {
	Healthy  bool      `json:"healthy"`
	Findings []Finding `json:"findings"`
}

// Doctor performs host readiness checks against a loaded configuration.
type Doctor struct {
	cfg *config.Config
}

// NewDoctor creates a new doctor.
func NewDoctor(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Check runs all diagnostic checks. In strict mode warnings also mark
// the host unhealthy.
func (d *Doctor) Check(strict bool) (*Result, error) {
	result := &Result{Healthy: true}

	d.checkTool(result)
	d.checkDirWritable(result, "locks", d.cfg.Paths.LockDir)
	d.checkDirWritable(result, "logs", d.cfg.Paths.LogDir)
	d.checkStaleLocks(result)
	d.checkSources(result)
	d.checkStamps(result)

	for _, f := range result.Findings {
		if f.Severity == "critical" || f.Severity == "error" {
			result.Healthy = false
		}
		if strict && f.Severity == "warning" {
			result.Healthy = false
		}
	}
	return result, nil
}

func (d *Doctor) checkTool(result *Result) {
	path, err := exec.LookPath(d.cfg.Tool.Command)
	if err != nil {
		result.Findings = append(result.Findings, Finding{
			Category:    "tool",
			Description: fmt.Sprintf("backup tool %q not found in PATH", d.cfg.Tool.Command),
			Severity:    "critical",
		})
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.Mode()&0111 == 0 {
		result.Findings = append(result.Findings, Finding{
			Category:    "tool",
			Description: fmt.Sprintf("backup tool %q is not executable", path),
			Severity:    "critical",
			Path:        path,
		})
	}
}

func (d *Doctor) checkDirWritable(result *Result, category, dir string) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		result.Findings = append(result.Findings, Finding{
			Category:    category,
			Description: fmt.Sprintf("cannot create directory: %v", err),
			Severity:    "error",
			Path:        dir,
		})
		return
	}
	probe := filepath.Join(dir, fmt.Sprintf(".doctor-probe-%d", os.Getpid()))
	if err := os.WriteFile(probe, nil, 0644); err != nil {
		result.Findings = append(result.Findings, Finding{
			Category:    category,
			Description: fmt.Sprintf("directory not writable: %v", err),
			Severity:    "error",
			Path:        dir,
		})
		return
	}
	os.Remove(probe)
}

func (d *Doctor) checkStaleLocks(result *Result) {
	stale, err := lock.NewManager(d.cfg.Paths.LockDir).Stale()
	if err != nil {
		result.Findings = append(result.Findings, Finding{
			Category:    "locks",
			Description: fmt.Sprintf("cannot scan lock directory: %v", err),
			Severity:    "error",
			Path:        d.cfg.Paths.LockDir,
		})
		return
	}
	for _, rec := range stale {
		desc := fmt.Sprintf("stale lock %s (holder dead)", rec.Key)
		if rec.Job != "" {
			desc = fmt.Sprintf("stale lock for job %q held by dead pid %d since %s",
				rec.Job, rec.PID, rec.AcquiredAt.Format(time.RFC3339))
		}
		result.Findings = append(result.Findings, Finding{
			Category:    "locks",
			Description: desc,
			Severity:    "warning",
			Path:        d.cfg.Paths.LockDir,
		})
	}
}

func (d *Doctor) checkSources(result *Result) {
	jobs, err := d.cfg.ModelJobs()
	if err != nil {
		result.Findings = append(result.Findings, Finding{
			Category:    "jobs",
			Description: fmt.Sprintf("configuration invalid: %v", err),
			Severity:    "critical",
		})
		return
	}
	for _, job := range jobs {
		if !job.Enabled {
			continue
		}
		if err := pathutil.ValidateSourceDir(job.Source); err != nil {
			result.Findings = append(result.Findings, Finding{
				Category:    "jobs",
				Description: fmt.Sprintf("job %q: %v", job.Name, err),
				Severity:    "error",
				Path:        job.Source,
			})
		}
	}
}

func (d *Doctor) checkStamps(result *Result) {
	if _, err := os.Stat(d.cfg.Paths.StampPath); os.IsNotExist(err) {
		return // no verifications recorded yet
	}
	if _, err := stamp.NewStore(d.cfg.Paths.StampPath).LastVerified("any"); err != nil {
		result.Findings = append(result.Findings, Finding{
			Category:    "stamps",
			Description: fmt.Sprintf("verification stamp file unreadable: %v", err),
			Severity:    "warning",
			Path:        d.cfg.Paths.StampPath,
		})
	}
}
