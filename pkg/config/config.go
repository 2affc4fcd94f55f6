// Package config provides configuration file support for superdup.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/superdup-project/superdup/pkg/errclass"
	"github.com/superdup-project/superdup/pkg/logging"
	"github.com/superdup-project/superdup/pkg/model"
	"github.com/superdup-project/superdup/pkg/pathutil"
)

// Config represents the superdup configuration file.
type Config struct {
	Tool     ToolConfig    `yaml:"tool"`
	Paths    PathsConfig   `yaml:"paths"`
	Defaults DefaultConfig `yaml:"defaults"`
	Logging  LoggingConfig `yaml:"logging"`
	Notify   NotifyConfig  `yaml:"notify"`
	Network  NetworkConfig `yaml:"network"`
	Jobs     []JobConfig   `yaml:"jobs"`
}

// ToolConfig locates the external backup tool.
type ToolConfig struct {
	Command string            `yaml:"command"`
	Env     map[string]string `yaml:"env"`
}

// PathsConfig holds the orchestrator's own state locations.
type PathsConfig struct {
	LockDir   string `yaml:"lock_dir"`
	LogDir    string `yaml:"log_dir"`
	StampPath string `yaml:"stamp_path"`
}

// DefaultConfig holds per-job defaults and run-wide tuning.
type DefaultConfig struct {
	Timeout        string `yaml:"timeout"`
	MaxAttempts    int    `yaml:"max_attempts"`
	BackoffBase    string `yaml:"backoff_base"`
	BackoffMax     string `yaml:"backoff_max"`
	Concurrency    int    `yaml:"concurrency"`
	VerifyInterval string `yaml:"verify_interval"`
	OutputLimit    int    `yaml:"output_limit"`
	LogFiles       int    `yaml:"log_files"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, text
}

// NotifyConfig configures the end-of-run webhook notification.
type NotifyConfig struct {
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
	Timeout string `yaml:"timeout"`
	Retries int    `yaml:"retries"`
}

// NetworkConfig gates a run on outbound connectivity. An empty
// check_host disables the gate.
type NetworkConfig struct {
	CheckHost string `yaml:"check_host"`
	Attempts  int    `yaml:"attempts"`
	Backoff   string `yaml:"backoff"`
}

// JobConfig is one job entry in the configuration file.
type JobConfig struct {
	Name      string            `yaml:"name"`
	Source    string            `yaml:"source"`
	Target    string            `yaml:"target"`
	Retention model.Retention   `yaml:"retention"`
	PreHook   string            `yaml:"pre_hook"`
	PostHook  string            `yaml:"post_hook"`
	Timeout   string            `yaml:"timeout"`
	Verify    *bool             `yaml:"verify"`
	Disabled  bool              `yaml:"disabled"`
	Env       map[string]string `yaml:"env"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Tool: ToolConfig{
			Command: "duplicacy",
		},
		Paths: PathsConfig{
			LockDir:   "/var/lib/superdup/locks",
			LogDir:    "/var/lib/superdup/logs",
			StampPath: "/var/lib/superdup/stamps.json",
		},
		Defaults: DefaultConfig{
			Timeout:        "4h",
			MaxAttempts:    3,
			BackoffBase:    "30s",
			BackoffMax:     "10m",
			Concurrency:    1,
			VerifyInterval: "2160h", // 90 days
			OutputLimit:    64 * 1024,
			LogFiles:       5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Network: NetworkConfig{
			CheckHost: "www.google.com",
			Attempts:  10,
			Backoff:   "1s",
		},
	}
}

// Load reads a configuration file, layering it over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errclass.ErrConfigInvalid.WithMessagef("parse %s: %v", path, err)
	}

	return cfg, nil
}

// Validate checks the whole configuration. Any finding here is fatal:
// a run never starts on a configuration that fails validation.
func (c *Config) Validate() error {
	if c.Tool.Command == "" {
		return errclass.ErrConfigInvalid.WithMessage("tool.command must not be empty")
	}
	if _, err := c.duration(c.Defaults.Timeout, "defaults.timeout"); err != nil {
		return err
	}
	if _, err := c.duration(c.Defaults.BackoffBase, "defaults.backoff_base"); err != nil {
		return err
	}
	if _, err := c.duration(c.Defaults.BackoffMax, "defaults.backoff_max"); err != nil {
		return err
	}
	if _, err := c.duration(c.Defaults.VerifyInterval, "defaults.verify_interval"); err != nil {
		return err
	}
	if c.Defaults.MaxAttempts < 1 {
		return errclass.ErrConfigInvalid.WithMessage("defaults.max_attempts must be >= 1")
	}
	if c.Defaults.Concurrency < 1 {
		return errclass.ErrConfigInvalid.WithMessage("defaults.concurrency must be >= 1")
	}
	if c.Defaults.OutputLimit < 1024 {
		return errclass.ErrConfigInvalid.WithMessage("defaults.output_limit must be >= 1024")
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return errclass.ErrConfigInvalid.WithMessagef("logging.level: %v", err)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return errclass.ErrConfigInvalid.WithMessagef("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if c.Notify.Timeout != "" {
		if _, err := c.duration(c.Notify.Timeout, "notify.timeout"); err != nil {
			return err
		}
	}
	if c.Notify.Retries < 0 {
		return errclass.ErrConfigInvalid.WithMessage("notify.retries must be >= 0")
	}

	if c.Network.CheckHost != "" {
		if c.Network.Attempts < 1 {
			return errclass.ErrConfigInvalid.WithMessage("network.attempts must be >= 1")
		}
		if _, err := c.duration(c.Network.Backoff, "network.backoff"); err != nil {
			return err
		}
	}

	seen := make(map[string]bool)
	for i, jc := range c.Jobs {
		if err := pathutil.ValidateJobName(jc.Name); err != nil {
			return errclass.ErrConfigInvalid.WithMessagef("job %d: %v", i, err)
		}
		if seen[jc.Name] {
			return errclass.ErrConfigInvalid.WithMessagef("duplicate job name %q", jc.Name)
		}
		seen[jc.Name] = true

		if jc.Source == "" {
			return errclass.ErrConfigInvalid.WithMessagef("job %q: source must not be empty", jc.Name)
		}
		if jc.Target == "" {
			return errclass.ErrConfigInvalid.WithMessagef("job %q: target must not be empty", jc.Name)
		}
		if !jc.Retention.Valid() {
			return errclass.ErrConfigInvalid.WithMessagef("job %q: retention counts must be >= 0", jc.Name)
		}
		if jc.Timeout != "" {
			if _, err := c.duration(jc.Timeout, fmt.Sprintf("job %q timeout", jc.Name)); err != nil {
				return err
			}
		}
	}

	return nil
}

// ModelJobs converts the job entries into the executor's data model,
// applying defaults. Validate must have passed first.
func (c *Config) ModelJobs() ([]model.Job, error) {
	defaultTimeout, err := c.duration(c.Defaults.Timeout, "defaults.timeout")
	if err != nil {
		return nil, err
	}

	jobs := make([]model.Job, 0, len(c.Jobs))
	for _, jc := range c.Jobs {
		timeout := defaultTimeout
		if jc.Timeout != "" {
			timeout, err = c.duration(jc.Timeout, fmt.Sprintf("job %q timeout", jc.Name))
			if err != nil {
				return nil, err
			}
		}

		verify := true
		if jc.Verify != nil {
			verify = *jc.Verify
		}

		jobs = append(jobs, model.Job{
			Name:      jc.Name,
			Source:    jc.Source,
			Target:    jc.Target,
			Retention: jc.Retention,
			PreHook:   jc.PreHook,
			PostHook:  jc.PostHook,
			Timeout:   timeout,
			Verify:    verify,
			Enabled:   !jc.Disabled,
			Env:       jc.Env,
		})
	}
	return jobs, nil
}

// BackoffBase returns the parsed retry backoff base delay.
func (c *Config) BackoffBase() time.Duration {
	d, _ := time.ParseDuration(c.Defaults.BackoffBase)
	return d
}

// BackoffMax returns the parsed retry backoff cap.
func (c *Config) BackoffMax() time.Duration {
	d, _ := time.ParseDuration(c.Defaults.BackoffMax)
	return d
}

// VerifyInterval returns the parsed full-verification interval.
func (c *Config) VerifyInterval() time.Duration {
	d, _ := time.ParseDuration(c.Defaults.VerifyInterval)
	return d
}

// NotifyTimeout returns the parsed webhook timeout, zero when unset.
func (c *Config) NotifyTimeout() time.Duration {
	if c.Notify.Timeout == "" {
		return 0
	}
	d, _ := time.ParseDuration(c.Notify.Timeout)
	return d
}

// NetworkBackoff returns the parsed connectivity retry base delay.
func (c *Config) NetworkBackoff() time.Duration {
	d, _ := time.ParseDuration(c.Network.Backoff)
	return d
}

func (c *Config) duration(s, field string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errclass.ErrConfigInvalid.WithMessagef("%s: bad duration %q", field, s)
	}
	if d <= 0 {
		return 0, errclass.ErrConfigInvalid.WithMessagef("%s: duration must be positive", field)
	}
	return d, nil
}
