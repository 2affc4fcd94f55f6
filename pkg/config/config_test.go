package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/superdup-project/superdup/pkg/config"
	"github.com/superdup-project/superdup/pkg/errclass"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "superdup.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

const sampleConfig = `
tool:
  command: /usr/local/bin/duplicacy
  env:
    DUPLICACY_PASSWORD: secret
defaults:
  timeout: 1h
  max_attempts: 3
  backoff_base: 1s
  backoff_max: 2m
  concurrency: 2
jobs:
  - name: documents
    source: /srv/documents
    target: s3://bucket/documents
    retention:
      keep_daily: 7
      keep_weekly: 4
  - name: etc
    source: /etc
    target: s3://bucket/etc
    disabled: true
    timeout: 10m
`

func TestLoad(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/usr/local/bin/duplicacy", cfg.Tool.Command)
	assert.Equal(t, "secret", cfg.Tool.Env["DUPLICACY_PASSWORD"])
	assert.Equal(t, 2, cfg.Defaults.Concurrency)
	// defaults survive partial override
	assert.Equal(t, 5, cfg.Defaults.LogFiles)
	require.Len(t, cfg.Jobs, 2)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestModelJobs(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	jobs, err := cfg.ModelJobs()
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	assert.Equal(t, "documents", jobs[0].Name)
	assert.True(t, jobs[0].Enabled)
	assert.True(t, jobs[0].Verify)
	assert.Equal(t, time.Hour, jobs[0].Timeout)
	assert.Equal(t, 7, jobs[0].Retention.KeepDaily)

	assert.False(t, jobs[1].Enabled)
	assert.Equal(t, 10*time.Minute, jobs[1].Timeout)
}

func TestValidate_DuplicateJobName(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, `
jobs:
  - name: same
    source: /a
    target: t1
  - name: same
    source: /b
    target: t2
`))
	require.NoError(t, err)
	require.ErrorIs(t, cfg.Validate(), errclass.ErrConfigInvalid)
}

func TestValidate_BadJobName(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, `
jobs:
  - name: "bad name"
    source: /a
    target: t
`))
	require.NoError(t, err)
	require.ErrorIs(t, cfg.Validate(), errclass.ErrConfigInvalid)
}

func TestValidate_NegativeRetention(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, `
jobs:
  - name: j
    source: /a
    target: t
    retention:
      keep_daily: -1
`))
	require.NoError(t, err)
	require.ErrorIs(t, cfg.Validate(), errclass.ErrConfigInvalid)
}

func TestValidate_MissingTarget(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, `
jobs:
  - name: j
    source: /a
    target: ""
`))
	require.NoError(t, err)
	require.ErrorIs(t, cfg.Validate(), errclass.ErrConfigInvalid)
}

func TestValidate_BadDuration(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, `
defaults:
  timeout: soon
`))
	require.NoError(t, err)
	require.ErrorIs(t, cfg.Validate(), errclass.ErrConfigInvalid)
}

func TestDefault_Validates(t *testing.T) {
	require.NoError(t, config.Default().Validate())
}

func TestValidate_BadNotifyTimeout(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, `
notify:
  url: https://hooks.example.com/superdup
  timeout: 30sec
`))
	require.NoError(t, err)
	err = cfg.Validate()
	require.ErrorIs(t, err, errclass.ErrConfigInvalid)
	assert.Contains(t, err.Error(), "notify.timeout")
}

func TestValidate_NegativeNotifyRetries(t *testing.T) {
	cfg := config.Default()
	cfg.Notify.Retries = -1
	require.ErrorIs(t, cfg.Validate(), errclass.ErrConfigInvalid)
}

func TestValidate_BadLogLevel(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, `
logging:
  level: verbose
`))
	require.NoError(t, err)
	err = cfg.Validate()
	require.ErrorIs(t, err, errclass.ErrConfigInvalid)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestValidate_BadLogFormat(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Format = "xml"
	require.ErrorIs(t, cfg.Validate(), errclass.ErrConfigInvalid)
}

func TestValidate_BadNetworkBackoff(t *testing.T) {
	cfg := config.Default()
	cfg.Network.Backoff = "fast"
	require.ErrorIs(t, cfg.Validate(), errclass.ErrConfigInvalid)
}

func TestValidate_NetworkGateDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Network.CheckHost = ""
	cfg.Network.Attempts = 0
	require.NoError(t, cfg.Validate())
}

func TestNotifyTimeout(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, time.Duration(0), cfg.NotifyTimeout())

	cfg.Notify.Timeout = "45s"
	assert.Equal(t, 45*time.Second, cfg.NotifyTimeout())
}
