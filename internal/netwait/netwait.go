// Package netwait blocks a run until outbound name resolution works.
// Runs started at boot, before the link is up, wait for the network
// instead of failing every job against unreachable storage.
package netwait

import (
	"context"
	"net"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"

	"github.com/superdup-project/superdup/pkg/errclass"
	"github.com/superdup-project/superdup/pkg/logging"
)

const (
	DefaultHost     = "www.google.com"
	DefaultAttempts = 10
	defaultBackoff  = time.Second
	lookupTimeout   = 10 * time.Second
)

// Resolver is the subset of net.Resolver used to probe connectivity.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Checker probes connectivity by resolving a well-known hostname,
// retrying with exponential backoff. The zero value uses the defaults
// and the system resolver.
type Checker struct {
	Host     string
	Attempts int
	Backoff  time.Duration
	Clock    clock.Clock
	Resolver Resolver
	Log      *logging.Logger
}

// Wait blocks until the host resolves, the attempts are exhausted, or
// ctx is cancelled. A non-nil return means the machine should be
// treated as offline and no job should start.
func (c *Checker) Wait(ctx context.Context) error {
	host := c.Host
	if host == "" {
		host = DefaultHost
	}
	attempts := c.Attempts
	if attempts < 1 {
		attempts = DefaultAttempts
	}
	backoff := c.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	clk := c.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	res := c.Resolver
	if res == nil {
		res = net.DefaultResolver
	}
	log := c.Log
	if log == nil {
		log = logging.NewLogger(logging.LevelError, logging.FormatText)
	}

	err := retry.Call(retry.CallArgs{
		Func: func() error {
			lookupCtx, cancel := context.WithTimeout(ctx, lookupTimeout)
			defer cancel()
			_, err := res.LookupHost(lookupCtx, host)
			return err
		},
		NotifyFunc: func(err error, attempt int) {
			log.Warn("not online, retrying", map[string]any{
				"host":    host,
				"attempt": attempt,
				"error":   err.Error(),
			})
		},
		Attempts:    attempts,
		Delay:       backoff,
		BackoffFunc: retry.DoubleDelay,
		Clock:       clk,
		Stop:        ctx.Done(),
	})
	if err != nil {
		return errclass.ErrOffline.WithMessagef("resolving %s: %v", host, retry.LastError(err))
	}
	return nil
}
