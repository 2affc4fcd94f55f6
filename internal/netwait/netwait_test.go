package netwait_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/superdup-project/superdup/internal/netwait"
	"github.com/superdup-project/superdup/pkg/errclass"
)

const waitTimeout = 10 * time.Second

var errNoRoute = errors.New("lookup www.google.com: no such host")

// scriptedResolver replays the given errors in order; a nil entry or
// running past the script resolves successfully.
type scriptedResolver struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (r *scriptedResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	if r.calls < len(r.errs) {
		err = r.errs[r.calls]
	}
	r.calls++
	if err != nil {
		return nil, err
	}
	return []string{"192.0.2.1"}, nil
}

func (r *scriptedResolver) lookups() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestWait_OnlineFirstTry(t *testing.T) {
	res := &scriptedResolver{}
	c := &netwait.Checker{Resolver: res}

	require.NoError(t, c.Wait(context.Background()))
	assert.Equal(t, 1, res.lookups())
}

func TestWait_RetriesUntilOnline(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	res := &scriptedResolver{errs: []error{errNoRoute, errNoRoute}}
	c := &netwait.Checker{Backoff: time.Second, Clock: clk, Resolver: res}
	done := make(chan error, 1)

	go func() { done <- c.Wait(context.Background()) }()

	// Backoff schedule is 1s then 2s (doubled per attempt).
	require.NoError(t, clk.WaitAdvance(time.Second, waitTimeout, 1))
	require.NoError(t, clk.WaitAdvance(2*time.Second, waitTimeout, 1))

	require.NoError(t, <-done)
	assert.Equal(t, 3, res.lookups())
}

func TestWait_ExhaustedAttempts(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	res := &scriptedResolver{errs: []error{errNoRoute, errNoRoute, errNoRoute}}
	c := &netwait.Checker{Attempts: 3, Backoff: time.Second, Clock: clk, Resolver: res}
	done := make(chan error, 1)

	go func() { done <- c.Wait(context.Background()) }()

	require.NoError(t, clk.WaitAdvance(time.Second, waitTimeout, 1))
	require.NoError(t, clk.WaitAdvance(2*time.Second, waitTimeout, 1))

	err := <-done
	require.ErrorIs(t, err, errclass.ErrOffline)
	assert.Contains(t, err.Error(), "no such host")
	assert.Equal(t, 3, res.lookups())
}

func TestWait_CancelStopsWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := &scriptedResolver{errs: []error{errNoRoute}}
	c := &netwait.Checker{Attempts: 3, Backoff: time.Second, Resolver: res}

	err := c.Wait(ctx)
	require.ErrorIs(t, err, errclass.ErrOffline)
	assert.Equal(t, 1, res.lookups())
}
