//go:build windows

package lock

// pidAlive always reports true on Windows: there is no cheap liveness
// probe, so stale locks are never reclaimed automatically and must be
// cleared via doctor.
func pidAlive(pid int) bool {
	return pid > 0
}
