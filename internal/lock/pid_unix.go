//go:build !windows

package lock

import "syscall"

// pidAlive probes a process with signal 0. EPERM still means the
// process exists, it just belongs to someone else.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}
