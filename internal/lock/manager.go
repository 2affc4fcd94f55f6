// Package lock serializes jobs that share a (source, target) pair. The
// external backup tool is not safe for concurrent writers against the
// same storage, so the lock key is derived from the pair rather than
// the job name.
package lock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/superdup-project/superdup/pkg/errclass"
	"github.com/superdup-project/superdup/pkg/model"
)

// Manager hands out per-key file locks under a lock directory.
//
// Stale-lock reclamation rule: a lock file whose recorded holder PID is
// no longer alive on this host is reclaimed. Liveness is probed with
// signal 0; records from a different hostname are never reclaimed
// because the probe would be meaningless there. An unparseable record
// is treated as stale.
type Manager struct {
	dir string

	mu   sync.Mutex
	held map[string]bool
}

// NewManager creates a lock manager rooted at dir.
func NewManager(dir string) *Manager {
	return &Manager{
		dir:  dir,
		held: make(map[string]bool),
	}
}

// Handle represents one held lock. Release is idempotent.
type Handle struct {
	m    *Manager
	key  string
	path string

	mu       sync.Mutex
	released bool
}

// Acquire attempts to take the lock for the job's (source, target)
// pair. It never blocks: if the lock is held by a live process the
// caller gets ErrLockHeld immediately and can record the job as
// skipped.
func (m *Manager) Acquire(job model.Job) (*Handle, error) {
	key := job.LockKey()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Two goroutines of the same run must not race past the file probe.
	if m.held[key] {
		return nil, errclass.ErrLockHeld.WithMessagef("lock %s held by this run", key)
	}

	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	path := filepath.Join(m.dir, key+".lock")
	if err := m.createLockFile(path, key, job); err != nil {
		if !os.IsExist(err) {
			return nil, err
		}
		if err := m.reclaimIfStale(path); err != nil {
			return nil, err
		}
		// Stale holder cleared, one retry.
		if err := m.createLockFile(path, key, job); err != nil {
			if os.IsExist(err) {
				return nil, errclass.ErrLockHeld.WithMessagef("lock %s re-acquired concurrently", key)
			}
			return nil, err
		}
	}

	m.held[key] = true
	return &Handle{m: m, key: key, path: path}, nil
}

// Release frees the lock. Safe to call more than once; every exit path
// of an executor defers it.
func (h *Handle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	h.released = true

	h.m.mu.Lock()
	delete(h.m.held, h.key)
	h.m.mu.Unlock()

	if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

// Stale lists lock files in the directory whose holder is dead. Used by
// doctor; Acquire reclaims them on its own.
func (m *Manager) Stale() ([]model.LockRecord, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read lock dir: %w", err)
	}

	var stale []model.LockRecord
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".lock" {
			continue
		}
		rec, err := readRecord(filepath.Join(m.dir, e.Name()))
		if err != nil {
			stale = append(stale, model.LockRecord{Key: e.Name()})
			continue
		}
		if !holderAlive(rec) {
			stale = append(stale, *rec)
		}
	}
	return stale, nil
}

func (m *Manager) createLockFile(path, key string, job model.Job) error {
	// O_EXCL makes creation the atomic acquire step.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer file.Close()

	hostname, _ := os.Hostname()
	rec := model.LockRecord{
		Key:        key,
		Job:        job.Name,
		PID:        os.Getpid(),
		Hostname:   hostname,
		AcquiredAt: time.Now().UTC(),
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal lock record: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		os.Remove(path)
		return fmt.Errorf("write lock record: %w", err)
	}
	return file.Sync()
}

func (m *Manager) reclaimIfStale(path string) error {
	rec, err := readRecord(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // holder released between probe and read
		}
		// Unreadable record: a crashed writer. Reclaim.
	} else if holderAlive(rec) {
		return errclass.ErrLockHeld.WithMessagef(
			"held by pid %d on %s since %s", rec.PID, rec.Hostname,
			rec.AcquiredAt.Format(time.RFC3339))
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errclass.ErrLockStale.WithMessagef("reclaim failed: %v", err)
	}
	return nil
}

func readRecord(path string) (*model.LockRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec model.LockRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse lock record: %w", err)
	}
	return &rec, nil
}

func holderAlive(rec *model.LockRecord) bool {
	hostname, _ := os.Hostname()
	if rec.Hostname != hostname {
		// Cannot probe a foreign holder; err on the side of holding.
		return true
	}
	return pidAlive(rec.PID)
}
