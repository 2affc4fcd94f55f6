// Package stamp persists the time of each job's last successful full
// verification, so the expensive chunk check runs on an interval
// instead of every night.
package stamp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/superdup-project/superdup/pkg/fsutil"
)

// Store is a JSON map of job name to last verified time at a single
// well-known path.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a stamp store backed by path. The file may not
// exist yet; a missing file means nothing was ever verified.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// LastVerified returns the recorded verification time for a job, or a
// zero time if none is recorded.
func (s *Store) LastVerified(job string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stamps, err := s.load()
	if err != nil {
		return time.Time{}, err
	}
	return stamps[job], nil
}

// Due reports whether a full verification is due for the job: true
// when no stamp exists or the stamp is older than the interval.
func (s *Store) Due(job string, now time.Time, interval time.Duration) (bool, error) {
	last, err := s.LastVerified(job)
	if err != nil {
		return false, err
	}
	if last.IsZero() {
		return true, nil
	}
	return now.Sub(last) > interval, nil
}

// Record stores a fresh verification time for the job, written
// atomically so a crash never corrupts the other jobs' stamps.
func (s *Store) Record(job string, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stamps, err := s.load()
	if err != nil {
		return err
	}
	stamps[job] = when.UTC()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create stamp dir: %w", err)
	}
	data, err := json.MarshalIndent(stamps, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal stamps: %w", err)
	}
	return fsutil.AtomicWrite(s.path, data, 0644)
}

func (s *Store) load() (map[string]time.Time, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]time.Time), nil
		}
		return nil, fmt.Errorf("read stamps: %w", err)
	}
	stamps := make(map[string]time.Time)
	if err := json.Unmarshal(data, &stamps); err != nil {
		return nil, fmt.Errorf("parse stamps: %w", err)
	}
	return stamps, nil
}
