package model

import "time"

// LockRecord is the JSON body of a lock file under the lock directory.
// It identifies the holder so a later run can decide whether the holder
// is still alive.
type LockRecord struct {
	Key        string    `json:"key"`
	Job        string    `json:"job"`
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquired_at"`
}
