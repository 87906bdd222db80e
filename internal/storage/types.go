package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures the SQLite database.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// ExecutionRecord is one row of the execution audit trail.
// Keep it compact and schema-stable.
type ExecutionRecord struct {
	FormID  string
	At      time.Time
	Forced  bool
	Success bool
	Message string
}
