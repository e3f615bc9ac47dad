package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (snapshot + jsonl journal)
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// JobRecord is the persisted form of a registered job. The compiled spec is
// not stored; Expr is recompiled on restore.
type JobRecord struct {
	ID        int64  `json:"id"`
	Target    string `json:"target"`
	Handler   string `json:"handler"`
	Expr      string `json:"expr"`
	NextTick  int64  `json:"next_tick"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// RunRecord describes one execution of a job at a matched tick.
type RunRecord struct {
	RunID     string        `json:"run_id"`
	JobID     int64         `json:"job_id"`
	Tick      int64         `json:"tick"`
	Target    string        `json:"target"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Panicked  bool          `json:"panicked,omitempty"`
	NextTick  int64         `json:"next_tick"`
}
