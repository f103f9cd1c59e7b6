package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// HistoryLimit bounds the number of kept run records. 0 uses
	// DefaultHistoryLimit.
	HistoryLimit int
}

const DefaultHistoryLimit = 10000

func (c Config) historyLimit() int {
	if c.HistoryLimit > 0 {
		return c.HistoryLimit
	}
	return DefaultHistoryLimit
}

// Run outcomes.
const (
	OutcomeExecuted  = "executed"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// RunRecord is one finished (or cancelled) task instance.
type RunRecord struct {
	At        time.Time `json:"at"`
	TaskID    string    `json:"task_id"`
	Outcome   string    `json:"outcome"`
	Due       int64     `json:"due"`
	Tick      int64     `json:"tick,omitempty"`
	Repeating bool      `json:"repeating,omitempty"`
	Inline    bool      `json:"inline,omitempty"`
	TookUS    int64     `json:"took_us,omitempty"`
	Error     string    `json:"error,omitempty"`
}
