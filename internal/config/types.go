package config

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Host      HostConfig      `json:"host"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Metrics   MetricsConfig   `json:"metrics,omitempty"`
	Systemd   SystemdConfig   `json:"systemd,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	// MaxErrorsPerSec caps error-level log lines per second. 0 disables the cap.
	MaxErrorsPerSec int `json:"max_errors_per_sec,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// HostConfig controls the simulation step loop.
//
// Defaults:
//   - ticks_per_second: 20
//   - overrun_warn: one tick interval ("-1s" or any negative value disables)
//   - heartbeat_ticks: 0 (disabled)
type HostConfig struct {
	TicksPerSecond int `json:"ticks_per_second,omitempty"`
	// OverrunWarn is a Go duration string (e.g. "50ms").
	OverrunWarn string `json:"overrun_warn,omitempty"`
	// HeartbeatTicks logs a status line every N ticks.
	HeartbeatTicks int64 `json:"heartbeat_ticks,omitempty"`
}

// SchedulerConfig controls the task scheduler.
type SchedulerConfig struct {
	// Timezone for wall-clock schedules (IANA name). Empty means local time.
	Timezone string `json:"timezone,omitempty"`

	// Failure log limiter. failure_log_per_sec <= 0 logs every failure.
	FailureLogPerSec float64 `json:"failure_log_per_sec,omitempty"`
	FailureLogBurst  int     `json:"failure_log_burst,omitempty"`

	// SlowRun warns when a single action runs longer (Go duration string).
	SlowRun string `json:"slow_run,omitempty"`
}

// StorageConfig controls the run-history store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./lynxhost.db", "history_limit": 5000 }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	// HistoryLimit keeps at most this many run records (sqlite). 0 keeps all.
	HistoryLimit int `json:"history_limit,omitempty"`
}

// MetricsConfig controls the HTTP metrics server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9464").
//   - Binding to a non-loopback address requires a token or allow_insecure.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:9464"
	Pprof         bool   `json:"pprof,omitempty"` // also serve /debug/pprof/
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

type SystemdConfig struct {
	Notify   bool `json:"notify"`
	Watchdog bool `json:"watchdog"`
}
