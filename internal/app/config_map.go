package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/Spaxterr/lynxlib/internal/config"
	"github.com/Spaxterr/lynxlib/internal/host"
	"github.com/Spaxterr/lynxlib/internal/observability/metrics"
	"github.com/Spaxterr/lynxlib/internal/storage"
	logx "github.com/Spaxterr/lynxlib/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		MaxErrorsPerSec: cfg.Logging.MaxErrorsPerSec,
	}
}

func mapHostConfig(cfg *config.Config) (host.Config, error) {
	warn, err := cfg.Host.OverrunWarnDuration()
	if err != nil {
		return host.Config{}, err
	}
	return host.Config{TicksPerSecond: cfg.Host.TicksPerSecond, OverrunWarn: warn}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path, HistoryLimit: sc.HistoryLimit}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy, HistoryLimit: sc.HistoryLimit}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapMetricsConfig(cfg *config.Config) metrics.ServerConfig {
	m := cfg.Metrics
	return metrics.ServerConfig{
		Enabled:       m.Enabled,
		Addr:          strings.TrimSpace(m.Addr),
		Pprof:         m.Pprof,
		Token:         strings.TrimSpace(m.Token),
		AllowInsecure: m.AllowInsecure,
	}
}

// validate is installed as the config manager's reload hook. Config.Validate
// has already run; this covers what only the app can map.
func validate(cfg *config.Config) error {
	if _, err := mapHostConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := cfg.Scheduler.Location(); err != nil {
		return fmt.Errorf("scheduler.timezone: %w", err)
	}
	return nil
}
