package config

import (
	"strings"

	logx "github.com/Spaxterr/lynxlib/pkg/logx"
)

// SummarizeChange lists the sections that differ between two configs plus
// log fields describing the new values. Secrets are reported as set/unset.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var changed []string
	var attrs []logx.Field

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Host != newCfg.Host {
		changed = append(changed, "host")
		attrs = append(attrs,
			logx.Int("host.ticks_per_second", newCfg.Host.TicksPerSecond),
			logx.String("host.overrun_warn", strings.TrimSpace(newCfg.Host.OverrunWarn)),
			logx.Int64("host.heartbeat_ticks", newCfg.Host.HeartbeatTicks),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.Any("scheduler.failure_log_per_sec", newCfg.Scheduler.FailureLogPerSec),
		)
	}

	var oldSt, newSt StorageConfig
	if oldCfg.Storage != nil {
		oldSt = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		newSt = *newCfg.Storage
	}
	if oldSt != newSt {
		// Storage is opened once at startup; a change needs a restart.
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newSt.Driver),
			logx.Bool("storage.restart_required", true),
		)
	}

	om, nm := oldCfg.Metrics, newCfg.Metrics
	if om.Enabled != nm.Enabled || om.Addr != nm.Addr || om.Pprof != nm.Pprof ||
		om.AllowInsecure != nm.AllowInsecure || om.Token != nm.Token {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", nm.Enabled),
			logx.String("metrics.addr", strings.TrimSpace(nm.Addr)),
			logx.Bool("metrics.pprof", nm.Pprof),
			logx.Bool("metrics.token_set", strings.TrimSpace(nm.Token) != ""),
		)
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
		attrs = append(attrs, logx.Bool("systemd.restart_required", true))
	}

	return changed, attrs
}
