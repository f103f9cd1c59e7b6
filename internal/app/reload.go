package app

import (
	"context"
	"slices"
	"strings"

	"github.com/Spaxterr/lynxlib/internal/config"
	logx "github.com/Spaxterr/lynxlib/pkg/logx"
)

// reloadLoop applies published configs until ctx is done. The manager
// delivers latest-wins, so a burst of edits arrives as one config.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			if newCfg == nil {
				continue
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.log.Debug("config change summary", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)

	if slices.Contains(sections, "storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if slices.Contains(sections, "systemd") {
		a.log.Warn("systemd config changed; restart required for changes to take effect")
	}

	a.logs.Apply(mapLoggingConfig(newCfg))

	if hc, err := mapHostConfig(newCfg); err != nil {
		a.log.Warn("invalid host config; keeping previous", logx.Err(err))
	} else {
		a.loop.Apply(hc)
	}
	if oldCfg == nil || oldCfg.Host.HeartbeatTicks != newCfg.Host.HeartbeatTicks {
		a.setHeartbeat(newCfg.Host.HeartbeatTicks)
	}

	a.sched.SetFailureLogLimit(newCfg.Scheduler.FailureLogPerSec, newCfg.Scheduler.FailureLogBurst)
	if loc, err := newCfg.Scheduler.Location(); err != nil {
		a.log.Warn("invalid scheduler.timezone; keeping previous", logx.Err(err))
	} else {
		a.planner.SetLocation(loc)
	}

	a.msrv.Reconfigure(ctx, mapMetricsConfig(newCfg))

	a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
}
