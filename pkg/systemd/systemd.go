// Package systemd speaks the sd_notify protocol. Every call is a no-op when
// the process was not started by systemd with NOTIFY_SOCKET set.
package systemd

import (
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notify sends a raw state string such as "STATUS=draining". sent is false
// when there is no notification socket.
func Notify(state string) (sent bool, err error) {
	return daemon.SdNotify(false, state)
}

func Ready() (bool, error) { return Notify(daemon.SdNotifyReady) }

func Stopping() (bool, error) { return Notify(daemon.SdNotifyStopping) }

func Reloading() (bool, error) { return Notify(daemon.SdNotifyReloading) }

// Status sets the free-form status line shown by systemctl status.
func Status(format string, args ...any) (bool, error) {
	return Notify("STATUS=" + fmt.Sprintf(format, args...))
}

// WatchdogInterval returns how often the watchdog must be pinged, or 0 when
// the unit has no WatchdogSec. Callers should ping at half this interval.
func WatchdogInterval() (time.Duration, error) {
	return daemon.SdWatchdogEnabled(false)
}

func Watchdog() (bool, error) { return Notify(daemon.SdNotifyWatchdog) }
