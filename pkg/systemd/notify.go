// Package systemd talks to systemd: readiness and watchdog notifications for
// the daemon itself, and unit status/restart for operators.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends sd_notify messages. Without NOTIFY_SOCKET every call is a
// no-op, so it is safe to use outside systemd.
type Notifier struct{}

func (Notifier) Ready() (bool, error)    { return daemon.SdNotify(false, daemon.SdNotifyReady) }
func (Notifier) Stopping() (bool, error) { return daemon.SdNotify(false, daemon.SdNotifyStopping) }
func (Notifier) Reloading() (bool, error) {
	return daemon.SdNotify(false, daemon.SdNotifyReloading)
}

// Status sets the free-form status line shown by systemctl status.
func (Notifier) Status(s string) (bool, error) { return daemon.SdNotify(false, "STATUS="+s) }

// WatchdogInterval returns half the configured WatchdogSec, or 0 when the
// unit has no watchdog.
func (Notifier) WatchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil || d <= 0 {
		return 0
	}
	return d / 2
}

// RunWatchdog pings the watchdog until ctx is done. healthy is consulted
// before each ping; a false result skips the ping so systemd can restart us.
func (n Notifier) RunWatchdog(ctx context.Context, healthy func() bool) {
	every := n.WatchdogInterval()
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if healthy != nil && !healthy() {
				continue
			}
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
