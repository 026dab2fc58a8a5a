// Package systemd reports service state to systemd. Every call is a no-op
// when the process was not started by systemd.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

func Ready() error    { return notify(daemon.SdNotifyReady) }
func Stopping() error { return notify(daemon.SdNotifyStopping) }

func notify(state string) error {
	_, err := daemon.SdNotify(false, state)
	return err
}

// RunWatchdog pings the watchdog at half the configured interval until ctx
// is done. It returns immediately when WatchdogSec is not set.
func RunWatchdog(ctx context.Context) {
	iv, err := daemon.SdWatchdogEnabled(false)
	if err != nil || iv <= 0 {
		return
	}
	t := time.NewTicker(iv / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_ = notify(daemon.SdNotifyWatchdog)
		}
	}
}
