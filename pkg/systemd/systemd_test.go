package systemd

import (
	"context"
	"testing"
	"time"
)

func TestNotifierOutsideSystemd(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("WATCHDOG_USEC", "")
	var n Notifier
	if sent, err := n.Ready(); sent || err != nil {
		t.Fatalf("Ready outside systemd: sent=%v err=%v", sent, err)
	}
	if d := n.WatchdogInterval(); d != 0 {
		t.Fatalf("watchdog interval = %v", d)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		n.RunWatchdog(ctx, nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("RunWatchdog should return at once without a watchdog")
	}
}
