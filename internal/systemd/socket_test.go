package systemd

import (
	"context"
	"testing"
)

func TestGetListenersWithoutActivation(t *testing.T) {
	t.Setenv("LISTEN_PID", "")
	t.Setenv("LISTEN_FDS", "")

	listeners, err := GetListeners()
	if err != nil {
		t.Fatalf("get listeners: %v", err)
	}
	if listeners.Activated || listeners.API != nil || listeners.Metrics != nil {
		t.Fatalf("expected no activated listeners, got %#v", listeners)
	}
}

func TestNotifyWithoutSystemd(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")

	if err := NotifyReady(); err != nil {
		t.Fatalf("notify ready: %v", err)
	}
	if err := NotifyStopping(); err != nil {
		t.Fatalf("notify stopping: %v", err)
	}
}

func TestRunWatchdogDisabled(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := RunWatchdog(ctx); err != nil {
		t.Fatalf("run watchdog: %v", err)
	}
}
