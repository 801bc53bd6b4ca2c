package systemd

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/smazurov/nodewatch/internal/events"
)

type recordedNotify struct {
	mu     sync.Mutex
	states []string
	err    error
}

func (r *recordedNotify) notify(_ bool, state string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	r.states = append(r.states, state)
	return true, nil
}

func (r *recordedNotify) wait(t *testing.T, prefix string) string {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		for _, s := range r.states {
			if strings.HasPrefix(s, prefix) {
				r.mu.Unlock()
				return s
			}
		}
		r.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no notification with prefix %q", prefix)
	return ""
}

func newTestNotifier(bus *events.Bus) (*Notifier, *recordedNotify) {
	rec := &recordedNotify{}
	n := &Notifier{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		notify: rec.notify,
	}
	n.subscribe(bus)
	return n, rec
}

func TestReady(t *testing.T) {
	n, rec := newTestNotifier(events.New())
	defer n.Close()

	n.Ready()
	rec.wait(t, daemon.SdNotifyReady)
}

func TestChildStateStatus(t *testing.T) {
	bus := events.New()
	n, rec := newTestNotifier(bus)
	defer n.Close()

	bus.Publish(events.ChildStateChangedEvent{ID: "child-1", To: "running", PID: 42})

	got := rec.wait(t, statusPrefix)
	if want := "STATUS=child child-1 running (pid 42)"; got != want {
		t.Errorf("status = %q, want %q", got, want)
	}
}

func TestSessionClosedStopping(t *testing.T) {
	bus := events.New()
	n, rec := newTestNotifier(bus)
	defer n.Close()

	bus.Publish(events.SessionClosedEvent{Path: "/z", Code: "session-expired"})

	got := rec.wait(t, daemon.SdNotifyStopping)
	if !strings.Contains(got, "session-expired") {
		t.Errorf("notification = %q, want close code", got)
	}
}

func TestNotifyErrorIsAbsorbed(t *testing.T) {
	n, rec := newTestNotifier(events.New())
	defer n.Close()
	rec.err = errors.New("socket gone")

	n.Stopping() // must not panic
}

func TestCloseUnsubscribes(t *testing.T) {
	bus := events.New()
	n, rec := newTestNotifier(bus)
	n.Close()

	bus.Publish(events.ChildStateChangedEvent{ID: "child-1", To: "running"})
	time.Sleep(20 * time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.states) != 0 {
		t.Errorf("notifications after Close: %v", rec.states)
	}
}

func TestWatchdogDisabled(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "")
	n, rec := newTestNotifier(events.New())
	defer n.Close()

	done := make(chan struct{})
	go func() {
		n.Watchdog(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watchdog should return at once when disabled")
	}
	if len(rec.states) != 0 {
		t.Errorf("unexpected notifications: %v", rec.states)
	}
}

func TestWatchdogPings(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "20000")
	t.Setenv("WATCHDOG_PID", "")
	n, rec := newTestNotifier(events.New())
	defer n.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Watchdog(ctx)
		close(done)
	}()

	if got := rec.wait(t, daemon.SdNotifyWatchdog); got != daemon.SdNotifyWatchdog {
		t.Errorf("ping = %q", got)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watchdog did not stop on cancel")
	}
}
