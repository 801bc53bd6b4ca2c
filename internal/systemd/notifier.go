// Package systemd reports service state to systemd via sd_notify.
package systemd

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/smazurov/nodewatch/internal/events"
	"github.com/smazurov/nodewatch/internal/logging"
)

const statusPrefix = "STATUS="

// notifyFunc matches daemon.SdNotify.
type notifyFunc func(unsetEnvironment bool, state string) (bool, error)

// Notifier forwards lifecycle events to systemd. Without NOTIFY_SOCKET every
// call is a no-op.
type Notifier struct {
	logger        logging.Logger
	notify        notifyFunc
	unsubscribers []func()
}

// NewNotifier creates a Notifier subscribed to bus.
func NewNotifier(bus *events.Bus, logger logging.Logger) *Notifier {
	n := &Notifier{
		logger: logger,
		notify: daemon.SdNotify,
	}
	n.subscribe(bus)
	return n
}

func (n *Notifier) subscribe(bus *events.Bus) {
	n.unsubscribers = []func(){
		bus.Subscribe(func(e events.ChildStateChangedEvent) {
			status := fmt.Sprintf("child %s %s", e.ID, e.To)
			if e.PID != 0 {
				status = fmt.Sprintf("%s (pid %d)", status, e.PID)
			}
			n.send(statusPrefix + status)
		}),
		bus.Subscribe(func(e events.SessionClosedEvent) {
			n.send(daemon.SdNotifyStopping + "\n" + statusPrefix + "session closed: " + e.Code)
		}),
	}
}

// Ready signals that startup has finished.
func (n *Notifier) Ready() {
	n.send(daemon.SdNotifyReady)
}

// Stopping signals that shutdown has begun.
func (n *Notifier) Stopping() {
	n.send(daemon.SdNotifyStopping)
}

// Watchdog pings the systemd watchdog at half the configured interval until
// ctx is done. It returns immediately when the watchdog is not enabled.
func (n *Notifier) Watchdog(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.logger.Warn("Invalid watchdog configuration", "error", err)
		return
	}
	if interval == 0 {
		return
	}

	n.logger.Debug("Watchdog enabled", "interval", interval)
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}

// Close unsubscribes from the bus.
func (n *Notifier) Close() {
	for _, unsub := range n.unsubscribers {
		unsub()
	}
	n.unsubscribers = nil
}

func (n *Notifier) send(state string) {
	sent, err := n.notify(false, state)
	if err != nil {
		n.logger.Warn("Failed to notify systemd", "state", state, "error", err)
		return
	}
	if sent {
		n.logger.Debug("Notified systemd", "state", state)
	}
}
