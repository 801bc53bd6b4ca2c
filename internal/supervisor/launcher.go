package supervisor

import (
	"fmt"
	"sync/atomic"

	"github.com/smazurov/nodewatch/internal/events"
	"github.com/smazurov/nodewatch/internal/logging"
	"github.com/smazurov/nodewatch/internal/process"
)

// NewProcessLauncher returns a LaunchFunc that starts argv as a new
// process.Process on every call.
func NewProcessLauncher(argv []string, logger logging.Logger, opts ...process.Option) LaunchFunc {
	var seq atomic.Int64
	return func() (Child, error) {
		id := fmt.Sprintf("child-%d", seq.Add(1))
		p := process.New(id, argv, logger, opts...)
		if err := p.Start(); err != nil {
			return nil, err
		}
		return p, nil
	}
}

// PublishStates returns a state callback that publishes child transitions on
// bus.
func PublishStates(bus *events.Bus) process.StateCallback {
	return func(info process.Info, from process.State) {
		ev := events.ChildStateChangedEvent{
			ID:        info.ID,
			From:      string(from),
			To:        string(info.State),
			PID:       info.PID,
			Timestamp: events.Now(),
		}
		if info.State == process.StateError && info.LastError != nil {
			ev.Error = info.LastError.Error()
		}
		bus.Publish(ev)
	}
}
