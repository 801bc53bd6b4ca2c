package monitor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/looplab/fsm"
	"github.com/smazurov/nodewatch/internal/coord"
)

// Lifecycle states.
const (
	StateInit     = "init"
	StateWatching = "watching"
	StateDead     = "dead"
)

const (
	eventArm    = "arm"
	eventExpire = "expire"
)

// Default retry policy for transient existence-check failures.
const (
	DefaultRetryInitial = 100 * time.Millisecond
	DefaultRetryMax     = 10 * time.Second
)

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// WithBackOff sets the delay policy used before re-issuing a check after a
// transient failure. A policy that returns backoff.Stop retries immediately.
func WithBackOff(b backoff.BackOff) Option {
	return func(m *Monitor) {
		m.retry = b
	}
}

// WithRetry is shorthand for an exponential WithBackOff policy that never
// gives up.
func WithRetry(initial, maxInterval time.Duration) Option {
	return WithBackOff(newExponential(initial, maxInterval))
}

// Snapshot is a point-in-time view of a Monitor, safe to take from any
// goroutine.
type Snapshot struct {
	Path        string
	State       string
	Known       bool
	Size        int
	Descendants int
	Checks      int64
	Retries     int64
}

// checkResult tags an existence result with the sequence number of the
// check that produced it.
type checkResult struct {
	seq uint64
	res coord.ExistsResult
}

// Monitor tracks the existence and content of one node.
type Monitor struct {
	client    coord.Client
	path      string
	sink      EventHandler
	listener  Listener
	logger    *slog.Logger
	lifecycle *fsm.FSM
	retry     backoff.BackOff
	results   chan checkResult

	// Owned by the Run goroutine.
	lastKnown   []byte
	known       bool
	descendants int
	issued      uint64

	// Mirrors for Snapshot.
	knownFlag atomic.Bool
	size      atomic.Int64
	descCount atomic.Int64
	checks    atomic.Int64
	retries   atomic.Int64
}

// New creates a Monitor for path. sink is optional and receives every raw
// event after the Monitor has handled it. Nothing happens until Run.
func New(client coord.Client, path string, sink EventHandler, listener Listener, opts ...Option) *Monitor {
	m := &Monitor{
		client:   client,
		path:     path,
		sink:     sink,
		listener: listener,
		logger:   slog.Default(),
		results:  make(chan checkResult, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.retry == nil {
		m.retry = newExponential(DefaultRetryInitial, DefaultRetryMax)
	}

	m.lifecycle = fsm.NewFSM(
		StateInit,
		fsm.Events{
			{Name: eventArm, Src: []string{StateInit}, Dst: StateWatching},
			{Name: eventExpire, Src: []string{StateInit, StateWatching}, Dst: StateDead},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				m.logger.Debug("Monitor state changed", "from", e.Src, "to", e.Dst, "path", m.path)
			},
		},
	)
	return m
}

// Run arms the first watch, takes the initial descendant count and then
// handles events until ctx is cancelled or the event stream closes.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.lifecycle.Event(ctx, eventArm); err != nil {
		return fmt.Errorf("start monitor for %s: %w", m.path, err)
	}
	m.logger.Info("Watching node", "path", m.path)

	m.check(ctx, 0)
	m.recount(ctx, false)

	events := m.client.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				m.logger.Info("Coordination event stream closed")
				return nil
			}
			m.handleEvent(ctx, ev)
		case r := <-m.results:
			m.handleCheck(ctx, r)
		}
	}
}

// Dead reports whether the session has been lost.
func (m *Monitor) Dead() bool {
	return m.lifecycle.Is(StateDead)
}

// Snapshot returns the current view of the watched node.
func (m *Monitor) Snapshot() Snapshot {
	return Snapshot{
		Path:        m.path,
		State:       m.lifecycle.Current(),
		Known:       m.knownFlag.Load(),
		Size:        int(m.size.Load()),
		Descendants: int(m.descCount.Load()),
		Checks:      m.checks.Load(),
		Retries:     m.retries.Load(),
	}
}

func (m *Monitor) handleEvent(ctx context.Context, ev coord.Event) {
	switch {
	case ev.Type == coord.EventSession:
		switch ev.State {
		case coord.StateExpired:
			m.expire(ctx, coord.CodeSessionExpired)
		case coord.StateAuthFailed:
			m.expire(ctx, coord.CodeNoAuth)
		default:
			// Watches survive reconnects.
			m.logger.Debug("Session state", "state", ev.State.String())
		}
	case m.Dead():
		m.logger.Debug("Ignoring node event after session loss", "type", ev.Type.String(), "path", ev.Path)
	case ev.Type == coord.EventNodeChildrenChanged:
		m.listener.ListChildren(ctx, m.path)
		m.recount(ctx, true)
	case ev.Path != "":
		m.check(ctx, 0)
	}

	if m.sink != nil {
		m.sink.HandleEvent(ev)
	}
}

// handleCheck drops results overtaken by a newer check. Checks complete
// concurrently, so an older answer can arrive after a newer one.
func (m *Monitor) handleCheck(ctx context.Context, r checkResult) {
	if r.seq < m.issued {
		m.logger.Debug("Discarding stale existence result", "path", m.path, "code", r.res.Code.String(), "seq", r.seq, "latest", m.issued)
		return
	}
	m.handleResult(ctx, r.res)
}

func (m *Monitor) handleResult(ctx context.Context, res coord.ExistsResult) {
	if m.Dead() {
		return
	}

	var exists bool
	switch res.Code {
	case coord.CodeOK:
		exists = true
	case coord.CodeNoNode:
		exists = false
	case coord.CodeSessionExpired, coord.CodeNoAuth:
		m.expire(ctx, res.Code)
		return
	default:
		m.retryCheck(ctx, "code", res.Code.String())
		return
	}

	var data []byte
	if exists {
		b, err := m.client.Get(ctx, m.path)
		switch {
		case err == nil:
			data = b
		case errors.Is(err, coord.ErrNoNode):
			// Deleted between check and read; the armed watch resynchronizes.
			m.logger.Debug("Node vanished before read", "path", m.path)
			return
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return
		default:
			m.retryCheck(ctx, "error", err)
			return
		}
		if data == nil {
			data = []byte{}
		}
	}

	m.retry.Reset()
	m.reconcile(ctx, data, exists)
}

// reconcile notifies the listener only when presence or bytes differ from
// the last delivered content.
func (m *Monitor) reconcile(ctx context.Context, data []byte, exists bool) {
	if exists == m.known && (!exists || bytes.Equal(data, m.lastKnown)) {
		return
	}
	if !exists {
		data = nil
	}

	m.logger.Info("Node content changed", "path", m.path, "exists", exists, "size", len(data))
	m.listener.ContentChanged(ctx, data)

	m.lastKnown = data
	m.known = exists
	m.knownFlag.Store(exists)
	m.size.Store(int64(len(data)))
}

func (m *Monitor) recount(ctx context.Context, report bool) {
	n, err := m.listener.CountDescendants(ctx, m.path)
	if err != nil {
		m.logger.Warn("Failed to count descendants", "path", m.path, "error", err)
		return
	}
	if report && n > m.descendants {
		m.listener.DescendantsGrew(m.path, n)
	}
	m.descendants = n
	m.descCount.Store(int64(n))
}

func (m *Monitor) expire(ctx context.Context, code coord.Code) {
	if err := m.lifecycle.Event(ctx, eventExpire); err != nil {
		return
	}
	m.logger.Warn("Session lost", "path", m.path, "code", code.String())
	m.listener.Closing(code)
}

func (m *Monitor) retryCheck(ctx context.Context, attrs ...any) {
	delay := m.retry.NextBackOff()
	if delay == backoff.Stop {
		delay = 0
	}
	m.retries.Add(1)
	m.logger.Debug("Retrying existence check", append(attrs, "path", m.path, "delay", delay)...)
	m.check(ctx, delay)
}

// check issues an existence check, optionally after delay, and feeds the
// result back to the Run loop. Only the latest check's result is acted on.
func (m *Monitor) check(ctx context.Context, delay time.Duration) {
	m.issued++
	seq := m.issued
	go func() {
		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
		}
		if m.Dead() {
			return
		}

		m.checks.Add(1)
		var res coord.ExistsResult
		select {
		case <-ctx.Done():
			return
		case res = <-m.client.ExistsW(m.path):
		}

		select {
		case m.results <- checkResult{seq: seq, res: res}:
		case <-ctx.Done():
		}
	}()
}

func newExponential(initial, maxInterval time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = maxInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
