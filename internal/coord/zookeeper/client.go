// Package zookeeper adapts github.com/go-zookeeper/zk to coord.Client.
package zookeeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/smazurov/nodewatch/internal/coord"
)

// conn is the subset of *zk.Conn the adapter uses.
type conn interface {
	ExistsW(path string) (bool, *zk.Stat, <-chan zk.Event, error)
	Get(path string) ([]byte, *zk.Stat, error)
	ChildrenW(path string) ([]string, *zk.Stat, <-chan zk.Event, error)
	Close()
}

type watchKind int

const (
	watchExists watchKind = iota
	watchChildren
)

type watchKey struct {
	path string
	kind watchKind
}

// Client implements coord.Client on top of a go-zookeeper connection.
//
// go-zookeeper delivers watch events on one channel per registration and
// panics if its session channel is left unread. Client drains both into an
// unbounded queue so slow consumers never stall the connection.
//
// Repeated registrations of the same watch are collapsed: while a watch on
// (path, kind) is armed, further channels for it are dropped, so each change
// is delivered once no matter how often the path was re-watched.
//
// Session events keep their order. Watch events are relayed by one
// goroutine per armed watch, so events from different watches can be
// queued in a different order than the server sent them.
type Client struct {
	conn   conn
	logger *slog.Logger

	mu     sync.Mutex
	queue  []coord.Event
	armed  map[watchKey]struct{}
	notify chan struct{}

	out       chan coord.Event
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the given servers. The connection is established in the
// background; session events report progress.
func Dial(servers []string, sessionTimeout time.Duration, logger *slog.Logger) (*Client, error) {
	zconn, sessionEvents, err := zk.Connect(servers, sessionTimeout, zk.WithLogger(printfLogger{logger}))
	if err != nil {
		return nil, fmt.Errorf("connect to %v: %w", servers, err)
	}
	logger.Info("Connecting to coordination service", "servers", servers, "session_timeout", sessionTimeout)
	return newClient(zconn, sessionEvents, logger), nil
}

func newClient(c conn, sessionEvents <-chan zk.Event, logger *slog.Logger) *Client {
	client := &Client{
		conn:   c,
		logger: logger,
		armed:  make(map[watchKey]struct{}),
		notify: make(chan struct{}, 1),
		out:    make(chan coord.Event),
		done:   make(chan struct{}),
	}
	go client.pumpSession(sessionEvents)
	go client.dispatch()
	return client
}

// ExistsW implements coord.Client.
func (c *Client) ExistsW(path string) <-chan coord.ExistsResult {
	result := make(chan coord.ExistsResult, 1)
	go func() {
		exists, stat, watch, err := c.conn.ExistsW(path)
		if watch != nil {
			c.forwardWatch(watchKey{path, watchExists}, watch)
		}
		res := coord.ExistsResult{Path: path, Code: codeFromError(err)}
		switch {
		case err != nil:
		case exists:
			res.Stat = convertStat(stat)
		default:
			res.Code = coord.CodeNoNode
		}
		result <- res
	}()
	return result
}

// Get implements coord.Client. go-zookeeper has no cancellation, so an
// interrupted read is abandoned and left to finish in the background.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	type reply struct {
		data []byte
		err  error
	}
	ch := make(chan reply, 1)
	go func() {
		data, _, err := c.conn.Get(path)
		ch <- reply{data, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, translateError(r.err)
		}
		if r.data == nil {
			r.data = []byte{}
		}
		return r.data, nil
	}
}

// ChildrenW implements coord.Client.
func (c *Client) ChildrenW(ctx context.Context, path string) ([]string, error) {
	type reply struct {
		children []string
		err      error
	}
	ch := make(chan reply, 1)
	go func() {
		children, _, watch, err := c.conn.ChildrenW(path)
		if watch != nil {
			c.forwardWatch(watchKey{path, watchChildren}, watch)
		}
		ch <- reply{children, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, translateError(r.err)
		}
		return r.children, nil
	}
}

// Events implements coord.Client.
func (c *Client) Events() <-chan coord.Event {
	return c.out
}

// Close implements coord.Client.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *Client) pumpSession(events <-chan zk.Event) {
	for ev := range events {
		c.logger.Debug("Session event", "state", ev.State.String(), "type", ev.Type.String())
		c.enqueue(convertEvent(ev))
	}
}

// forwardWatch relays the first event of watch unless the same watch is
// already armed. The key is disarmed before the event is queued, so the
// consumer's re-registration in response always arms a fresh watch.
func (c *Client) forwardWatch(key watchKey, watch <-chan zk.Event) {
	c.mu.Lock()
	if _, ok := c.armed[key]; ok {
		c.mu.Unlock()
		return
	}
	c.armed[key] = struct{}{}
	c.mu.Unlock()

	go func() {
		select {
		case ev, ok := <-watch:
			c.mu.Lock()
			delete(c.armed, key)
			c.mu.Unlock()
			if ok {
				c.enqueue(convertEvent(ev))
			}
		case <-c.done:
		}
	}()
}

// armedWatches returns how many distinct watches are being relayed.
func (c *Client) armedWatches() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.armed)
}

func (c *Client) enqueue(ev coord.Event) {
	c.mu.Lock()
	c.queue = append(c.queue, ev)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// dispatch moves queued events to the consumer in arrival order.
func (c *Client) dispatch() {
	defer close(c.out)
	for {
		c.mu.Lock()
		var next *coord.Event
		if len(c.queue) > 0 {
			ev := c.queue[0]
			c.queue = c.queue[1:]
			next = &ev
		}
		c.mu.Unlock()

		if next == nil {
			select {
			case <-c.notify:
				continue
			case <-c.done:
				return
			}
		}

		select {
		case c.out <- *next:
		case <-c.done:
			return
		}
	}
}

func convertEvent(ev zk.Event) coord.Event {
	out := coord.Event{
		State: convertState(ev.State),
		Path:  ev.Path,
		Err:   ev.Err,
	}
	switch ev.Type {
	case zk.EventNodeCreated:
		out.Type = coord.EventNodeCreated
	case zk.EventNodeDeleted:
		out.Type = coord.EventNodeDeleted
	case zk.EventNodeDataChanged:
		out.Type = coord.EventNodeDataChanged
	case zk.EventNodeChildrenChanged:
		out.Type = coord.EventNodeChildrenChanged
	case zk.EventNotWatching:
		out.Type = coord.EventNotWatching
	default:
		out.Type = coord.EventSession
	}
	return out
}

func convertState(s zk.State) coord.State {
	switch s {
	case zk.StateDisconnected:
		return coord.StateDisconnected
	case zk.StateConnecting:
		return coord.StateConnecting
	case zk.StateConnected, zk.StateConnectedReadOnly:
		return coord.StateConnected
	case zk.StateHasSession:
		return coord.StateHasSession
	case zk.StateExpired:
		return coord.StateExpired
	case zk.StateAuthFailed:
		return coord.StateAuthFailed
	default:
		return coord.StateUnknown
	}
}

func convertStat(s *zk.Stat) *coord.Stat {
	if s == nil {
		return nil
	}
	return &coord.Stat{
		Version:     s.Version,
		DataLength:  s.DataLength,
		NumChildren: s.NumChildren,
		Mzxid:       s.Mzxid,
	}
}

func codeFromError(err error) coord.Code {
	switch {
	case err == nil:
		return coord.CodeOK
	case errors.Is(err, zk.ErrNoNode):
		return coord.CodeNoNode
	case errors.Is(err, zk.ErrSessionExpired):
		return coord.CodeSessionExpired
	case errors.Is(err, zk.ErrNoAuth), errors.Is(err, zk.ErrAuthFailed):
		return coord.CodeNoAuth
	case errors.Is(err, zk.ErrConnectionClosed):
		return coord.CodeConnectionLoss
	case errors.Is(err, zk.ErrClosing):
		return coord.CodeClosing
	default:
		return coord.CodeUnknown
	}
}

func translateError(err error) error {
	if errors.Is(err, zk.ErrNoNode) {
		return coord.ErrNoNode
	}
	return err
}

// printfLogger routes go-zookeeper's printf-style logging into slog.
type printfLogger struct {
	logger *slog.Logger
}

func (l printfLogger) Printf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
