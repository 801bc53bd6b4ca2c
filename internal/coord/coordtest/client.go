// Package coordtest provides an in-memory coord.Client for tests.
//
// The fake keeps a flat map of nodes and honours one-shot watch semantics:
// ExistsW and ChildrenW arm a watch, the next matching mutation fires exactly
// one event on Events and disarms it. Faults can be injected per call.
package coordtest

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/smazurov/nodewatch/internal/coord"
)

// Client is an in-memory coord.Client. The zero value is not usable; call New.
type Client struct {
	mu            sync.Mutex
	nodes         map[string][]byte
	existsWatches map[string]bool
	childWatches  map[string]bool
	existsCodes   []coord.Code
	getErrs       []error
	childErrs     map[string]error
	existsCalls   int
	childrenCalls int

	events    chan coord.Event
	closeOnce sync.Once
}

// New returns an empty fake.
func New() *Client {
	return &Client{
		nodes:         make(map[string][]byte),
		existsWatches: make(map[string]bool),
		childWatches:  make(map[string]bool),
		childErrs:     make(map[string]error),
		events:        make(chan coord.Event, 256),
	}
}

// ExistsW implements coord.Client. Queued codes from FailExists take
// precedence over the real node state.
func (c *Client) ExistsW(p string) <-chan coord.ExistsResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.existsCalls++
	result := make(chan coord.ExistsResult, 1)

	if len(c.existsCodes) > 0 {
		code := c.existsCodes[0]
		c.existsCodes = c.existsCodes[1:]
		result <- coord.ExistsResult{Path: p, Code: code}
		return result
	}

	c.existsWatches[p] = true
	data, ok := c.nodes[p]
	if !ok {
		result <- coord.ExistsResult{Path: p, Code: coord.CodeNoNode}
		return result
	}
	result <- coord.ExistsResult{
		Path: p,
		Code: coord.CodeOK,
		Stat: &coord.Stat{DataLength: int32(len(data))},
	}
	return result
}

// Get implements coord.Client.
func (c *Client) Get(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.getErrs) > 0 {
		err := c.getErrs[0]
		c.getErrs = c.getErrs[1:]
		return nil, err
	}

	data, ok := c.nodes[p]
	if !ok {
		return nil, coord.ErrNoNode
	}
	return append([]byte{}, data...), nil
}

// ChildrenW implements coord.Client.
func (c *Client) ChildrenW(ctx context.Context, p string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.childrenCalls++
	if err, ok := c.childErrs[p]; ok {
		return nil, err
	}
	if _, ok := c.nodes[p]; !ok {
		return nil, coord.ErrNoNode
	}
	c.childWatches[p] = true
	return c.childrenLocked(p), nil
}

// Events implements coord.Client.
func (c *Client) Events() <-chan coord.Event {
	return c.events
}

// Close implements coord.Client.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		close(c.events)
	})
}

// Create adds a node and fires armed watches on it and on its parent.
func (c *Client) Create(p string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if data == nil {
		data = []byte{}
	}
	c.nodes[p] = append([]byte{}, data...)
	c.fireExistsLocked(p, coord.EventNodeCreated)
	c.fireChildrenLocked(path.Dir(p))
}

// Set replaces the content of an existing node.
func (c *Client) Set(p string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if data == nil {
		data = []byte{}
	}
	c.nodes[p] = append([]byte{}, data...)
	c.fireExistsLocked(p, coord.EventNodeDataChanged)
}

// Delete removes a node.
func (c *Client) Delete(p string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.nodes, p)
	c.fireExistsLocked(p, coord.EventNodeDeleted)
	c.fireChildrenLocked(p)
	c.fireChildrenLocked(path.Dir(p))
}

// SetQuiet changes node content without firing watches.
func (c *Client) SetQuiet(p string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes[p] = append([]byte{}, data...)
}

// DeleteQuiet removes a node without firing watches.
func (c *Client) DeleteQuiet(p string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.nodes, p)
}

// Fire injects a raw event on the event stream.
func (c *Client) Fire(ev coord.Event) {
	c.events <- ev
}

// ExpireSession fires a session-expired event.
func (c *Client) ExpireSession() {
	c.Fire(coord.Event{Type: coord.EventSession, State: coord.StateExpired})
}

// FailExists queues result codes returned by the next ExistsW calls, in order.
// Failed calls do not arm a watch.
func (c *Client) FailExists(codes ...coord.Code) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.existsCodes = append(c.existsCodes, codes...)
}

// FailGet queues errors returned by the next Get calls, in order.
func (c *Client) FailGet(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.getErrs = append(c.getErrs, errs...)
}

// FailChildren makes every ChildrenW call on p fail with err. A nil err
// clears the fault.
func (c *Client) FailChildren(p string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.childErrs, p)
		return
	}
	c.childErrs[p] = err
}

// ExistsCalls returns how many times ExistsW has been called.
func (c *Client) ExistsCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.existsCalls
}

// ChildrenCalls returns how many times ChildrenW has been called.
func (c *Client) ChildrenCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.childrenCalls
}

// ExistsArmed reports whether an exists watch is currently armed on p.
func (c *Client) ExistsArmed(p string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.existsWatches[p]
}

func (c *Client) childrenLocked(p string) []string {
	var names []string
	prefix := strings.TrimSuffix(p, "/") + "/"
	for name := range c.nodes {
		if name == p || !strings.HasPrefix(name, prefix) {
			continue
		}
		rest := strings.TrimPrefix(name, prefix)
		if !strings.Contains(rest, "/") {
			names = append(names, rest)
		}
	}
	sort.Strings(names)
	return names
}

func (c *Client) fireExistsLocked(p string, t coord.EventType) {
	if !c.existsWatches[p] {
		return
	}
	delete(c.existsWatches, p)
	c.events <- coord.Event{Type: t, Path: p}
}

func (c *Client) fireChildrenLocked(p string) {
	if !c.childWatches[p] {
		return
	}
	delete(c.childWatches, p)
	c.events <- coord.Event{Type: coord.EventNodeChildrenChanged, Path: p}
}
