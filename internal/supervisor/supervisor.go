package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"sync"

	"github.com/smazurov/nodewatch/internal/coord"
	"github.com/smazurov/nodewatch/internal/events"
	"github.com/smazurov/nodewatch/internal/process"
)

// Child is a running child program.
type Child interface {
	// Stop terminates the child and blocks until it has exited.
	Stop() int
	Done() <-chan struct{}
	Info() process.Info
}

// LaunchFunc starts a new child.
type LaunchFunc func() (Child, error)

// Options configures a Supervisor.
type Options struct {
	Client  coord.Client
	Path    string
	Launch  LaunchFunc
	Program string      // label for logs and events
	Bus     *events.Bus // optional
	Logger  *slog.Logger
	Out     io.Writer // defaults to os.Stdout
}

// Status describes the supervisor and its child for the API.
type Status struct {
	Path      string
	Closed    bool
	CloseCode string
	Child     *process.Info
}

// Supervisor owns at most one child process.
type Supervisor struct {
	client  coord.Client
	path    string
	launch  LaunchFunc
	program string
	bus     *events.Bus
	logger  *slog.Logger
	out     io.Writer

	mu        sync.Mutex
	child     Child
	code      coord.Code
	closedSet bool

	closed    chan struct{}
	closeOnce sync.Once
}

// New creates a Supervisor.
func New(opts Options) *Supervisor {
	s := &Supervisor{
		client:  opts.Client,
		path:    opts.Path,
		launch:  opts.Launch,
		program: opts.Program,
		bus:     opts.Bus,
		logger:  opts.Logger,
		out:     opts.Out,
		closed:  make(chan struct{}),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.out == nil {
		s.out = os.Stdout
	}
	return s
}

// Run blocks until the session is lost or ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	select {
	case <-s.closed:
		s.logger.Info("Session closed, supervisor exiting", "code", s.CloseCode().String())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Closed is closed once the session has been lost.
func (s *Supervisor) Closed() <-chan struct{} {
	return s.closed
}

// CloseCode returns the reason the session ended, or CodeOK while it is alive.
func (s *Supervisor) CloseCode() coord.Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}

// Shutdown stops the child if one is still running.
func (s *Supervisor) Shutdown() {
	if s.current() == nil {
		return
	}
	s.logger.Info("Stopping child on shutdown")
	s.stopChild()
}

// Status returns a snapshot for the API.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{Path: s.path, Closed: s.closedSet}
	if s.closedSet {
		st.CloseCode = s.code.String()
	}
	if s.child != nil {
		info := s.child.Info()
		st.Child = &info
	}
	return st
}

// Child returns the current child, or nil.
func (s *Supervisor) Child() Child {
	return s.current()
}

// ContentChanged implements monitor.Listener.
func (s *Supervisor) ContentChanged(ctx context.Context, data []byte) {
	s.publish(events.NodeContentChangedEvent{
		Path:      s.path,
		Exists:    data != nil,
		Size:      len(data),
		Timestamp: events.Now(),
	})

	if data == nil {
		if s.current() != nil {
			fmt.Fprintln(s.out, "Killing process")
			s.logger.Info("Node removed, killing child", "path", s.path)
			s.stopChild()
		}
		return
	}

	if s.current() != nil {
		fmt.Fprintln(s.out, "Stopping child")
		s.logger.Info("Node content changed, stopping child", "path", s.path)
		s.stopChild()
	}

	fmt.Fprintln(s.out, "Starting child")
	child, err := s.launch()
	if err != nil {
		s.logger.Error("Failed to launch child", "program", s.program, "error", err)
		s.publish(events.ChildLaunchFailedEvent{
			Command:   s.program,
			Error:     err.Error(),
			Timestamp: events.Now(),
		})
		return
	}
	s.setChild(child)
	s.logger.Info("Child launched", "program", s.program, "pid", child.Info().PID)

	fmt.Fprintln(s.out, "Current children of the node:")
	s.ListChildren(ctx, s.path)
}

// ListChildren implements monitor.Listener. It prints every descendant of p
// depth-first, one full path per line, re-arming a children watch at each
// level.
func (s *Supervisor) ListChildren(ctx context.Context, p string) {
	children, err := s.client.ChildrenW(ctx, p)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("Failed to list children", "path", p, "error", err)
		}
		return
	}
	for _, name := range children {
		full := path.Join(p, name)
		fmt.Fprintln(s.out, full)
		s.ListChildren(ctx, full)
	}
}

// CountDescendants implements monitor.Listener. A listing failure counts as
// no descendants below that level.
func (s *Supervisor) CountDescendants(ctx context.Context, p string) (int, error) {
	children, err := s.client.ChildrenW(ctx, p)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		if !errors.Is(err, coord.ErrNoNode) {
			s.logger.Warn("Failed to count children", "path", p, "error", err)
		}
		return 0, nil
	}

	total := 0
	for _, name := range children {
		n, err := s.CountDescendants(ctx, path.Join(p, name))
		if err != nil {
			return 0, err
		}
		total += 1 + n
	}
	return total, nil
}

// DescendantsGrew implements monitor.Listener.
func (s *Supervisor) DescendantsGrew(p string, count int) {
	fmt.Fprintf(s.out, "Number of descendants of %s: %d\n", p, count)
	s.publish(events.DescendantsGrewEvent{
		Path:      p,
		Count:     count,
		Timestamp: events.Now(),
	})
}

// Closing implements monitor.Listener.
func (s *Supervisor) Closing(code coord.Code) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.code = code
		s.closedSet = true
		s.mu.Unlock()

		s.publish(events.SessionClosedEvent{
			Path:      s.path,
			Code:      code.String(),
			Timestamp: events.Now(),
		})
		close(s.closed)
	})
}

// usageReporter is implemented by children that can sample resource usage.
type usageReporter interface {
	Usage() (process.Usage, error)
}

func (s *Supervisor) stopChild() {
	s.mu.Lock()
	child := s.child
	s.mu.Unlock()
	if child == nil {
		return
	}

	attrs := []any{"pid", child.Info().PID}
	if r, ok := child.(usageReporter); ok {
		if u, err := r.Usage(); err == nil {
			attrs = append(attrs, "rss", u.RSS, "cpu_percent", u.CPUPercent)
		}
	}

	code := child.Stop()
	s.logger.Info("Child stopped", append(attrs, "exit_code", code)...)

	s.mu.Lock()
	if s.child == child {
		s.child = nil
	}
	s.mu.Unlock()
}

func (s *Supervisor) current() Child {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.child
}

func (s *Supervisor) setChild(c Child) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.child = c
}

func (s *Supervisor) publish(ev events.Event) {
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}
