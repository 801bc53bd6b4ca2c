package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	psprocess "github.com/shirou/gopsutil/v3/process"
	"github.com/smazurov/nodewatch/internal/logging"
)

// Default stop timeouts.
const (
	DefaultGracefulTimeout = 5 * time.Second
	DefaultKillTimeout     = 5 * time.Second
)

// exitCodeKilled is reported when the child had to be force-killed.
const exitCodeKilled = 137

// outputDrainTimeout bounds how long output is read after the child exits.
const outputDrainTimeout = 2 * time.Second

// ErrEmptyCommand is returned by Start when argv is empty.
var ErrEmptyCommand = errors.New("empty command")

// StateCallback is called after every state transition with the process
// info as of the new state.
type StateCallback func(info Info, from State)

// Option configures a Process.
type Option func(*Process)

// WithGracefulTimeout sets how long Stop waits after SIGINT before SIGKILL.
func WithGracefulTimeout(d time.Duration) Option {
	return func(p *Process) {
		p.gracefulTimeout = d
	}
}

// WithKillTimeout sets how long Stop waits after SIGKILL before reporting
// that the child is slow to die. Stop keeps waiting regardless.
func WithKillTimeout(d time.Duration) Option {
	return func(p *Process) {
		p.killTimeout = d
	}
}

// WithOutputLogger sets the logger that receives the child's output lines.
// Defaults to the process logger.
func WithOutputLogger(logger logging.Logger) Option {
	return func(p *Process) {
		p.outputLogger = logger
	}
}

// WithStateCallback registers a callback for state transitions.
func WithStateCallback(cb StateCallback) Option {
	return func(p *Process) {
		p.onState = cb
	}
}

// Process manages one run of a subprocess.
type Process struct {
	id              string
	argv            []string
	logger          logging.Logger
	outputLogger    logging.Logger
	onState         StateCallback
	gracefulTimeout time.Duration
	killTimeout     time.Duration

	mu        sync.Mutex
	cmd       *exec.Cmd
	state     State
	pid       int
	startedAt time.Time
	exitCode  int
	lastErr   error

	done     chan struct{}
	stopOnce sync.Once
	stopCode int
}

// New creates a process. Nothing runs until Start.
func New(id string, argv []string, logger logging.Logger, opts ...Option) *Process {
	p := &Process{
		id:              id,
		argv:            append([]string(nil), argv...),
		logger:          logger,
		state:           StateIdle,
		gracefulTimeout: DefaultGracefulTimeout,
		killTimeout:     DefaultKillTimeout,
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.outputLogger == nil {
		p.outputLogger = p.logger
	}
	return p
}

// Start launches the subprocess. A Process can only be started once.
func (p *Process) Start() error {
	p.mu.Lock()
	if p.state != StateIdle {
		p.mu.Unlock()
		return fmt.Errorf("process %s already started", p.id)
	}
	p.mu.Unlock()

	p.transition(StateStarting, nil)

	if len(p.argv) == 0 {
		return p.failStart(ErrEmptyCommand)
	}

	cmd := exec.Command(p.argv[0], p.argv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// Descendants of the child can hold the output open after it
	// exits. WaitDelay bounds how long Wait waits for them.
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	cmd.WaitDelay = outputDrainTimeout

	if err := cmd.Start(); err != nil {
		stdoutW.Close()
		stderrW.Close()
		return p.failStart(fmt.Errorf("start %s: %w", p.argv[0], err))
	}

	p.mu.Lock()
	p.cmd = cmd
	p.pid = cmd.Process.Pid
	p.startedAt = time.Now()
	p.mu.Unlock()

	p.logger.Info("Process started", "id", p.id, "pid", cmd.Process.Pid, "command", strings.Join(p.argv, " "))
	p.transition(StateRunning, nil)

	var output sync.WaitGroup
	output.Add(2)
	go func() {
		defer output.Done()
		p.streamOutput(stdoutR, "stdout")
	}()
	go func() {
		defer output.Done()
		p.streamOutput(stderrR, "stderr")
	}()

	go func() {
		err := cmd.Wait()
		stdoutW.Close()
		stderrW.Close()
		output.Wait()
		p.handleExit(err)
	}()

	return nil
}

// Stop terminates the subprocess: SIGINT to its process group, then SIGKILL
// after the graceful timeout. It blocks until the child has been reaped and
// returns the exit code. Repeated calls return the same code.
func (p *Process) Stop() int {
	p.stopOnce.Do(func() {
		p.stopCode = p.stop()
	})
	return p.stopCode
}

// Done is closed once the process has exited or failed to start.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Info returns a snapshot of the process state.
func (p *Process) Info() Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.infoLocked()
}

func (p *Process) infoLocked() Info {
	return Info{
		ID:        p.id,
		Argv:      append([]string(nil), p.argv...),
		State:     p.state,
		PID:       p.pid,
		StartedAt: p.startedAt,
		ExitCode:  p.exitCode,
		LastError: p.lastErr,
	}
}

// Usage samples resource usage of the running child.
func (p *Process) Usage() (Usage, error) {
	p.mu.Lock()
	pid, state := p.pid, p.state
	p.mu.Unlock()

	if pid == 0 || (state != StateRunning && state != StateStopping) {
		return Usage{}, fmt.Errorf("process %s is not running", p.id)
	}

	proc, err := psprocess.NewProcess(int32(pid))
	if err != nil {
		return Usage{}, fmt.Errorf("inspect pid %d: %w", pid, err)
	}

	var u Usage
	mem, err := proc.MemoryInfo()
	if err != nil {
		return Usage{}, fmt.Errorf("read memory of pid %d: %w", pid, err)
	}
	u.RSS = mem.RSS

	if cpu, err := proc.CPUPercent(); err == nil {
		u.CPUPercent = cpu
	}
	if threads, err := proc.NumThreads(); err == nil {
		u.Threads = threads
	}
	return u, nil
}

func (p *Process) stop() int {
	p.mu.Lock()
	cmd, state := p.cmd, p.state
	p.mu.Unlock()

	if cmd == nil || state == StateExited || state == StateError {
		return p.Info().ExitCode
	}

	p.transition(StateStopping, nil)
	p.signal(syscall.SIGINT)

	select {
	case <-p.done:
		return p.Info().ExitCode
	case <-time.After(p.gracefulTimeout):
	}

	p.logger.Warn("Graceful shutdown timeout, forcing kill", "id", p.id, "timeout", p.gracefulTimeout)
	p.signal(syscall.SIGKILL)

	select {
	case <-p.done:
	case <-time.After(p.killTimeout):
		p.logger.Error("Process did not exit after kill signal, still waiting", "id", p.id, "timeout", p.killTimeout)
		<-p.done
	}
	return exitCodeKilled
}

// signal delivers sig to the child's process group.
func (p *Process) signal(sig syscall.Signal) {
	pid := p.Info().PID
	p.logger.Info("Sending signal to process", "id", p.id, "pid", pid, "signal", sig.String())
	if err := syscall.Kill(-pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		p.logger.Warn("Failed to signal process", "id", p.id, "signal", sig.String(), "error", err)
	}
}

func (p *Process) handleExit(err error) {
	code := exitCodeFromError(err)

	var exitErr *exec.ExitError
	switch {
	case errors.Is(err, exec.ErrWaitDelay):
		p.logger.Warn("Process output still open after exit", "id", p.id, "timeout", outputDrainTimeout)
	case err != nil && !errors.As(err, &exitErr):
		p.logger.Error("Process exited with error", "id", p.id, "error", err)
	}
	p.logger.Info("Process exited", "id", p.id, "exit_code", code)

	p.mu.Lock()
	p.exitCode = code
	p.mu.Unlock()

	p.transition(StateExited, nil)
	close(p.done)
}

func (p *Process) failStart(err error) error {
	p.logger.Error("Failed to start process", "id", p.id, "error", err)
	p.mu.Lock()
	p.exitCode = 1
	p.mu.Unlock()
	p.transition(StateError, err)
	close(p.done)
	return err
}

func (p *Process) transition(to State, err error) {
	p.mu.Lock()
	from := p.state
	p.state = to
	if err != nil {
		p.lastErr = err
	}
	info := p.infoLocked()
	cb := p.onState
	p.mu.Unlock()

	if cb != nil && from != to {
		cb(info, from)
	}
}

// exitCodeFromError extracts the exit code from a Wait error.
// Returns 0 for nil or a clean exit with lingering output, 128+signal for a
// signalled child, the exit status for other ExitErrors and 1 for anything
// else.
func exitCodeFromError(err error) int {
	if err == nil || errors.Is(err, exec.ErrWaitDelay) {
		return 0
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return 1
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return exitErr.ExitCode()
}

// streamOutput forwards each output line of the child to the output logger.
func (p *Process) streamOutput(reader io.Reader, source string) {
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		p.outputLogger.Info(scanner.Text(), "source", source, "id", p.id)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		p.logger.Warn("Error reading output", "id", p.id, "source", source, "error", err)
		// Keep draining so the child never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, reader)
	}
}

// ParseCommand splits a command string into arguments.
// Handles single and double quotes and backslash escapes.
func ParseCommand(command string) ([]string, error) {
	var args []string
	var current strings.Builder
	inQuote := false
	quoteChar := rune(0)

	runes := []rune(strings.TrimSpace(command))

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '"' || r == '\'':
			switch {
			case !inQuote:
				inQuote = true
				quoteChar = r
			case r == quoteChar:
				inQuote = false
				quoteChar = 0
			default:
				current.WriteRune(r)
			}
		case (r == ' ' || r == '\t') && !inQuote:
			if current.Len() > 0 {
				args = append(args, current.String())
				current.Reset()
			}
		case r == '\\' && i+1 < len(runes):
			i++
			current.WriteRune(runes[i])
		default:
			current.WriteRune(r)
		}
	}

	if current.Len() > 0 {
		args = append(args, current.String())
	}

	if inQuote {
		return nil, fmt.Errorf("unclosed quote in command")
	}

	return args, nil
}
