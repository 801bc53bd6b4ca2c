package process

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"reflect"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestProcess creates a Process with short timeouts for testing.
func newTestProcess(t *testing.T, command string, opts ...Option) *Process {
	t.Helper()
	argv, err := ParseCommand(command)
	if err != nil {
		t.Fatalf("ParseCommand(%q): %v", command, err)
	}
	opts = append([]Option{
		WithGracefulTimeout(100 * time.Millisecond),
		WithKillTimeout(100 * time.Millisecond),
	}, opts...)
	return New("test", argv, testLogger(), opts...)
}

func startProcess(t *testing.T, p *Process) {
	t.Helper()
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { p.Stop() })
}

// waitDone waits for the process to exit with timeout, fails test on timeout.
func waitDone(t *testing.T, p *Process, timeout time.Duration) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(timeout):
		t.Fatal("timeout waiting for process to exit")
	}
}

func stopAsync(p *Process) <-chan int {
	done := make(chan int, 1)
	go func() {
		done <- p.Stop()
	}()
	return done
}

func waitForCode(t *testing.T, done <-chan int, timeout time.Duration) int {
	t.Helper()
	select {
	case code := <-done:
		return code
	case <-time.After(timeout):
		t.Fatal("timeout waiting for Stop")
		return -1
	}
}

func TestGracefulStop(t *testing.T) {
	p := newTestProcess(t, `sh -c "trap 'exit 0' INT TERM; while :; do sleep 0.1; done"`,
		WithGracefulTimeout(time.Second))
	startProcess(t, p)
	time.Sleep(100 * time.Millisecond)

	if code := waitForCode(t, stopAsync(p), 2*time.Second); code != 0 {
		t.Errorf("expected exit code 0, got %d", code)
	}
	if state := p.Info().State; state != StateExited {
		t.Errorf("state = %s, want %s", state, StateExited)
	}
}

func TestForceKillOnTimeout(t *testing.T) {
	// Process that ignores SIGINT
	p := newTestProcess(t, `sh -c "trap '' INT; sleep 10"`,
		WithGracefulTimeout(50*time.Millisecond))
	startProcess(t, p)
	time.Sleep(50 * time.Millisecond)

	// Process was killed, expect 137 (128 + 9 for SIGKILL)
	if code := waitForCode(t, stopAsync(p), time.Second); code != 137 {
		t.Errorf("expected exit code 137, got %d", code)
	}
	waitDone(t, p, time.Second)
}

func TestStopIsPrompt(t *testing.T) {
	p := newTestProcess(t, "sleep 10")
	startProcess(t, p)
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	code := waitForCode(t, stopAsync(p), 500*time.Millisecond)
	if elapsed := time.Since(start); elapsed > 300*time.Millisecond {
		t.Errorf("stop took too long: %v", elapsed)
	}
	if code != 130 {
		t.Errorf("expected exit code 130 for SIGINT, got %d", code)
	}
}

func TestStopIdempotent(t *testing.T) {
	p := newTestProcess(t, "sleep 10")
	startProcess(t, p)

	first := waitForCode(t, stopAsync(p), time.Second)
	second := waitForCode(t, stopAsync(p), time.Second)
	if first != second {
		t.Errorf("second Stop() = %d, first = %d", second, first)
	}
}

func TestNaturalExit(t *testing.T) {
	p := newTestProcess(t, "sh -c 'exit 42'")
	startProcess(t, p)
	waitDone(t, p, time.Second)

	info := p.Info()
	if info.State != StateExited || info.ExitCode != 42 {
		t.Errorf("info = %+v, want exited with 42", info)
	}
	if info.Running() {
		t.Error("Running() = true after exit")
	}

	// Stop after the process has already exited returns the recorded code.
	if code := waitForCode(t, stopAsync(p), time.Second); code != 42 {
		t.Errorf("Stop() after exit = %d, want 42", code)
	}
}

func TestStartNonExistentCommand(t *testing.T) {
	p := New("test", []string{"/nonexistent/command/that/does/not/exist"}, testLogger())

	err := p.Start()
	if err == nil {
		t.Fatal("expected start error")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error = %v, want os.ErrNotExist", err)
	}

	waitDone(t, p, time.Second)
	info := p.Info()
	if info.State != StateError || info.LastError == nil {
		t.Errorf("info = %+v, want error state", info)
	}
	if code := p.Stop(); code != 1 {
		t.Errorf("Stop() = %d, want 1", code)
	}
}

func TestStartEmptyCommand(t *testing.T) {
	p := New("test", nil, testLogger())
	if err := p.Start(); !errors.Is(err, ErrEmptyCommand) {
		t.Errorf("Start() = %v, want ErrEmptyCommand", err)
	}
}

func TestStartTwice(t *testing.T) {
	p := newTestProcess(t, "true")
	startProcess(t, p)
	if err := p.Start(); err == nil {
		t.Error("second Start() succeeded")
	}
}

func TestStopBeforeStart(t *testing.T) {
	p := newTestProcess(t, "sleep 10")
	if code := p.Stop(); code != 0 {
		t.Errorf("Stop() before start = %d, want 0", code)
	}
}

func TestStateCallback(t *testing.T) {
	var (
		mu          sync.Mutex
		transitions []State
	)
	cb := func(info Info, _ State) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, info.State)
	}

	p := newTestProcess(t, "sleep 10", WithStateCallback(cb))
	startProcess(t, p)
	waitForCode(t, stopAsync(p), time.Second)
	waitDone(t, p, time.Second)

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateStarting, StateRunning, StateStopping, StateExited}
	if !reflect.DeepEqual(transitions, want) {
		t.Errorf("transitions = %v, want %v", transitions, want)
	}
}

func TestInfo(t *testing.T) {
	p := newTestProcess(t, "sleep 10")
	if info := p.Info(); info.State != StateIdle || info.PID != 0 {
		t.Errorf("info before start = %+v", info)
	}

	startProcess(t, p)
	info := p.Info()
	if info.State != StateRunning || info.PID == 0 || info.StartedAt.IsZero() {
		t.Errorf("info after start = %+v", info)
	}
	if !reflect.DeepEqual(info.Argv, []string{"sleep", "10"}) {
		t.Errorf("Argv = %v", info.Argv)
	}
}

func TestUsage(t *testing.T) {
	p := newTestProcess(t, "sleep 10")
	if _, err := p.Usage(); err == nil {
		t.Error("Usage() before start succeeded")
	}

	startProcess(t, p)
	u, err := p.Usage()
	if err != nil {
		t.Fatalf("Usage() error: %v", err)
	}
	if u.RSS == 0 {
		t.Error("RSS = 0 for running process")
	}
}

type lineRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *lineRecorder) Debug(msg string, _ ...any) { r.add(msg) }
func (r *lineRecorder) Info(msg string, _ ...any)  { r.add(msg) }
func (r *lineRecorder) Warn(msg string, _ ...any)  { r.add(msg) }
func (r *lineRecorder) Error(msg string, _ ...any) { r.add(msg) }

func (r *lineRecorder) add(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, msg)
}

func TestOutputStreamedToLogger(t *testing.T) {
	rec := &lineRecorder{}
	p := newTestProcess(t, `sh -c "echo line1; echo line2 >&2"`, WithOutputLogger(rec))
	startProcess(t, p)
	waitDone(t, p, time.Second)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	got := map[string]bool{}
	for _, l := range rec.lines {
		got[l] = true
	}
	if !got["line1"] || !got["line2"] {
		t.Errorf("lines = %v, want line1 and line2", rec.lines)
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{"empty", "", nil, false},
		{"simple", "sleep 10", []string{"sleep", "10"}, false},
		{"extra spaces", "  a   b  ", []string{"a", "b"}, false},
		{"tabs", "a\tb", []string{"a", "b"}, false},
		{"double quotes", `sh -c "echo hi"`, []string{"sh", "-c", "echo hi"}, false},
		{"single quotes", `sh -c 'exit 42'`, []string{"sh", "-c", "exit 42"}, false},
		{"nested quotes", `sh -c "trap 'exit 0' INT"`, []string{"sh", "-c", "trap 'exit 0' INT"}, false},
		{"escapes", `echo hello\ world`, []string{"echo", "hello world"}, false},
		{"unclosed", `echo "unclosed`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCommand(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseCommand(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestExitCodeFromError(t *testing.T) {
	if got := exitCodeFromError(nil); got != 0 {
		t.Errorf("nil error = %d, want 0", got)
	}
	if got := exitCodeFromError(errors.New("boom")); got != 1 {
		t.Errorf("plain error = %d, want 1", got)
	}
	if got := exitCodeFromError(exec.ErrWaitDelay); got != 0 {
		t.Errorf("wait delay = %d, want 0", got)
	}
}

func TestStopReturnsOnlyAfterReap(t *testing.T) {
	p := newTestProcess(t, `sh -c "trap '' INT; sleep 10"`,
		WithGracefulTimeout(50*time.Millisecond),
		WithKillTimeout(time.Nanosecond))
	startProcess(t, p)
	time.Sleep(50 * time.Millisecond)

	if code := waitForCode(t, stopAsync(p), 2*time.Second); code != 137 {
		t.Errorf("expected exit code 137, got %d", code)
	}
	select {
	case <-p.Done():
	default:
		t.Fatal("Stop returned before the child was reaped")
	}
	if state := p.Info().State; state != StateExited {
		t.Errorf("state = %s, want %s", state, StateExited)
	}
}

func TestExitWithLingeringOutput(t *testing.T) {
	// The background sleep keeps stdout open after sh exits.
	p := newTestProcess(t, `sh -c "sleep 5 & exit 3"`)
	startProcess(t, p)

	waitDone(t, p, outputDrainTimeout+2*time.Second)
	if code := p.Info().ExitCode; code != 3 {
		t.Errorf("exit code = %d, want 3", code)
	}
}
