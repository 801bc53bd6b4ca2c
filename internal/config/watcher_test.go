package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/nodewatch/internal/logging"
)

type testConfig struct {
	Name  string `toml:"name"`
	Value int    `toml:"value"`
}

func loadTestConfig(path string) (testConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return testConfig{}, err
	}
	var cfg testConfig
	err = toml.Unmarshal(data, &cfg)
	return cfg, err
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func startWatcher(t *testing.T, path string, debounce time.Duration, opts ...WatcherOption[testConfig]) *Watcher[testConfig] {
	t.Helper()
	opts = append([]WatcherOption[testConfig]{WithDebounce[testConfig](debounce)}, opts...)
	w := NewWatcher(path, loadTestConfig, newTestLogger(), opts...)
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := w.Stop(); err != nil {
			t.Errorf("watcher.Stop failed: %v", err)
		}
	})
	return w
}

func TestWatcherBasicReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodewatch.toml")
	writeConfig(t, path, "name = \"initial\"\nvalue = 1\n")

	received := make(chan testConfig, 1)
	w := startWatcher(t, path, 50*time.Millisecond)
	w.OnReload(func(cfg testConfig) {
		received <- cfg
	})

	writeConfig(t, path, "name = \"updated\"\nvalue = 42\n")

	select {
	case cfg := <-received:
		if cfg.Name != "updated" || cfg.Value != 42 {
			t.Errorf("got %+v, want name=updated, value=42", cfg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for config reload")
	}
}

func TestWatcherAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nodewatch.toml")
	writeConfig(t, path, "value = 1\n")

	received := make(chan testConfig, 4)
	w := startWatcher(t, path, 50*time.Millisecond)
	w.OnReload(func(cfg testConfig) {
		received <- cfg
	})

	// Editors often write a temp file and rename it over the original.
	tmp := filepath.Join(dir, ".nodewatch.toml.swp")
	writeConfig(t, tmp, "value = 7\n")
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-received:
		if cfg.Value != 7 {
			t.Errorf("got value %d, want 7", cfg.Value)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload after rename")
	}

	// The watch survives the replace.
	writeConfig(t, path, "value = 8\n")
	select {
	case cfg := <-received:
		if cfg.Value != 8 {
			t.Errorf("got value %d, want 8", cfg.Value)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for second reload")
	}
}

func TestWatcherIgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nodewatch.toml")
	writeConfig(t, path, "value = 1\n")

	var count atomic.Int32
	w := startWatcher(t, path, 20*time.Millisecond)
	w.OnReload(func(testConfig) {
		count.Add(1)
	})

	writeConfig(t, filepath.Join(dir, "other.toml"), "value = 2\n")
	time.Sleep(200 * time.Millisecond)

	if got := count.Load(); got != 0 {
		t.Errorf("expected no reloads for sibling file, got %d", got)
	}
}

func TestWatcherMultipleHandlersSameValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodewatch.toml")
	writeConfig(t, path, "name = \"test\"\nvalue = 1\n")

	var mu sync.Mutex
	var configs []testConfig
	done := make(chan struct{}, 3)

	w := startWatcher(t, path, 50*time.Millisecond)
	for range 3 {
		w.OnReload(func(cfg testConfig) {
			mu.Lock()
			configs = append(configs, cfg)
			mu.Unlock()
			done <- struct{}{}
		})
	}

	writeConfig(t, path, "name = \"new\"\nvalue = 2\n")
	for range 3 {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for handlers")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i, cfg := range configs {
		if cfg.Name != "new" || cfg.Value != 2 {
			t.Errorf("handler %d got wrong config: %+v", i, cfg)
		}
	}
}

func TestWatcherUnsubscribe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodewatch.toml")
	writeConfig(t, path, "value = 1\n")

	first := make(chan int, 4)
	var secondCalls atomic.Int32

	w := startWatcher(t, path, 50*time.Millisecond)
	w.OnReload(func(cfg testConfig) {
		first <- cfg.Value
	})
	unsub := w.OnReload(func(testConfig) {
		secondCalls.Add(1)
	})

	writeConfig(t, path, "value = 10\n")
	if got := <-first; got != 10 {
		t.Fatalf("first reload = %d, want 10", got)
	}

	unsub()

	writeConfig(t, path, "value = 20\n")
	if got := <-first; got != 20 {
		t.Fatalf("second reload = %d, want 20", got)
	}

	if got := secondCalls.Load(); got != 1 {
		t.Errorf("unsubscribed handler: expected 1 call, got %d", got)
	}
}

func TestWatcherErrorHandler(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodewatch.toml")
	writeConfig(t, path, "name = \"valid\"\nvalue = 1\n")

	errorReceived := make(chan error, 1)
	configReceived := make(chan testConfig, 1)

	w := startWatcher(t, path, 50*time.Millisecond, WithErrorHandler[testConfig](func(err error) {
		errorReceived <- err
	}))
	w.OnReload(func(cfg testConfig) {
		configReceived <- cfg
	})

	writeConfig(t, path, "invalid toml [[[")

	select {
	case <-errorReceived:
	case <-configReceived:
		t.Fatal("config handler should not be called on error")
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error handler")
	}
}

func TestWatcherDebounce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodewatch.toml")
	writeConfig(t, path, "value = 0\n")

	var count atomic.Int32
	var lastValue atomic.Int32

	w := startWatcher(t, path, 200*time.Millisecond)
	w.OnReload(func(cfg testConfig) {
		count.Add(1)
		lastValue.Store(int32(cfg.Value))
	})

	for i := 1; i <= 5; i++ {
		writeConfig(t, path, fmt.Sprintf("value = %d\n", i))
		time.Sleep(50 * time.Millisecond)
	}

	time.Sleep(500 * time.Millisecond)

	if got := count.Load(); got != 1 {
		t.Errorf("expected 1 debounced call, got %d", got)
	}
	if got := lastValue.Load(); got != 5 {
		t.Errorf("expected final value 5, got %d", got)
	}
}

func TestWatcherStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodewatch.toml")
	writeConfig(t, path, "value = 1\n")

	var count atomic.Int32
	w := NewWatcher(path, loadTestConfig, newTestLogger(), WithDebounce[testConfig](50*time.Millisecond))
	w.OnReload(func(testConfig) {
		count.Add(1)
	})
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	if err := w.Stop(); err != nil {
		t.Fatal(err)
	}

	writeConfig(t, path, "value = 99\n")
	time.Sleep(200 * time.Millisecond)

	if got := count.Load(); got != 0 {
		t.Errorf("expected 0 calls after stop, got %d", got)
	}
}

func TestWatcherStartMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "nodewatch.toml")
	w := NewWatcher(path, loadTestConfig, newTestLogger())
	if err := w.Start(); err == nil {
		w.Stop()
		t.Fatal("Start should fail when the directory does not exist")
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Stop on an unstarted watcher = %v, want nil", err)
	}
}

func TestWatchLoggingAppliesLevels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodewatch.toml")
	writeConfig(t, path, "[logging]\nlevel = \"info\"\n")

	logging.Initialize(logging.Config{Level: "info", Format: "text"})
	logging.GetLogger("zookeeper")

	w, err := WatchLogging(path, newTestLogger(), WithDebounce[logging.Config](20*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	writeConfig(t, path, "[logging]\nlevel = \"info\"\nzookeeper = \"debug\"\n")

	deadline := time.Now().Add(2 * time.Second)
	for logging.ModuleLevel("zookeeper") != slog.LevelDebug {
		if time.Now().After(deadline) {
			t.Fatalf("zookeeper level = %v, want debug", logging.ModuleLevel("zookeeper"))
		}
		time.Sleep(20 * time.Millisecond)
	}
}
