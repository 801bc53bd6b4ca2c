package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/smazurov/nodewatch/internal/logging"
	"github.com/smazurov/nodewatch/internal/supervisor"
	"github.com/smazurov/nodewatch/internal/version"
)

func TestUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no program", nil},
		{"two programs", []string{"./a", "./b"}},
		{"unknown flag", []string{"--bogus", "./a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := Execute(tt.args, &stdout, &stderr); code != ExitUsage {
				t.Errorf("exit code = %d, want %d", code, ExitUsage)
			}
			if got := strings.TrimSpace(stderr.String()); got != usageLine {
				t.Errorf("stderr = %q, want %q", got, usageLine)
			}
		})
	}
}

func TestStartupFailureExitsOne(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Execute([]string{"--node", "relative", "/bin/true"}, &stdout, &stderr)
	if code != ExitFailure {
		t.Fatalf("exit code = %d, want %d", code, ExitFailure)
	}
	if !strings.Contains(stderr.String(), "must be absolute") {
		t.Errorf("stderr = %q, want node path error", stderr.String())
	}
}

func TestInvalidConfigFileExitsOne(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodewatch.toml")
	if err := writeFile(path, "[zookeeper\n"); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	if code := Execute([]string{"--config", path, "/bin/true"}, &stdout, &stderr); code != ExitFailure {
		t.Errorf("exit code = %d, want %d", code, ExitFailure)
	}
}

func TestVersionFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := Execute([]string{"--version"}, &stdout, &stderr); code != ExitOK {
		t.Fatalf("exit code = %d, want %d (stderr %q)", code, ExitOK, stderr.String())
	}
	if !strings.Contains(stdout.String(), version.String()) {
		t.Errorf("stdout = %q, want version %q", stdout.String(), version.String())
	}
}

func defaultOptions() *Options {
	return &Options{
		Servers:         "127.0.0.1:2181",
		SessionTimeout:  "3s",
		Node:            "/z",
		GracefulTimeout: "5s",
		KillTimeout:     "5s",
		RetryInitial:    "100ms",
		RetryMax:        "10s",
		UsageInterval:   "5s",
	}
}

func TestNewAppDefaults(t *testing.T) {
	a, err := newApp(defaultOptions(), "/usr/bin/env", &bytes.Buffer{})
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}

	if want := []string{"/usr/bin/env"}; !reflect.DeepEqual(a.argv, want) {
		t.Errorf("argv = %v, want %v", a.argv, want)
	}
	if want := []string{"127.0.0.1:2181"}; !reflect.DeepEqual(a.servers, want) {
		t.Errorf("servers = %v, want %v", a.servers, want)
	}
	if a.sessionTimeout != 3*time.Second {
		t.Errorf("sessionTimeout = %v, want 3s", a.sessionTimeout)
	}
	if a.retryInitial != 100*time.Millisecond || a.retryMax != 10*time.Second {
		t.Errorf("retry = %v..%v", a.retryInitial, a.retryMax)
	}
}

func TestNewAppResolvesProgram(t *testing.T) {
	opts := defaultOptions()
	opts.ProgramArgs = `--name "two words" -v`
	opts.Servers = " zk1:2181, ,zk2:2181 "

	a, err := newApp(opts, "bin/worker", &bytes.Buffer{})
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}

	abs, _ := filepath.Abs("bin/worker")
	if want := []string{abs, "--name", "two words", "-v"}; !reflect.DeepEqual(a.argv, want) {
		t.Errorf("argv = %v, want %v", a.argv, want)
	}
	if want := []string{"zk1:2181", "zk2:2181"}; !reflect.DeepEqual(a.servers, want) {
		t.Errorf("servers = %v, want %v", a.servers, want)
	}
}

func TestNewAppInvalidDurationFallsBack(t *testing.T) {
	opts := defaultOptions()
	opts.SessionTimeout = "soon"
	opts.UsageInterval = "0s"

	a, err := newApp(opts, "/bin/true", &bytes.Buffer{})
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	if a.sessionTimeout != 3*time.Second {
		t.Errorf("sessionTimeout = %v, want fallback 3s", a.sessionTimeout)
	}
	if a.usageInterval != 5*time.Second {
		t.Errorf("usageInterval = %v, want 5s", a.usageInterval)
	}
}

func TestNewAppErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Options)
	}{
		{"no servers", func(o *Options) { o.Servers = " , " }},
		{"relative node", func(o *Options) { o.Node = "z" }},
		{"unclosed quote", func(o *Options) { o.ProgramArgs = `"oops` }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := defaultOptions()
			tt.modify(opts)
			if _, err := newApp(opts, "/bin/true", &bytes.Buffer{}); err == nil {
				t.Error("newApp should fail")
			}
		})
	}
}

func TestLoggingConfig(t *testing.T) {
	opts := &Options{LoggingLevel: "warn", LoggingFormat: "json", LoggingChild: "debug"}
	cfg := opts.loggingConfig()

	want := logging.Config{
		Level:  "warn",
		Format: "json",
		Modules: map[string]string{
			"monitor":    "",
			"supervisor": "",
			"child":      "debug",
			"zookeeper":  "",
		},
	}
	if !reflect.DeepEqual(cfg, want) {
		t.Errorf("loggingConfig() = %+v, want %+v", cfg, want)
	}
}

func TestChildUsageWithoutChild(t *testing.T) {
	sup := supervisor.New(supervisor.Options{Path: "/z", Out: &bytes.Buffer{}})
	_, ok, err := childUsage(sup)()
	if ok || err != nil {
		t.Errorf("childUsage() = ok %v, err %v; want no child", ok, err)
	}
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
