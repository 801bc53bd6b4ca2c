package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/smazurov/nodewatch/internal/api"
	"github.com/smazurov/nodewatch/internal/config"
	"github.com/smazurov/nodewatch/internal/coord/zookeeper"
	"github.com/smazurov/nodewatch/internal/events"
	"github.com/smazurov/nodewatch/internal/logging"
	"github.com/smazurov/nodewatch/internal/metrics"
	"github.com/smazurov/nodewatch/internal/metrics/collectors"
	"github.com/smazurov/nodewatch/internal/metrics/exporters"
	"github.com/smazurov/nodewatch/internal/monitor"
	"github.com/smazurov/nodewatch/internal/process"
	"github.com/smazurov/nodewatch/internal/supervisor"
	"github.com/smazurov/nodewatch/internal/systemd"
	"github.com/smazurov/nodewatch/internal/version"
	"golang.org/x/sync/errgroup"
)

// app is one resolved run of nodewatch.
type app struct {
	program string
	argv    []string
	servers []string
	node    string
	listen  string
	config  string

	sessionTimeout  time.Duration
	gracefulTimeout time.Duration
	killTimeout     time.Duration
	retryInitial    time.Duration
	retryMax        time.Duration
	usageInterval   time.Duration

	out    io.Writer
	logger *slog.Logger
}

// newApp validates opts and resolves the child command line.
func newApp(opts *Options, program string, out io.Writer) (*app, error) {
	logger := logging.GetLogger("main")

	abs, err := filepath.Abs(program)
	if err != nil {
		return nil, fmt.Errorf("resolve program %q: %w", program, err)
	}
	args, err := process.ParseCommand(opts.ProgramArgs)
	if err != nil {
		return nil, fmt.Errorf("parse program args: %w", err)
	}

	var servers []string
	for _, s := range strings.Split(opts.Servers, ",") {
		if s = strings.TrimSpace(s); s != "" {
			servers = append(servers, s)
		}
	}
	if len(servers) == 0 {
		return nil, errors.New("no ZooKeeper servers configured")
	}
	if !strings.HasPrefix(opts.Node, "/") {
		return nil, fmt.Errorf("node path %q must be absolute", opts.Node)
	}

	a := &app{
		program: program,
		argv:    append([]string{abs}, args...),
		servers: servers,
		node:    opts.Node,
		listen:  opts.Listen,
		config:  opts.Config,

		sessionTimeout:  config.ParseDuration("session-timeout", opts.SessionTimeout, 3*time.Second, logger),
		gracefulTimeout: config.ParseDuration("graceful-timeout", opts.GracefulTimeout, process.DefaultGracefulTimeout, logger),
		killTimeout:     config.ParseDuration("kill-timeout", opts.KillTimeout, process.DefaultKillTimeout, logger),
		retryInitial:    config.ParseDuration("retry-initial", opts.RetryInitial, monitor.DefaultRetryInitial, logger),
		retryMax:        config.ParseDuration("retry-max", opts.RetryMax, monitor.DefaultRetryMax, logger),
		usageInterval:   config.ParseDuration("usage-interval", opts.UsageInterval, 5*time.Second, logger),

		out:    out,
		logger: logger,
	}
	if a.usageInterval <= 0 {
		a.usageInterval = 5 * time.Second
	}
	return a, nil
}

// run connects, supervises the child until the session is lost or ctx is
// cancelled, then tears everything down in order: background services,
// monitor, child, connection.
func (a *app) run(ctx context.Context) error {
	client, err := zookeeper.Dial(a.servers, a.sessionTimeout, logging.GetLogger("zookeeper"))
	if err != nil {
		return err
	}
	defer client.Close()

	bus := events.New()

	launch := supervisor.NewProcessLauncher(a.argv, logging.GetLogger("child"),
		process.WithGracefulTimeout(a.gracefulTimeout),
		process.WithKillTimeout(a.killTimeout),
		process.WithStateCallback(supervisor.PublishStates(bus)),
	)
	sup := supervisor.New(supervisor.Options{
		Client:  client,
		Path:    a.node,
		Launch:  launch,
		Program: a.program,
		Bus:     bus,
		Logger:  logging.GetLogger("supervisor"),
		Out:     a.out,
	})
	mon := monitor.New(client, a.node, bus, sup,
		monitor.WithLogger(logging.GetLogger("monitor")),
		monitor.WithRetry(a.retryInitial, a.retryMax),
	)

	unsubscribe := metrics.Subscribe(bus)
	defer unsubscribe()
	metrics.SetBuildInfo(version.Get())
	metrics.SetMonitorSource(mon.Snapshot)
	defer metrics.SetMonitorSource(nil)

	notifier := systemd.NewNotifier(bus, logging.GetLogger("systemd"))
	defer notifier.Close()

	if w := a.watchConfig(); w != nil {
		defer w.Stop()
	}

	background, stopBackground := context.WithCancel(ctx)
	defer stopBackground()
	g, gctx := errgroup.WithContext(background)

	g.Go(func() error {
		return mon.Run(gctx)
	})
	g.Go(func() error {
		notifier.Watchdog(gctx)
		return nil
	})

	collector := collectors.NewChildCollector(childUsage(sup), a.usageInterval)
	if err := collector.Start(gctx); err != nil {
		a.logger.Warn("Child usage collection disabled", "error", err)
	}

	var server *api.Server
	if a.listen != "" {
		server = api.NewServer(&api.Options{
			Monitor:           mon,
			Supervisor:        sup,
			EventBus:          bus,
			PrometheusHandler: exporters.HTTPHandler(),
		})
		g.Go(func() error {
			if err := server.Start(a.listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status API: %w", err)
			}
			return nil
		})
	}

	notifier.Ready()
	a.logger.Info("nodewatch started", "version", version.String(), "node", a.node, "argv", a.argv)

	runErr := sup.Run(gctx)
	if runErr != nil {
		a.logger.Info("Shutting down", "reason", runErr)
		notifier.Stopping()
	}

	stopBackground()
	if server != nil {
		if err := server.Stop(); err != nil {
			a.logger.Warn("Error stopping status API", "error", err)
		}
	}
	if err := collector.Stop(); err != nil {
		a.logger.Warn("Error stopping collector", "error", err)
	}
	groupErr := g.Wait()

	sup.Shutdown()

	if groupErr != nil && !errors.Is(groupErr, context.Canceled) {
		return groupErr
	}
	return nil
}

// watchConfig hot-reloads log levels from the config file when one exists.
func (a *app) watchConfig() *config.Watcher[logging.Config] {
	if a.config == "" {
		return nil
	}
	if _, err := os.Stat(a.config); err != nil {
		return nil
	}
	w, err := config.WatchLogging(a.config, logging.GetLogger("config"))
	if err != nil {
		a.logger.Warn("Config hot reload disabled", "path", a.config, "error", err)
		return nil
	}
	return w
}

// childUsage samples the supervisor's current child, if it is a real process.
func childUsage(sup *supervisor.Supervisor) collectors.UsageSource {
	return func() (process.Usage, bool, error) {
		child, ok := sup.Child().(*process.Process)
		if !ok || child == nil {
			return process.Usage{}, false, nil
		}
		usage, err := child.Usage()
		return usage, true, err
	}
}
