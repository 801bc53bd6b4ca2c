package cmd

import (
	"github.com/smazurov/nodewatch/internal/logging"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:""`

	// ZooKeeper settings
	Servers        string `help:"Comma-separated ZooKeeper servers" default:"127.0.0.1:2181" toml:"zookeeper.servers" env:"ZK_SERVERS"`
	SessionTimeout string `help:"ZooKeeper session timeout" default:"3s" toml:"zookeeper.session_timeout" env:"ZK_SESSION_TIMEOUT"`
	Node           string `help:"Path of the node to watch" default:"/z" toml:"zookeeper.node" env:"ZK_NODE"`

	// Program settings
	ProgramArgs     string `help:"Arguments passed to the program" default:"" toml:"program.args" env:"PROGRAM_ARGS"`
	GracefulTimeout string `help:"Time the program gets to exit after SIGINT" default:"5s" toml:"program.graceful_timeout" env:"PROGRAM_GRACEFUL_TIMEOUT"`
	KillTimeout     string `help:"Time to wait for exit after SIGKILL" default:"5s" toml:"program.kill_timeout" env:"PROGRAM_KILL_TIMEOUT"`

	// Monitor settings
	RetryInitial string `help:"First delay before re-checking after a transient error" default:"100ms" toml:"monitor.retry_initial" env:"MONITOR_RETRY_INITIAL"`
	RetryMax     string `help:"Upper bound for the re-check delay" default:"10s" toml:"monitor.retry_max" env:"MONITOR_RETRY_MAX"`

	// Server settings
	Listen        string `help:"Status API listen address, empty disables it" default:"" toml:"server.listen" env:"SERVER_LISTEN"`
	UsageInterval string `help:"Child resource sampling interval" default:"5s" toml:"metrics.usage_interval" env:"METRICS_USAGE_INTERVAL"`

	// Logging settings
	LoggingLevel      string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat     string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingMonitor    string `help:"Monitor logging level, empty inherits the global level" default:"" toml:"logging.monitor" env:"LOGGING_MONITOR"`
	LoggingSupervisor string `help:"Supervisor logging level" default:"" toml:"logging.supervisor" env:"LOGGING_SUPERVISOR"`
	LoggingChild      string `help:"Child process logging level" default:"" toml:"logging.child" env:"LOGGING_CHILD"`
	LoggingZookeeper  string `help:"ZooKeeper client logging level" default:"" toml:"logging.zookeeper" env:"LOGGING_ZOOKEEPER"`
}

func (o *Options) loggingConfig() logging.Config {
	return logging.Config{
		Level:  o.LoggingLevel,
		Format: o.LoggingFormat,
		Modules: map[string]string{
			"monitor":    o.LoggingMonitor,
			"supervisor": o.LoggingSupervisor,
			"child":      o.LoggingChild,
			"zookeeper":  o.LoggingZookeeper,
		},
	}
}
