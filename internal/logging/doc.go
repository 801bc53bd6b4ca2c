// Package logging provides structured logging with per-module log levels.
//
// Loggers are plain slog loggers tagged with a "module" attribute. Each module
// owns a LevelVar, so levels can be raised or lowered while the process runs
// (see [SetLevels], which the config file watcher calls on reload).
//
// Initialize once at startup:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"zookeeper": "warn",
//			"monitor":   "debug",
//		},
//	})
//
// and fetch a logger per module:
//
//	logger := logging.GetLogger("supervisor")
//	logger.Info("Starting child", "argv", argv)
//
// Modules used by nodewatch: main, monitor, supervisor, child, zookeeper,
// api, http, systemd, config, metrics.
//
// # Output
//
// Records go to stdout (text or JSON) when stdout is a terminal, pipe, socket
// or file, and to the systemd journal when journald is reachable. With both
// available a [MultiHandler] writes to each.
//
//	journalctl -t nodewatch -f
//	journalctl -t nodewatch MODULE=monitor
//
// # Configuration
//
// Module levels sit next to the global level in the [logging] table:
//
//	[logging]
//	level = "info"
//	format = "text"
//	zookeeper = "warn"
//	child = "debug"
package logging
