package config

import (
	"github.com/smazurov/nodewatch/internal/logging"
)

// WatchLogging starts a watcher that re-reads the [logging] table of the
// config file whenever it changes and applies the levels to running loggers.
// The caller stops the returned watcher.
func WatchLogging(path string, logger logging.Logger, opts ...WatcherOption[logging.Config]) (*Watcher[logging.Config], error) {
	w := NewWatcher(path, ReadLoggingConfig, logger, opts...)
	w.OnReload(func(cfg logging.Config) {
		logging.SetLevels(cfg)
		logger.Info("Log levels reloaded", "level", cfg.Level, "modules", cfg.Modules)
	})
	if err := w.Start(); err != nil {
		return nil, err
	}
	return w, nil
}
