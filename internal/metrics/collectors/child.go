// Package collectors samples runtime values into Prometheus gauges.
package collectors

import (
	"context"
	"time"

	"github.com/smazurov/nodewatch/internal/logging"
	"github.com/smazurov/nodewatch/internal/metrics"
	"github.com/smazurov/nodewatch/internal/process"
)

// UsageSource returns the resource usage of the current child. ok is false
// when no child is running.
type UsageSource func() (usage process.Usage, ok bool, err error)

// ChildCollector periodically samples child resource usage.
type ChildCollector struct {
	logger   logging.Logger
	source   UsageSource
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewChildCollector creates a new child collector.
func NewChildCollector(source UsageSource, interval time.Duration) *ChildCollector {
	return &ChildCollector{
		logger:   logging.GetLogger("metrics"),
		source:   source,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins collecting child metrics.
func (c *ChildCollector) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)
	go c.run()
	return nil
}

// Stop stops the collector and waits for the sampling goroutine.
func (c *ChildCollector) Stop() error {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
	return nil
}

func (c *ChildCollector) run() {
	defer close(c.done)
	c.logger.Debug("Starting child metrics collection", "interval", c.interval)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.collect()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

func (c *ChildCollector) collect() {
	usage, ok, err := c.source()
	if err != nil {
		c.logger.Debug("Failed to sample child usage", "error", err)
		return
	}
	if !ok {
		metrics.ResetChildUsage()
		return
	}
	metrics.SetChildUsage(usage)
}
