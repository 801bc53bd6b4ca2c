// Package metrics provides Prometheus metrics for the node monitor and its child.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/smazurov/nodewatch/internal/events"
	"github.com/smazurov/nodewatch/internal/monitor"
	"github.com/smazurov/nodewatch/internal/process"
	"github.com/smazurov/nodewatch/internal/version"
)

const namespace = "nodewatch"

var (
	contentChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "content_changes_total",
		Help:      "Content changes of the watched node delivered to the supervisor",
	}, []string{"presence"})

	childLaunches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "child_launches_total",
		Help:      "Child launch attempts by result",
	}, []string{"result"})

	childRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "child_running",
		Help:      "Whether a child process is running",
	})

	descendantGrowth = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "descendant_growth_total",
		Help:      "Times the descendant count of the watched node increased",
	})

	sessionAlive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "session_alive",
		Help:      "Whether the coordination session is alive",
	})

	buildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build metadata; the value is always 1",
	}, []string{"version", "commit", "go_version"})

	coordinationEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "coordination_events_total",
		Help:      "Raw coordination events by type",
	}, []string{"type"})

	childRSS = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "child",
		Name:      "rss_bytes",
		Help:      "Resident set size of the child process",
	})

	childCPU = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "child",
		Name:      "cpu_percent",
		Help:      "CPU usage of the child process",
	})

	childThreads = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "child",
		Name:      "threads",
		Help:      "Thread count of the child process",
	})

	_ = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "descendants",
		Help:      "Last observed descendant count of the watched node",
	}, func() float64 { return float64(snapshot().Descendants) })

	_ = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "content_bytes",
		Help:      "Size of the last delivered node content",
	}, func() float64 { return float64(snapshot().Size) })

	_ = promauto.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "checks_total",
		Help:      "Existence checks issued",
	}, func() float64 { return float64(snapshot().Checks) })

	_ = promauto.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "retries_total",
		Help:      "Existence checks re-issued after a transient failure",
	}, func() float64 { return float64(snapshot().Retries) })

	sourceMu       sync.RWMutex
	snapshotSource func() monitor.Snapshot

	// Last sampled usage, for the status API.
	usageCache   process.Usage
	usageCacheMu sync.RWMutex
)

// SetMonitorSource registers the function backing the monitor gauges.
// A nil source reports zeros.
func SetMonitorSource(src func() monitor.Snapshot) {
	sourceMu.Lock()
	defer sourceMu.Unlock()
	snapshotSource = src
}

func snapshot() monitor.Snapshot {
	sourceMu.RLock()
	defer sourceMu.RUnlock()
	if snapshotSource == nil {
		return monitor.Snapshot{}
	}
	return snapshotSource()
}

// SetBuildInfo publishes the build metadata gauge.
func SetBuildInfo(info version.Info) {
	buildInfo.Reset()
	buildInfo.WithLabelValues(info.Version, info.GitCommit, info.GoVersion).Set(1)
}

// RecordContentChange counts a delivered content change.
func RecordContentChange(exists bool) {
	presence := "absent"
	if exists {
		presence = "present"
	}
	contentChanges.WithLabelValues(presence).Inc()
}

// RecordLaunch counts a launch attempt.
func RecordLaunch(ok bool) {
	result := "failure"
	if ok {
		result = "success"
	}
	childLaunches.WithLabelValues(result).Inc()
}

// SetChildRunning sets the child running gauge.
func SetChildRunning(running bool) {
	childRunning.Set(boolToFloat(running))
}

// RecordDescendantGrowth counts an increase of the descendant count.
func RecordDescendantGrowth() {
	descendantGrowth.Inc()
}

// SetSessionAlive sets the session gauge.
func SetSessionAlive(alive bool) {
	sessionAlive.Set(boolToFloat(alive))
}

// RecordCoordinationEvent counts a raw coordination event.
func RecordCoordinationEvent(eventType string) {
	coordinationEvents.WithLabelValues(eventType).Inc()
}

// SetChildUsage sets the child resource gauges.
func SetChildUsage(u process.Usage) {
	childRSS.Set(float64(u.RSS))
	childCPU.Set(u.CPUPercent)
	childThreads.Set(float64(u.Threads))

	usageCacheMu.Lock()
	usageCache = u
	usageCacheMu.Unlock()
}

// ResetChildUsage zeroes the child resource gauges.
func ResetChildUsage() {
	SetChildUsage(process.Usage{})
}

// GetChildUsage returns the last sampled child usage.
func GetChildUsage() process.Usage {
	usageCacheMu.RLock()
	defer usageCacheMu.RUnlock()
	return usageCache
}

// Subscribe wires bus events to the metrics. Returns an unsubscribe function.
func Subscribe(bus *events.Bus) func() {
	SetSessionAlive(true)

	unsubscribers := []func(){
		bus.Subscribe(func(e events.NodeContentChangedEvent) {
			RecordContentChange(e.Exists)
		}),
		bus.Subscribe(func(events.ChildLaunchFailedEvent) {
			RecordLaunch(false)
		}),
		bus.Subscribe(func(e events.ChildStateChangedEvent) {
			switch process.State(e.To) {
			case process.StateRunning:
				RecordLaunch(true)
				SetChildRunning(true)
			case process.StateExited, process.StateError:
				SetChildRunning(false)
				ResetChildUsage()
			}
		}),
		bus.Subscribe(func(events.DescendantsGrewEvent) {
			RecordDescendantGrowth()
		}),
		bus.Subscribe(func(events.SessionClosedEvent) {
			SetSessionAlive(false)
		}),
		bus.Subscribe(func(e events.CoordinationEvent) {
			RecordCoordinationEvent(e.EventType)
		}),
	}

	return func() {
		for _, unsub := range unsubscribers {
			unsub()
		}
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
