package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smazurov/nodewatch/internal/events"
	"github.com/smazurov/nodewatch/internal/monitor"
	"github.com/smazurov/nodewatch/internal/process"
	"github.com/smazurov/nodewatch/internal/version"
)

// eventually polls cond until it holds or the timeout expires.
func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRecordContentChange(t *testing.T) {
	before := testutil.ToFloat64(contentChanges.WithLabelValues("present"))
	RecordContentChange(true)
	if got := testutil.ToFloat64(contentChanges.WithLabelValues("present")); got != before+1 {
		t.Errorf("present = %v, want %v", got, before+1)
	}

	before = testutil.ToFloat64(contentChanges.WithLabelValues("absent"))
	RecordContentChange(false)
	if got := testutil.ToFloat64(contentChanges.WithLabelValues("absent")); got != before+1 {
		t.Errorf("absent = %v, want %v", got, before+1)
	}
}

func TestSetBuildInfo(t *testing.T) {
	SetBuildInfo(version.Info{Version: "1.0.0", GitCommit: "abc", GoVersion: "go1.24"})
	SetBuildInfo(version.Info{Version: "1.0.1", GitCommit: "def", GoVersion: "go1.24"})

	if got := testutil.CollectAndCount(buildInfo); got != 1 {
		t.Errorf("build_info series = %d, want 1", got)
	}
	if got := testutil.ToFloat64(buildInfo.WithLabelValues("1.0.1", "def", "go1.24")); got != 1 {
		t.Errorf("build_info = %v, want 1", got)
	}
}

func TestChildUsageCache(t *testing.T) {
	u := process.Usage{RSS: 2048, CPUPercent: 12.5, Threads: 4}
	SetChildUsage(u)

	if got := GetChildUsage(); got != u {
		t.Errorf("GetChildUsage() = %+v, want %+v", got, u)
	}
	if got := testutil.ToFloat64(childRSS); got != 2048 {
		t.Errorf("rss gauge = %v, want 2048", got)
	}

	ResetChildUsage()
	if got := GetChildUsage(); got != (process.Usage{}) {
		t.Errorf("after reset = %+v", got)
	}
}

func TestMonitorSource(t *testing.T) {
	SetMonitorSource(nil)
	if got := snapshot(); got != (monitor.Snapshot{}) {
		t.Errorf("snapshot without source = %+v", got)
	}

	SetMonitorSource(func() monitor.Snapshot {
		return monitor.Snapshot{Descendants: 7, Size: 3, Checks: 11, Retries: 2}
	})
	defer SetMonitorSource(nil)

	if got := snapshot().Descendants; got != 7 {
		t.Errorf("Descendants = %d, want 7", got)
	}
}

func TestSubscribe(t *testing.T) {
	bus := events.New()
	unsub := Subscribe(bus)
	defer unsub()

	if got := testutil.ToFloat64(sessionAlive); got != 1 {
		t.Errorf("session_alive = %v, want 1", got)
	}

	growth := testutil.ToFloat64(descendantGrowth)
	failures := testutil.ToFloat64(childLaunches.WithLabelValues("failure"))
	successes := testutil.ToFloat64(childLaunches.WithLabelValues("success"))
	sessions := testutil.ToFloat64(coordinationEvents.WithLabelValues("session"))

	bus.Publish(events.DescendantsGrewEvent{Path: "/z", Count: 2})
	bus.Publish(events.ChildLaunchFailedEvent{Command: "/bin/x"})
	bus.Publish(events.ChildStateChangedEvent{ID: "child-1", From: "starting", To: "running"})
	bus.Publish(events.CoordinationEvent{EventType: "session"})

	eventually(t, func() bool { return testutil.ToFloat64(descendantGrowth) == growth+1 })
	eventually(t, func() bool { return testutil.ToFloat64(childLaunches.WithLabelValues("failure")) == failures+1 })
	eventually(t, func() bool { return testutil.ToFloat64(childLaunches.WithLabelValues("success")) == successes+1 })
	eventually(t, func() bool { return testutil.ToFloat64(childRunning) == 1 })
	eventually(t, func() bool { return testutil.ToFloat64(coordinationEvents.WithLabelValues("session")) == sessions+1 })

	bus.Publish(events.ChildStateChangedEvent{ID: "child-1", From: "stopping", To: "exited"})
	eventually(t, func() bool { return testutil.ToFloat64(childRunning) == 0 })

	bus.Publish(events.SessionClosedEvent{Path: "/z", Code: "session-expired"})
	eventually(t, func() bool { return testutil.ToFloat64(sessionAlive) == 0 })
}
