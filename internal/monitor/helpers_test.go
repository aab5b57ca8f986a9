package monitor

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"CeleryPulse/internal/event"
	"CeleryPulse/internal/observability/reporting"
	"CeleryPulse/internal/sink"
)

type recordingReporter struct {
	mu     sync.Mutex
	events []reporting.Event
}

func (r *recordingReporter) Report(_ context.Context, ev reporting.Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recordingReporter) Flush(time.Duration) bool { return true }

func (r *recordingReporter) Events() []reporting.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]reporting.Event(nil), r.events...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func taskEvent(kind, uuid, name string, ts float64) event.Event {
	return event.Event{Type: "task-" + kind, UUID: uuid, Name: name, Timestamp: ts}
}

func workerEvent(kind, host string) event.Event {
	return event.Event{Type: "worker-" + kind, Hostname: host}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func assertTask(t *testing.T, got sink.TaskMetric, name string, kind event.Kind, duration float64) {
	t.Helper()
	if got.Task != name || got.Event != kind || got.Duration != duration {
		t.Fatalf("metric = (%s,%s,%v), want (%s,%s,%v)", got.Task, got.Event, got.Duration, name, kind, duration)
	}
}
