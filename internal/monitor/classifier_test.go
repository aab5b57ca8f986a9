package monitor

import (
	"context"
	"testing"
	"time"

	"CeleryPulse/internal/event"
	"CeleryPulse/internal/sink"
)

func newTestClassifier(out sink.Sink, opts ...Option) (*Classifier, *Store) {
	store := NewStore(100, time.Hour)
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	return NewClassifier(store, out, opts...), store
}

func TestClassifierLifecycleDurations(t *testing.T) {
	out := sink.NewMemorySink()
	c, store := newTestClassifier(out)
	ctx := context.Background()

	c.Handle(ctx, taskEvent("received", "u1", "add", 100))
	c.Handle(ctx, taskEvent("started", "u1", "", 103))
	c.Handle(ctx, taskEvent("succeeded", "u1", "", 110))

	tasks := out.Tasks()
	if len(tasks) != 3 {
		t.Fatalf("expected 3 metrics, got %d", len(tasks))
	}
	assertTask(t, tasks[0], "add", event.KindReceived, 0)
	assertTask(t, tasks[1], "add", event.KindStarted, 3)
	assertTask(t, tasks[2], "add", event.KindSucceeded, 7)
	if !tasks[2].Timestamp.Equal(time.Unix(110, 0)) {
		t.Fatalf("metric timestamp should come from the event, got %s", tasks[2].Timestamp)
	}
	if store.Len() != 0 {
		t.Fatalf("terminal event should remove the record")
	}
}

func TestClassifierDropsUntrackedTasks(t *testing.T) {
	out := sink.NewMemorySink()
	c, store := newTestClassifier(out)

	for _, kind := range []string{"started", "succeeded", "failed", "retried", "rejected", "revoked"} {
		if _, ok := c.Classify(taskEvent(kind, "ghost", "add", 5)); ok {
			t.Fatalf("%s for an unknown id should produce no metric", kind)
		}
	}
	if store.Len() != 0 {
		t.Fatalf("untracked events must not mutate the store")
	}
	if len(out.Tasks()) != 0 {
		t.Fatalf("no metric should be emitted")
	}
}

func TestClassifierTerminalWithoutStart(t *testing.T) {
	out := sink.NewMemorySink()
	c, _ := newTestClassifier(out)
	ctx := context.Background()

	c.Handle(ctx, taskEvent("received", "u1", "mul", 10))
	c.Handle(ctx, taskEvent("revoked", "u1", "", 30))

	tasks := out.Tasks()
	if len(tasks) != 2 {
		t.Fatalf("expected 2 metrics, got %d", len(tasks))
	}
	assertTask(t, tasks[1], "mul", event.KindRevoked, 0)
}

func TestClassifierClampsNegativeDurations(t *testing.T) {
	c, _ := newTestClassifier(sink.NewMemorySink())

	c.Classify(taskEvent("received", "u1", "add", 50))
	m, ok := c.Classify(taskEvent("started", "u1", "", 45))
	if !ok {
		t.Fatalf("started should be classified")
	}
	assertTask(t, m, "add", event.KindStarted, 0)
}

func TestClassifierSentIsInformational(t *testing.T) {
	c, store := newTestClassifier(sink.NewMemorySink())

	m, ok := c.Classify(taskEvent("sent", "u1", "add", 1))
	if !ok {
		t.Fatalf("sent with a name should be classified")
	}
	assertTask(t, m, "add", event.KindSent, 0)
	if store.Len() != 0 {
		t.Fatalf("sent must not create a store entry")
	}

	if _, ok := c.Classify(taskEvent("sent", "u2", "", 1)); ok {
		t.Fatalf("sent without a resolvable name should be dropped")
	}

	c.Classify(taskEvent("received", "u3", "mul", 1))
	m, ok = c.Classify(taskEvent("sent", "u3", "", 2))
	if !ok || m.Task != "mul" {
		t.Fatalf("sent should fall back to the stored name, got %+v", m)
	}
}

func TestClassifierRejectsMalformedEvents(t *testing.T) {
	c, store := newTestClassifier(sink.NewMemorySink())

	if _, ok := c.Classify(taskEvent("received", "u1", "", 1)); ok {
		t.Fatalf("received without a name should be dropped")
	}
	if _, ok := c.Classify(taskEvent("received", "", "add", 1)); ok {
		t.Fatalf("task event without uuid should be dropped")
	}
	if _, ok := c.Classify(event.Event{Type: "task-exploded", UUID: "u1"}); ok {
		t.Fatalf("unknown task kind should be dropped")
	}
	if _, ok := c.Classify(workerEvent("heartbeat", "w1")); ok {
		t.Fatalf("worker events are not classified")
	}
	if store.Len() != 0 {
		t.Fatalf("malformed events must not create entries")
	}
}

func TestClassifierMissingTimestampUsesClock(t *testing.T) {
	now := time.Unix(1700000000, 0)
	c, _ := newTestClassifier(sink.NewMemorySink(), WithClock(func() time.Time { return now }))

	m, ok := c.Classify(taskEvent("received", "u1", "add", 0))
	if !ok || !m.Timestamp.Equal(now) {
		t.Fatalf("expected clock timestamp, got %+v", m)
	}
}

type panickingSink struct {
	sink.MemorySink
}

func (p *panickingSink) EmitTask(sink.TaskMetric) { panic("sink exploded") }

func TestClassifierHandleRecoversPanics(t *testing.T) {
	reporter := &recordingReporter{}
	c, _ := newTestClassifier(&panickingSink{}, WithReporter(reporter))

	c.Handle(context.Background(), taskEvent("received", "u1", "add", 1))

	events := reporter.Events()
	if len(events) != 1 || events[0].Code != CodeHandlerPanic {
		t.Fatalf("expected one HANDLER_PANIC report, got %+v", events)
	}
	if events[0].Metadata["uuid"] != "u1" {
		t.Fatalf("report should carry the event id, got %+v", events[0].Metadata)
	}
}

func TestEndToEndReceivedStartedFailed(t *testing.T) {
	out := sink.NewMemorySink()
	c, store := newTestClassifier(out)
	ctx := context.Background()

	c.Handle(ctx, taskEvent("received", "A", "add", 0))
	c.Handle(ctx, taskEvent("started", "A", "", 5))
	c.Handle(ctx, taskEvent("failed", "A", "", 9))

	tasks := out.Tasks()
	if len(tasks) != 3 {
		t.Fatalf("expected 3 metrics, got %d", len(tasks))
	}
	assertTask(t, tasks[0], "add", event.KindReceived, 0)
	assertTask(t, tasks[1], "add", event.KindStarted, 5)
	assertTask(t, tasks[2], "add", event.KindFailed, 4)
	if store.Len() != 0 {
		t.Fatalf("store should be empty")
	}
}

func TestEndToEndStartedAlone(t *testing.T) {
	out := sink.NewMemorySink()
	c, store := newTestClassifier(out)

	c.Handle(context.Background(), taskEvent("started", "B", "", 5))
	if len(out.Tasks()) != 0 || store.Len() != 0 {
		t.Fatalf("started alone should produce nothing")
	}
}
