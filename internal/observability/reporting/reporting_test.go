package reporting

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"

	xerrors "CeleryPulse/internal/errors"
)

func TestNewEventMergesMetadata(t *testing.T) {
	err := xerrors.Wrap(xerrors.CodeCounterFailure, errors.New("conn refused"), "llen failed",
		xerrors.WithMetadata("queue", "default"))
	ev := NewEvent(err, "cycle", map[string]string{"broker": "redis"})

	if ev.Code != xerrors.CodeCounterFailure {
		t.Fatalf("code = %s", ev.Code)
	}
	if ev.Severity != xerrors.SeverityWarning {
		t.Fatalf("severity = %s", ev.Severity)
	}
	if ev.Metadata["queue"] != "default" || ev.Metadata["broker"] != "redis" {
		t.Fatalf("unexpected metadata: %+v", ev.Metadata)
	}
}

func TestSentryReporterFiltersByAlert(t *testing.T) {
	var (
		mu   sync.Mutex
		sent []*sentry.Event
	)
	r, err := NewSentryReporter(SentryConfig{
		BeforeSend: func(ev *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			mu.Lock()
			sent = append(sent, ev)
			mu.Unlock()
			return nil
		},
	})
	if err != nil {
		t.Fatalf("new sentry reporter: %v", err)
	}

	ctx := context.Background()
	expected := xerrors.New(xerrors.CodeDecodeFailure, "bad payload")
	if err := r.Report(ctx, NewEvent(expected, "decode", nil)); err != nil {
		t.Fatalf("report: %v", err)
	}
	alerting := xerrors.New(xerrors.CodeSinkFailure, "influx down")
	if err := r.Report(ctx, NewEvent(alerting, "commit", map[string]string{"sink": "influxdb"})); err != nil {
		t.Fatalf("report: %v", err)
	}
	r.Flush(time.Second)

	mu.Lock()
	defer mu.Unlock()
	if len(sent) != 1 {
		t.Fatalf("expected only the alerting error to be sent, got %d", len(sent))
	}
	if sent[0].Tags["code"] != string(xerrors.CodeSinkFailure) || sent[0].Tags["stage"] != "commit" {
		t.Fatalf("unexpected tags: %+v", sent[0].Tags)
	}
	if sent[0].Level != sentry.LevelWarning {
		t.Fatalf("level = %s", sent[0].Level)
	}
}

type countingReporter struct {
	calls int
	err   error
}

func (c *countingReporter) Report(context.Context, Event) error {
	c.calls++
	return c.err
}

func (c *countingReporter) Flush(time.Duration) bool { return c.err == nil }

func TestFanoutAndLogReporter(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	failing := &countingReporter{err: errors.New("offline")}
	ok := &countingReporter{}

	f := NewFanout(LogReporter{Logger: log}, nil, failing, ok)
	err := f.Report(context.Background(), NewEvent(errors.New("boom"), "handle", map[string]string{"uuid": "abc"}))
	if err == nil || !strings.Contains(err.Error(), "offline") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if failing.calls != 1 || ok.calls != 1 {
		t.Fatalf("every reporter should be called")
	}
	if !strings.Contains(buf.String(), "uuid=abc") || !strings.Contains(buf.String(), "code=UNKNOWN") {
		t.Fatalf("unexpected log output: %s", buf.String())
	}
	if f.Flush(time.Millisecond) {
		t.Fatalf("flush should report the failing reporter")
	}
	if !(LogReporter{}).Flush(0) {
		t.Fatalf("log reporter flush should succeed")
	}
}

func TestLogReporterLevelFollowsSeverity(t *testing.T) {
	var buf bytes.Buffer
	r := LogReporter{Logger: slog.New(slog.NewTextHandler(&buf, nil))}
	ctx := context.Background()

	_ = r.Report(ctx, NewEvent(xerrors.New(xerrors.CodeCounterFailure, "llen failed"), "counter", nil))
	_ = r.Report(ctx, NewEvent(xerrors.New(xerrors.CodeInitializationFailure, "no source"), "init", nil))
	_ = r.Report(ctx, NewEvent(xerrors.New(xerrors.CodeDecodeFailure, "bad body"), "decode", nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected three log lines, got %q", buf.String())
	}
	for i, want := range []string{"level=WARN", "level=ERROR", "level=INFO"} {
		if !strings.Contains(lines[i], want) {
			t.Fatalf("line %d = %q, want %s", i, lines[i], want)
		}
	}
}
