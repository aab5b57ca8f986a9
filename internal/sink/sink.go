// Package sink defines the metric points produced by the monitor and the
// write-only time-series backends they are emitted to.
package sink

import (
	"context"
	"errors"
	"time"

	"CeleryPulse/internal/event"
)

// ErrUnknownDriver is returned when a configured sink driver is not supported.
var ErrUnknownDriver = errors.New("sink: unknown driver")

// TaskMetric is one lifecycle transition of a task.
type TaskMetric struct {
	Task      string
	Event     event.Kind
	Duration  float64
	Timestamp time.Time
}

// QueueMetric is the backlog depth of a named queue at a cycle boundary.
type QueueMetric struct {
	Queue     string
	Depth     int64
	Timestamp time.Time
}

// WorkerMetric is the number of distinct workers seen during a cycle.
type WorkerMetric struct {
	Count     int
	Timestamp time.Time
}

// Sink accepts metric points. Emit calls must not block on I/O; Commit
// flushes whatever is pending and is a no-op when nothing is.
type Sink interface {
	EmitTask(m TaskMetric)
	EmitQueue(m QueueMetric)
	EmitWorkers(m WorkerMetric)
	Commit(ctx context.Context) error
	Close() error
}

// Fanout forwards every point to all of its sinks.
type Fanout struct {
	sinks []Sink
}

// NewFanout builds a Fanout, skipping nil sinks.
func NewFanout(sinks ...Sink) *Fanout {
	set := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			set = append(set, s)
		}
	}
	return &Fanout{sinks: set}
}

func (f *Fanout) EmitTask(m TaskMetric) {
	for _, s := range f.sinks {
		s.EmitTask(m)
	}
}

func (f *Fanout) EmitQueue(m QueueMetric) {
	for _, s := range f.sinks {
		s.EmitQueue(m)
	}
}

func (f *Fanout) EmitWorkers(m WorkerMetric) {
	for _, s := range f.sinks {
		s.EmitWorkers(m)
	}
}

// Commit commits every sink, even if an earlier one fails.
func (f *Fanout) Commit(ctx context.Context) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Commit(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func pointTime(ts time.Time) time.Time {
	if ts.IsZero() {
		return time.Now()
	}
	return ts
}
