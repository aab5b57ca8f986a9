package sink

import (
	"context"
	"errors"
	"strings"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "celery"

// PrometheusSink exposes points as Prometheus collectors. Prometheus pulls,
// so Commit has nothing to do.
type PrometheusSink struct {
	taskDuration *prom.HistogramVec
	taskEvents   *prom.CounterVec
	queueDepth   *prom.GaugeVec
	workers      prom.Gauge
}

// NewPrometheusSink creates the collectors and registers them on reg.
func NewPrometheusSink(reg prom.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}

	taskDuration := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Duration of task lifecycle transitions: queue wait for started, run time for terminal events.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
	}, []string{"task", "event"})
	taskEvents := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_events_total",
		Help:      "Number of classified task lifecycle events.",
	}, []string{"task", "event"})
	queueDepth := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Pending messages per broker queue at the last snapshot.",
	}, []string{"queue"})
	workers := prom.NewGauge(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "workers",
		Help:      "Distinct workers that sent a heartbeat during the last snapshot cycle.",
	})

	var err error
	if taskDuration, err = registerCollector(reg, taskDuration); err != nil {
		return nil, err
	}
	if taskEvents, err = registerCollector(reg, taskEvents); err != nil {
		return nil, err
	}
	if queueDepth, err = registerCollector(reg, queueDepth); err != nil {
		return nil, err
	}
	if workers, err = registerCollector(reg, workers); err != nil {
		return nil, err
	}

	return &PrometheusSink{
		taskDuration: taskDuration,
		taskEvents:   taskEvents,
		queueDepth:   queueDepth,
		workers:      workers,
	}, nil
}

func (s *PrometheusSink) EmitTask(m TaskMetric) {
	labels := []string{normalizeLabel(m.Task, "unknown"), string(m.Event)}
	s.taskEvents.WithLabelValues(labels...).Inc()
	s.taskDuration.WithLabelValues(labels...).Observe(m.Duration)
}

func (s *PrometheusSink) EmitQueue(m QueueMetric) {
	s.queueDepth.WithLabelValues(normalizeLabel(m.Queue, "unknown")).Set(float64(m.Depth))
}

func (s *PrometheusSink) EmitWorkers(m WorkerMetric) {
	s.workers.Set(float64(m.Count))
}

func (s *PrometheusSink) Commit(context.Context) error { return nil }

func (s *PrometheusSink) Close() error { return nil }

// registerCollector registers c, reusing an identical collector that is
// already registered so that the sink can be rebuilt on the same registry.
func registerCollector[T prom.Collector](reg prom.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var already prom.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, err
	}
	return c, nil
}

func normalizeLabel(value, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	return value
}
