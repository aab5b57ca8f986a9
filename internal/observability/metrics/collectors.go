package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "celerypulse"

// 丢弃事件的原因标签。
const (
	DropUntracked = "untracked"
	DropOverflow  = "overflow"
	DropMalformed = "malformed"
	DropUnknown   = "unknown_type"
)

// Collectors 汇总监控进程自身的指标。nil 接收者上的方法均为空操作，便于测试。
type Collectors struct {
	eventsReceived   *prom.CounterVec
	eventsDropped    *prom.CounterVec
	trackedTasks     prom.Gauge
	streamReconnects prom.Counter
	cycleDuration    prom.Histogram

	httpRequests *prom.CounterVec
	httpLatency  *prom.HistogramVec
}

// New 创建并注册自身指标。
func New(reg prom.Registerer) (*Collectors, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	c := &Collectors{
		eventsReceived: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Events received from the event stream, by category.",
		}, []string{"category"}),
		eventsDropped: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped without producing a metric, by reason.",
		}, []string{"reason"}),
		trackedTasks: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_tasks",
			Help:      "Tasks currently held in the task state store.",
		}),
		streamReconnects: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "stream_reconnects_total",
			Help:      "Reconnections to the event stream.",
		}),
		cycleDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of snapshot cycles.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		httpRequests: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		httpLatency: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
	}

	var err error
	if c.eventsReceived, err = register(reg, c.eventsReceived); err != nil {
		return nil, err
	}
	if c.eventsDropped, err = register(reg, c.eventsDropped); err != nil {
		return nil, err
	}
	if c.trackedTasks, err = register(reg, c.trackedTasks); err != nil {
		return nil, err
	}
	if c.streamReconnects, err = register(reg, c.streamReconnects); err != nil {
		return nil, err
	}
	if c.cycleDuration, err = register(reg, c.cycleDuration); err != nil {
		return nil, err
	}
	if c.httpRequests, err = register(reg, c.httpRequests); err != nil {
		return nil, err
	}
	if c.httpLatency, err = register(reg, c.httpLatency); err != nil {
		return nil, err
	}
	return c, nil
}

// register 注册指标；同一注册表上重复创建时复用已存在的指标。
func register[T prom.Collector](reg prom.Registerer, c T) (T, error) {
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

// ObserveEvent 记录一条收到的事件。
func (c *Collectors) ObserveEvent(category string) {
	if c == nil {
		return
	}
	if category == "" {
		category = "unknown"
	}
	c.eventsReceived.WithLabelValues(category).Inc()
}

// ObserveDrop 记录一条被丢弃的事件。
func (c *Collectors) ObserveDrop(reason string) {
	if c == nil {
		return
	}
	c.eventsDropped.WithLabelValues(reason).Inc()
}

// SetTrackedTasks 更新当前跟踪的任务数。
func (c *Collectors) SetTrackedTasks(n int) {
	if c == nil {
		return
	}
	c.trackedTasks.Set(float64(n))
}

// ObserveReconnect 记录一次事件流重连。
func (c *Collectors) ObserveReconnect() {
	if c == nil {
		return
	}
	c.streamReconnects.Inc()
}

// ObserveCycle 记录一次快照周期的耗时。
func (c *Collectors) ObserveCycle(d time.Duration) {
	if c == nil {
		return
	}
	c.cycleDuration.Observe(d.Seconds())
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func (c *Collectors) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	c.httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// Handler exposes the gathered metrics in Prometheus text exposition format.
func Handler(g prom.Gatherer) http.Handler {
	if g == nil {
		g = prom.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
