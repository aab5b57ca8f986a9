package monitor

import (
	"log/slog"
	"time"

	"CeleryPulse/internal/observability/metrics"
	"CeleryPulse/internal/observability/reporting"
)

type options struct {
	logger     *slog.Logger
	collectors *metrics.Collectors
	reporter   reporting.Reporter
	now        func() time.Time
}

// Option 定义监控组件的可选配置。
type Option func(*options)

// WithLogger 指定日志输出。
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithCollectors 指定自身指标。
func WithCollectors(c *metrics.Collectors) Option {
	return func(o *options) {
		o.collectors = c
	}
}

// WithReporter 指定错误上报器，默认写入日志。
func WithReporter(r reporting.Reporter) Option {
	return func(o *options) {
		if r != nil {
			o.reporter = r
		}
	}
}

// WithClock 替换时间来源，测试使用。
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.reporter == nil {
		o.reporter = reporting.LogReporter{Logger: o.logger}
	}
	return o
}
