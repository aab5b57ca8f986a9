package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"CeleryPulse/internal/broker"
	xerrors "CeleryPulse/internal/errors"
	"CeleryPulse/internal/observability/reporting"
	"CeleryPulse/internal/sink"
)

// DefaultPeriod 是快照周期的默认长度。
const DefaultPeriod = 10 * time.Second

// CycleReport 描述最近一次快照周期的结果。
type CycleReport struct {
	At       time.Time           `json:"at"`
	Queues   []broker.QueueDepth `json:"queues"`
	Workers  int                 `json:"workers"`
	Duration time.Duration       `json:"duration"`
	Err      string              `json:"error,omitempty"`
}

// Aggregator 周期性地读取队列深度与心跳集合，写出指标并提交 Sink。
type Aggregator struct {
	counter    broker.QueueCounter
	heartbeats *HeartbeatTracker
	store      *Store
	sink       sink.Sink
	period     time.Duration
	opts       options

	mu   sync.RWMutex
	last CycleReport
}

// NewAggregator 构造 Aggregator。counter 与 store 可以为 nil。
func NewAggregator(counter broker.QueueCounter, heartbeats *HeartbeatTracker, store *Store, out sink.Sink, period time.Duration, opts ...Option) *Aggregator {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Aggregator{
		counter:    counter,
		heartbeats: heartbeats,
		store:      store,
		sink:       out,
		period:     period,
		opts:       buildOptions(opts),
	}
}

// Run 每个周期执行一次 Cycle，直到上下文取消。
func (a *Aggregator) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.period)
	defer ticker.Stop()

	a.opts.logger.Info("快照周期已启动", slog.Duration("period", a.period))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.Cycle(ctx)
		}
	}
}

// Cycle 执行一次快照：队列深度、worker 数、提交。任何失败都不会终止循环。
func (a *Aggregator) Cycle(ctx context.Context) (report CycleReport) {
	start := a.opts.now()
	report.At = start

	defer func() {
		if r := recover(); r != nil {
			err := xerrors.New(CodeCycleFailed, fmt.Sprintf("panic: %v", r),
				xerrors.WithMetadata("stack", string(debug.Stack())))
			a.report(ctx, err, "cycle")
			report.Err = err.Error()
		}
		report.Duration = a.opts.now().Sub(start)
		a.opts.collectors.ObserveCycle(report.Duration)
		if a.store != nil {
			a.opts.collectors.SetTrackedTasks(a.store.Len())
		}
		a.mu.Lock()
		a.last = report
		a.mu.Unlock()
	}()

	if a.counter != nil {
		depths, err := a.counter.Counts(ctx)
		if err != nil {
			if xerrors.CodeOf(err) == xerrors.CodeUnknown {
				err = xerrors.Wrap(xerrors.CodeCounterFailure, err, "读取队列深度失败", shutdownOpts(ctx)...)
			}
			a.report(ctx, err, "counter")
			report.Err = err.Error()
		}
		for _, d := range depths {
			a.sink.EmitQueue(sink.QueueMetric{Queue: d.Name, Depth: d.Depth, Timestamp: start})
		}
		report.Queues = depths
	}

	report.Workers = a.heartbeats.SnapshotAndReset()
	a.sink.EmitWorkers(sink.WorkerMetric{Count: report.Workers, Timestamp: start})

	if err := a.sink.Commit(ctx); err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeUnknown {
			err = xerrors.Wrap(xerrors.CodeSinkFailure, err, "提交指标失败", shutdownOpts(ctx)...)
		}
		a.report(ctx, err, "commit")
		report.Err = err.Error()
	}

	a.opts.logger.Debug("快照周期完成",
		slog.Int("queues", len(report.Queues)),
		slog.Int("workers", report.Workers))
	return report
}

// Last 返回最近一次周期的结果，尚未执行过时 At 为零值。
func (a *Aggregator) Last() CycleReport {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := a.last
	out.Queues = append([]broker.QueueDepth(nil), a.last.Queues...)
	return out
}

func (a *Aggregator) report(ctx context.Context, err error, stage string) {
	if rerr := a.opts.reporter.Report(ctx, reporting.NewEvent(err, stage, nil)); rerr != nil {
		a.opts.logger.Warn("错误上报失败", slog.Any("error", rerr))
	}
}

// shutdownOpts 在上下文已取消时降级错误，关闭过程中的失败不上报。
func shutdownOpts(ctx context.Context) []xerrors.Option {
	if ctx.Err() == nil {
		return nil
	}
	return []xerrors.Option{xerrors.WithAlert(false), xerrors.WithSeverity(xerrors.SeverityInfo)}
}
