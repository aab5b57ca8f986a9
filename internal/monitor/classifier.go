package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	xerrors "CeleryPulse/internal/errors"
	"CeleryPulse/internal/event"
	"CeleryPulse/internal/observability/metrics"
	"CeleryPulse/internal/observability/reporting"
	"CeleryPulse/internal/sink"
)

// Classifier 根据任务事件维护 Store 并推导各阶段耗时。
type Classifier struct {
	store *Store
	sink  sink.Sink
	opts  options
}

// NewClassifier 构造 Classifier。
func NewClassifier(store *Store, out sink.Sink, opts ...Option) *Classifier {
	return &Classifier{store: store, sink: out, opts: buildOptions(opts)}
}

// Classify 应用状态转换并返回对应的指标点。返回 false 表示事件被丢弃。
//
//	received   写入记录，耗时 0
//	started    记录存在时写入 StartedAt，耗时为排队时长
//	sent       仅做统计，不建记录，耗时 0
//	终止事件   记录存在时删除，耗时为执行时长（未 started 时为 0）
func (c *Classifier) Classify(ev event.Event) (sink.TaskMetric, bool) {
	category, kind := ev.Split()
	if category != event.CategoryTask || !kind.IsTaskKind() {
		c.opts.logger.Debug("忽略未知事件类型", slog.String("type", ev.Type))
		c.opts.collectors.ObserveDrop(metrics.DropUnknown)
		return sink.TaskMetric{}, false
	}
	if ev.UUID == "" {
		c.anomaly(ev, "任务事件缺少 uuid")
		return sink.TaskMetric{}, false
	}

	var (
		name     string
		duration float64
	)
	switch {
	case kind == event.KindReceived:
		if ev.Name == "" {
			c.anomaly(ev, "received 事件缺少任务名")
			return sink.TaskMetric{}, false
		}
		c.store.Put(ev.UUID, TaskRecord{Name: ev.Name, ReceivedAt: ev.Timestamp})
		name = ev.Name

	case kind == event.KindStarted:
		rec, ok := c.store.Update(ev.UUID, func(r *TaskRecord) { r.StartedAt = ev.Timestamp })
		if !ok {
			c.untracked(ev)
			return sink.TaskMetric{}, false
		}
		name = rec.Name
		duration = rec.StartedAt - rec.ReceivedAt

	case kind == event.KindSent:
		name = ev.Name
		if name == "" {
			if rec, ok := c.store.Get(ev.UUID); ok {
				name = rec.Name
			}
		}

	case kind.IsTerminal():
		rec, ok := c.store.Delete(ev.UUID)
		if !ok {
			c.untracked(ev)
			return sink.TaskMetric{}, false
		}
		name = rec.Name
		if rec.Started() {
			duration = ev.Timestamp - rec.StartedAt
		}
	}

	if name == "" {
		c.anomaly(ev, "无法确定任务名")
		return sink.TaskMetric{}, false
	}
	if duration < 0 {
		c.opts.logger.Debug("耗时为负，可能存在时钟偏差",
			slog.String("uuid", ev.UUID),
			slog.String("type", ev.Type),
			slog.Float64("duration", duration))
		duration = 0
	}

	ts := ev.Time()
	if ts.IsZero() {
		ts = c.opts.now()
	}
	return sink.TaskMetric{Task: name, Event: kind, Duration: duration, Timestamp: ts}, true
}

// Handle 分类事件并把指标写入 Sink。任何 panic 都会被恢复、记录并上报。
func (c *Classifier) Handle(ctx context.Context, ev event.Event) {
	defer func() {
		if r := recover(); r != nil {
			err := xerrors.New(CodeHandlerPanic, fmt.Sprintf("panic: %v", r),
				xerrors.WithMetadata("uuid", ev.UUID),
				xerrors.WithMetadata("type", ev.Type),
				xerrors.WithMetadata("stack", string(debug.Stack())))
			c.report(ctx, err, "handle")
		}
	}()

	metric, ok := c.Classify(ev)
	if !ok {
		return
	}
	c.sink.EmitTask(metric)
}

func (c *Classifier) untracked(ev event.Event) {
	c.opts.logger.Debug("任务不在跟踪范围内，丢弃事件",
		slog.String("uuid", ev.UUID),
		slog.String("type", ev.Type))
	c.opts.collectors.ObserveDrop(metrics.DropUntracked)
}

func (c *Classifier) anomaly(ev event.Event, msg string) {
	err := xerrors.New(CodeEventMalformed, msg)
	c.opts.logger.Error(msg, slog.Any("error", err), eventAttr(ev))
	c.opts.collectors.ObserveDrop(metrics.DropMalformed)
}

func (c *Classifier) report(ctx context.Context, err error, stage string) {
	if rerr := c.opts.reporter.Report(ctx, reporting.NewEvent(err, stage, nil)); rerr != nil {
		c.opts.logger.Warn("错误上报失败", slog.Any("error", rerr))
	}
}

func eventAttr(ev event.Event) slog.Attr {
	return slog.Group("event",
		slog.String("type", ev.Type),
		slog.String("uuid", ev.UUID),
		slog.String("name", ev.Name),
		slog.String("hostname", ev.Hostname),
		slog.Float64("timestamp", ev.Timestamp),
	)
}
