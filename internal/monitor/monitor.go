package monitor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"CeleryPulse/internal/broker"
	xerrors "CeleryPulse/internal/errors"
	"CeleryPulse/internal/sink"
)

// Config 汇总监控各组件的参数，零值字段使用默认值。
type Config struct {
	Period      time.Duration
	StoreMaxLen int
	StoreMaxAge time.Duration
	Dispatch    DispatcherConfig
}

// Status 是供管理接口展示的运行快照。
type Status struct {
	Connected         bool                `json:"connected"`
	TrackedTasks      int                 `json:"tracked_tasks"`
	PendingHeartbeats int                 `json:"pending_heartbeats"`
	LastCycle         *time.Time          `json:"last_cycle,omitempty"`
	LastCycleError    string              `json:"last_cycle_error,omitempty"`
	Queues            []broker.QueueDepth `json:"queues"`
	Workers           int                 `json:"workers"`
}

// Monitor 组合 Store、Classifier、HeartbeatTracker、Dispatcher 与 Aggregator。
type Monitor struct {
	store      *Store
	heartbeats *HeartbeatTracker
	classifier *Classifier
	dispatcher *Dispatcher
	aggregator *Aggregator
	source     Source
	sink       sink.Sink
	logger     *slog.Logger
}

// New 构造 Monitor。counter 可以为 nil，此时不产生队列指标。
func New(cfg Config, source Source, counter broker.QueueCounter, out sink.Sink, opts ...Option) (*Monitor, error) {
	if source == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置事件源")
	}
	if out == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置指标输出")
	}

	o := buildOptions(opts)
	store := NewStore(cfg.StoreMaxLen, cfg.StoreMaxAge)
	heartbeats := NewHeartbeatTracker()
	classifier := NewClassifier(store, out, opts...)
	return &Monitor{
		store:      store,
		heartbeats: heartbeats,
		classifier: classifier,
		dispatcher: NewDispatcher(source, classifier, heartbeats, cfg.Dispatch, opts...),
		aggregator: NewAggregator(counter, heartbeats, store, out, cfg.Period, opts...),
		source:     source,
		sink:       out,
		logger:     o.logger,
	}, nil
}

// Run 并发运行分发循环与快照周期，两者都退出后返回。
func (m *Monitor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.dispatcher.Run(gctx) })
	g.Go(func() error { return m.aggregator.Run(gctx) })
	m.logger.Info("监控已启动")
	err := g.Wait()
	m.logger.Info("监控已停止")
	return err
}

// Status 返回当前运行快照。
func (m *Monitor) Status() Status {
	last := m.aggregator.Last()
	st := Status{
		Connected:         m.dispatcher.Connected(),
		TrackedTasks:      m.store.Len(),
		PendingHeartbeats: m.heartbeats.Len(),
		LastCycleError:    last.Err,
		Queues:            last.Queues,
		Workers:           last.Workers,
	}
	if !last.At.IsZero() {
		at := last.At
		st.LastCycle = &at
	}
	if st.Queues == nil {
		st.Queues = []broker.QueueDepth{}
	}
	return st
}

// Store 返回任务状态存储。
func (m *Monitor) Store() *Store { return m.store }

// Heartbeats 返回心跳集合。
func (m *Monitor) Heartbeats() *HeartbeatTracker { return m.heartbeats }

// Classifier 返回事件分类器。
func (m *Monitor) Classifier() *Classifier { return m.classifier }

// Dispatcher 返回分发循环。
func (m *Monitor) Dispatcher() *Dispatcher { return m.dispatcher }

// Aggregator 返回快照周期。
func (m *Monitor) Aggregator() *Aggregator { return m.aggregator }

// Close 关闭事件源与 Sink，并清空 Store。
func (m *Monitor) Close() error {
	var errs []error
	if err := m.source.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := m.sink.Close(); err != nil {
		errs = append(errs, err)
	}
	m.store.Close()
	return errors.Join(errs...)
}
