package monitor

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	xerrors "CeleryPulse/internal/errors"
	"CeleryPulse/internal/event"
	"CeleryPulse/internal/observability/metrics"
)

// Dispatcher 的默认参数。
const (
	DefaultDispatchWorkers   = 16
	DefaultDispatchBuffer    = 1024
	DefaultReconnectInterval = 2 * time.Second
)

// DispatcherConfig 描述分发循环的并发与重连参数。
type DispatcherConfig struct {
	Workers           int
	Buffer            int
	ReconnectInterval time.Duration
}

// Dispatcher 从 Source 读取事件并按类型路由。任务事件按 uuid 哈希分片，
// 同一任务的事件按投递顺序串行处理，不同任务并行处理。
type Dispatcher struct {
	source     Source
	classifier *Classifier
	heartbeats *HeartbeatTracker
	shards     []chan event.Event
	reconnect  time.Duration
	opts       options

	connected atomic.Bool
	running   atomic.Bool
}

// NewDispatcher 构造 Dispatcher。
func NewDispatcher(source Source, classifier *Classifier, heartbeats *HeartbeatTracker, cfg DispatcherConfig, opts ...Option) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultDispatchWorkers
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultDispatchBuffer
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	shards := make([]chan event.Event, cfg.Workers)
	for i := range shards {
		shards[i] = make(chan event.Event, cfg.Buffer)
	}
	return &Dispatcher{
		source:     source,
		classifier: classifier,
		heartbeats: heartbeats,
		shards:     shards,
		reconnect:  cfg.ReconnectInterval,
		opts:       buildOptions(opts),
	}
}

// Run 启动分片处理协程并持续监听事件源。连接断开后按重连间隔重试，
// 只有上下文取消才会结束循环。返回前等待正在处理的事件完成，队列中剩余的事件被放弃。
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return nil
	}
	defer d.running.Store(false)

	var wg sync.WaitGroup
	for _, shard := range d.shards {
		wg.Add(1)
		go func(queue <-chan event.Event) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev := <-queue:
					if ctx.Err() != nil {
						return
					}
					d.classifier.Handle(ctx, ev)
				}
			}
		}(shard)
	}

	// 首次立即连接，之后每个重连间隔最多一次
	limiter := rate.NewLimiter(rate.Every(d.reconnect), 1)
	attempt := 0
	for {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		if attempt > 0 {
			d.opts.collectors.ObserveReconnect()
			d.opts.logger.Info("重新连接事件源", slog.Int("attempt", attempt))
		}
		attempt++

		d.connected.Store(true)
		err := d.source.Listen(ctx, d.Dispatch)
		d.connected.Store(false)
		if ctx.Err() != nil {
			break
		}
		switch {
		case err == nil:
		case xerrors.RetryableError(err):
			d.opts.logger.Warn("事件源连接中断", slog.Any("error", err))
		default:
			d.opts.logger.Error("事件源异常退出", slog.Any("error", err))
		}
	}

	wg.Wait()
	d.opts.logger.Info("事件分发已停止")
	return ctx.Err()
}

// Dispatch 路由一条事件，从不阻塞。分片队列已满时事件被丢弃。
func (d *Dispatcher) Dispatch(ev event.Event) {
	category, kind := ev.Split()
	d.opts.collectors.ObserveEvent(string(category))

	switch category {
	case event.CategoryTask:
		shard := d.shards[shardIndex(ev.UUID, len(d.shards))]
		select {
		case shard <- ev:
		default:
			d.opts.logger.Warn("分片队列已满，丢弃事件",
				slog.String("uuid", ev.UUID),
				slog.String("type", ev.Type))
			d.opts.collectors.ObserveDrop(metrics.DropOverflow)
		}
	case event.CategoryWorker:
		switch kind {
		case event.KindOnline, event.KindHeartbeat:
			d.heartbeats.Record(ev.Hostname)
		default:
			d.opts.logger.Debug("忽略 worker 事件", slog.String("type", ev.Type))
		}
	default:
		d.opts.logger.Debug("忽略未知事件类型", slog.String("type", ev.Type))
		d.opts.collectors.ObserveDrop(metrics.DropUnknown)
	}
}

// Connected 判断当前是否正在监听事件源。
func (d *Dispatcher) Connected() bool {
	return d.connected.Load()
}

func shardIndex(id string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return int(h.Sum32() % uint32(n))
}
