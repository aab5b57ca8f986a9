package monitor

import (
	"context"
	"log/slog"
	"sync"

	"CeleryPulse/internal/event"
	"CeleryPulse/internal/observability/metrics"
)

// Source 是入站事件流。Listen 阻塞投递解码后的事件，直到上下文结束或连接断开；
// 重连由 Dispatcher 负责。
type Source interface {
	Listen(ctx context.Context, fn func(event.Event)) error
	Close() error
}

// MemorySource 使用 channel 模拟事件流，主要用于测试和本地运行。
type MemorySource struct {
	ch        chan event.Event
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemorySource 创建一个内存事件源。
func NewMemorySource(size int) *MemorySource {
	if size <= 0 {
		size = 64
	}
	return &MemorySource{ch: make(chan event.Event, size), done: make(chan struct{})}
}

// Publish 投递事件，缓冲满时阻塞。
func (s *MemorySource) Publish(ctx context.Context, events ...event.Event) error {
	for _, ev := range events {
		select {
		case <-s.done:
			return ErrSourceClosed
		default:
		}
		select {
		case <-s.done:
			return ErrSourceClosed
		case <-ctx.Done():
			return ctx.Err()
		case s.ch <- ev:
		}
	}
	return nil
}

// PublishBody 解析原始消息体后投递，格式与 broker 上的消息一致。
func (s *MemorySource) PublishBody(ctx context.Context, contentType string, body []byte) error {
	events, err := event.DecodeContent(contentType, body)
	if err != nil {
		return err
	}
	return s.Publish(ctx, events...)
}

func (s *MemorySource) Listen(ctx context.Context, fn func(event.Event)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return ErrSourceClosed
		case ev := <-s.ch:
			fn(ev)
		}
	}
}

// Close 关闭事件源，之后的 Listen 立即返回 ErrSourceClosed。
func (s *MemorySource) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// deliverEvents 把一条消息解出的事件交给 fn。解析失败的消息整条丢弃，
// 记录 warn 日志并计入 malformed。
func deliverEvents(o options, events []event.Event, err error, origin slog.Attr, fn func(event.Event)) {
	if err != nil {
		o.logger.Warn("丢弃无法解析的事件消息", slog.Any("error", err), origin)
		o.collectors.ObserveDrop(metrics.DropMalformed)
		return
	}
	for _, ev := range events {
		fn(ev)
	}
}
