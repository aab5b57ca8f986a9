package broker

import (
	"context"
	"errors"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "CeleryPulse/internal/errors"
)

// DefaultRabbitMQQueue 是 Celery 的默认队列名。AMQP 无法枚举队列，未配置时只统计它。
const DefaultRabbitMQQueue = "celery"

// QueueInspector 是被动声明队列所需的 channel 能力，*amqp.Channel 满足该接口。
type QueueInspector interface {
	QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Close() error
}

// ChannelOpener 打开一个新的 channel。
type ChannelOpener func() (QueueInspector, error)

// RabbitMQCounter 通过被动声明读取队列的消息数。队列不存在时 broker 会关闭
// channel，下一次读取前重新打开。
type RabbitMQCounter struct {
	open      ChannelOpener
	closeConn func() error
	queues    []string
	last      lastValues

	mu sync.Mutex
	ch QueueInspector
}

// amqpDialer 持有计数器使用的连接，连接断开后在下一次打开 channel 时重新拨号。
// 只在 RabbitMQCounter.mu 保护下调用。
type amqpDialer struct {
	uri  string
	conn *amqp.Connection
}

func (d *amqpDialer) channel() (QueueInspector, error) {
	if d.conn == nil || d.conn.IsClosed() {
		conn, err := amqp.Dial(d.uri)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeTransportFailure, err, "连接 RabbitMQ 失败")
		}
		d.conn = conn
	}
	ch, err := d.conn.Channel()
	if err != nil {
		// 连接可能已不可用，下次重新拨号
		_ = d.conn.Close()
		d.conn = nil
		return nil, err
	}
	return ch, nil
}

func (d *amqpDialer) close() error {
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	if errors.Is(err, amqp.ErrClosed) {
		return nil
	}
	return err
}

// NewRabbitMQCounterFromURI 创建按需拨号的计数器。启动时 broker 不可用不会报错，
// 连接在首次 Counts 时建立，断开后自动重连。
func NewRabbitMQCounterFromURI(uri string, queues []string) *RabbitMQCounter {
	dialer := &amqpDialer{uri: uri}
	c := NewRabbitMQCounter(dialer.channel, queues)
	c.closeConn = dialer.close
	return c
}

// NewRabbitMQCounter 使用给定的 channel 打开函数创建计数器。
func NewRabbitMQCounter(open ChannelOpener, queues []string) *RabbitMQCounter {
	if len(queues) == 0 {
		queues = []string{DefaultRabbitMQQueue}
	}
	return &RabbitMQCounter{open: open, queues: append([]string(nil), queues...)}
}

// Counts 返回按名称排序的队列深度。
func (c *RabbitMQCounter) Counts(ctx context.Context) ([]QueueDepth, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	depths := make([]QueueDepth, 0, len(c.queues))
	for _, name := range c.queues {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if c.ch == nil {
			ch, err := c.open()
			if err != nil {
				return nil, xerrors.Wrap(xerrors.CodeCounterFailure, err, "创建 RabbitMQ channel 失败")
			}
			c.ch = ch
		}

		q, err := c.ch.QueueDeclarePassive(name, false, false, false, false, nil)
		if err != nil {
			// 任何声明错误都会使 broker 关闭当前 channel
			c.ch = nil
			var amqpErr *amqp.Error
			if !errors.As(err, &amqpErr) || amqpErr.Code != amqp.NotFound {
				return nil, xerrors.Wrap(xerrors.CodeCounterFailure, err, "读取队列深度失败",
					xerrors.WithMetadata("queue", name))
			}
			if !c.last.known(name) {
				continue
			}
			q.Messages = 0
		}
		depth := int64(q.Messages)
		depths = append(depths, QueueDepth{Name: name, Depth: depth})
		c.last.remember(name, depth)
	}
	sortDepths(depths)
	return depths, nil
}

// Close 关闭 channel 与连接。
func (c *RabbitMQCounter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch != nil {
		_ = c.ch.Close()
		c.ch = nil
	}
	if c.closeConn != nil {
		return c.closeConn()
	}
	return nil
}
