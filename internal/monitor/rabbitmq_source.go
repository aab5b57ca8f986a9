package monitor

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "CeleryPulse/internal/errors"
	"CeleryPulse/internal/event"
)

// Celery 事件交换机与临时队列的参数。
const (
	EventExchange       = "celeryev"
	eventQueuePrefix    = "celeryev."
	eventQueueTTLMillis = 5000
	eventQueueExpiresMs = 60000
)

// RabbitMQSource 声明独占的临时队列并绑定到 celeryev 交换机接收全部事件。
type RabbitMQSource struct {
	uri      string
	exchange string
	opts     options
}

// NewRabbitMQSource 创建 RabbitMQSource，每次 Listen 都会建立新的连接。
func NewRabbitMQSource(uri string, opts ...Option) *RabbitMQSource {
	return &RabbitMQSource{uri: uri, exchange: EventExchange, opts: buildOptions(opts)}
}

func (s *RabbitMQSource) Listen(ctx context.Context, fn func(event.Event)) error {
	conn, err := amqp.Dial(s.uri)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeTransportFailure, err, "连接 RabbitMQ 失败")
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeTransportFailure, err, "创建 RabbitMQ channel 失败")
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(s.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return xerrors.Wrap(xerrors.CodeTransportFailure, err, "声明事件交换机失败")
	}
	queue := eventQueuePrefix + uuid.NewString()
	if _, err := ch.QueueDeclare(queue, false, true, true, false, amqp.Table{
		"x-message-ttl": int32(eventQueueTTLMillis),
		"x-expires":     int32(eventQueueExpiresMs),
	}); err != nil {
		return xerrors.Wrap(xerrors.CodeTransportFailure, err, "声明事件队列失败")
	}
	if err := ch.QueueBind(queue, "#", s.exchange, false, nil); err != nil {
		return xerrors.Wrap(xerrors.CodeTransportFailure, err, "绑定事件队列失败")
	}
	deliveries, err := ch.Consume(queue, "", true, true, false, false, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeTransportFailure, err, "订阅事件队列失败")
	}
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	s.opts.logger.Info("已绑定 RabbitMQ 事件队列", slog.String("queue", queue))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-closed:
			if amqpErr == nil {
				return xerrors.New(xerrors.CodeTransportFailure, "RabbitMQ 连接已关闭")
			}
			return xerrors.Wrap(xerrors.CodeTransportFailure, amqpErr, "RabbitMQ 连接中断")
		case d, ok := <-deliveries:
			if !ok {
				return xerrors.New(xerrors.CodeTransportFailure, "RabbitMQ 消费者已关闭")
			}
			s.handleDelivery(d, fn)
		}
	}
}

// handleDelivery 按 content-type 解析一条投递并转发其中的事件。
func (s *RabbitMQSource) handleDelivery(d amqp.Delivery, fn func(event.Event)) {
	events, err := event.DecodeContent(d.ContentType, d.Body)
	deliverEvents(s.opts, events, err, slog.String("routing_key", d.RoutingKey), fn)
}

// Close 无需释放资源，连接随 Listen 返回而关闭。
func (s *RabbitMQSource) Close() error { return nil }
