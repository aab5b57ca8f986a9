package monitor

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	xerrors "CeleryPulse/internal/errors"
	"CeleryPulse/internal/event"
)

// DefaultChannelPattern 是 kombu fanout 交换机在 Redis 上的频道模式，{db} 会被替换为数据库编号。
const DefaultChannelPattern = "/{db}.celeryev/*"

// RedisSubscriber 是 RedisSource 所需的能力，*redis.Client 满足该接口。
type RedisSubscriber interface {
	PSubscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// RedisSource 通过 PSUBSCRIBE 接收 kombu 在 Redis 上广播的事件。
type RedisSource struct {
	client  RedisSubscriber
	closer  interface{ Close() error }
	pattern string
	opts    options
}

// NewRedisSource 创建 RedisSource。pattern 为空时使用 DefaultChannelPattern。
func NewRedisSource(client *redis.Client, db int, pattern string, opts ...Option) *RedisSource {
	return &RedisSource{
		client:  client,
		closer:  client,
		pattern: ChannelPattern(pattern, db),
		opts:    buildOptions(opts),
	}
}

// ChannelPattern 展开频道模式中的 {db} 占位符。
func ChannelPattern(pattern string, db int) string {
	if strings.TrimSpace(pattern) == "" {
		pattern = DefaultChannelPattern
	}
	return strings.ReplaceAll(pattern, "{db}", strconv.Itoa(db))
}

func (s *RedisSource) Listen(ctx context.Context, fn func(event.Event)) error {
	ps := s.client.PSubscribe(ctx, s.pattern)
	defer ps.Close()

	// 等待订阅确认，确保连接可用
	if _, err := ps.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return xerrors.Wrap(xerrors.CodeTransportFailure, err, "订阅 Redis 事件频道失败",
			xerrors.WithMetadata("pattern", s.pattern))
	}
	s.opts.logger.Info("已订阅 Redis 事件频道", slog.String("pattern", s.pattern))

	messages := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return xerrors.New(xerrors.CodeTransportFailure, "Redis 订阅已关闭")
			}
			s.handleMessage(msg.Channel, msg.Payload, fn)
		}
	}
}

// handleMessage 解开一条频道消息中的 kombu 信封并投递其中的事件。
func (s *RedisSource) handleMessage(channel, payload string, fn func(event.Event)) {
	events, err := event.DecodeEnvelope([]byte(payload))
	deliverEvents(s.opts, events, err, slog.String("channel", channel), fn)
}

// Close 关闭底层 Redis 客户端。
func (s *RedisSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
