package broker

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	xerrors "CeleryPulse/internal/errors"
)

// kombu 在 Redis 上为优先级队列使用的分隔符。
const prioritySeparator = "\x06\x16"

const pidboxMarker = "reply.celery.pidbox"

// DefaultPrioritySteps 是 kombu Redis 传输默认的优先级档位。
var DefaultPrioritySteps = []int{0, 3, 6, 9}

// RedisLister 是 RedisCounter 所需的最小命令集合，*redis.Client 满足该接口。
type RedisLister interface {
	Keys(ctx context.Context, pattern string) *redis.StringSliceCmd
	LLen(ctx context.Context, key string) *redis.IntCmd
}

// RedisCounterConfig 描述 RedisCounter 的行为。
type RedisCounterConfig struct {
	// Queues 为空时通过 KEYS * 发现队列。
	Queues        []string
	PrioritySteps []int
}

// RedisCounter 统计 kombu Redis 传输上各队列的积压消息数，优先级变体会被合并。
type RedisCounter struct {
	client RedisLister
	queues []string
	steps  []int
	last   lastValues
}

// NewRedisCounter 创建 RedisCounter。
func NewRedisCounter(client RedisLister, cfg RedisCounterConfig) *RedisCounter {
	steps := cfg.PrioritySteps
	if len(steps) == 0 {
		steps = DefaultPrioritySteps
	}
	return &RedisCounter{
		client: client,
		queues: append([]string(nil), cfg.Queues...),
		steps:  append([]int(nil), steps...),
	}
}

// Counts 返回按名称排序的队列深度。
func (c *RedisCounter) Counts(ctx context.Context) ([]QueueDepth, error) {
	names, err := c.queueNames(ctx)
	if err != nil {
		return nil, err
	}

	depths := make([]QueueDepth, 0, len(names))
	for _, name := range names {
		if strings.Contains(name, pidboxMarker) || strings.Contains(name, prioritySeparator) {
			continue
		}
		depth, err := c.count(ctx, name)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			// 非 list 类型的键（例如 kombu 的绑定集合）会返回 WRONGTYPE
			if !c.last.known(name) {
				continue
			}
			depth = 0
		}
		depths = append(depths, QueueDepth{Name: name, Depth: depth})
		c.last.remember(name, depth)
	}
	sortDepths(depths)
	return depths, nil
}

func (c *RedisCounter) queueNames(ctx context.Context) ([]string, error) {
	if len(c.queues) > 0 {
		return c.queues, nil
	}
	keys, err := c.client.Keys(ctx, "*").Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeCounterFailure, err, "list redis keys")
	}
	// Redis 会删除空 list，已上报过的队列排空后需要继续报 0
	present := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		present[k] = struct{}{}
	}
	for _, name := range c.last.names() {
		if _, ok := present[name]; !ok {
			keys = append(keys, name)
		}
	}
	return keys, nil
}

func (c *RedisCounter) count(ctx context.Context, queue string) (int64, error) {
	var total int64
	for _, pri := range c.steps {
		n, err := c.client.LLen(ctx, priorityKey(queue, pri)).Result()
		if err != nil {
			return 0, xerrors.Wrap(xerrors.CodeCounterFailure, err, "llen "+queue,
				xerrors.WithMetadata("queue", queue))
		}
		total += n
	}
	return total, nil
}

func priorityKey(queue string, pri int) string {
	if pri == 0 {
		return queue
	}
	return fmt.Sprintf("%s%s%d", queue, prioritySeparator, pri)
}
