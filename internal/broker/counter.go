package broker

import (
	"context"
	"sort"
	"sync"
)

// QueueDepth 是某个队列在一次快照时的积压消息数。
type QueueDepth struct {
	Name  string `json:"name"`
	Depth int64  `json:"depth"`
}

// QueueCounter 读取各队列的积压深度，每个快照周期调用一次。
type QueueCounter interface {
	Counts(ctx context.Context) ([]QueueDepth, error)
}

// lastValues 记录曾经上报过的队列。读取失败时，已知队列报 0，未知队列被跳过。
type lastValues struct {
	mu   sync.Mutex
	seen map[string]int64
}

func (l *lastValues) remember(name string, depth int64) {
	l.mu.Lock()
	if l.seen == nil {
		l.seen = make(map[string]int64)
	}
	l.seen[name] = depth
	l.mu.Unlock()
}

func (l *lastValues) known(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[name]
	return ok
}

// names 返回所有曾经上报过的队列名。
func (l *lastValues) names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.seen))
	for name := range l.seen {
		out = append(out, name)
	}
	return out
}

func sortDepths(depths []QueueDepth) {
	sort.Slice(depths, func(i, j int) bool { return depths[i].Name < depths[j].Name })
}

// StaticCounter 返回固定的队列深度，用于测试和 memory broker。
type StaticCounter struct {
	mu     sync.Mutex
	depths []QueueDepth
	err    error
}

// NewStaticCounter 创建 StaticCounter。
func NewStaticCounter(depths ...QueueDepth) *StaticCounter {
	c := &StaticCounter{}
	c.Set(depths...)
	return c
}

// Set 替换返回的队列深度。
func (c *StaticCounter) Set(depths ...QueueDepth) {
	c.mu.Lock()
	c.depths = append([]QueueDepth(nil), depths...)
	c.mu.Unlock()
}

// Fail 让之后的 Counts 返回 err，传入 nil 恢复。
func (c *StaticCounter) Fail(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func (c *StaticCounter) Counts(ctx context.Context) ([]QueueDepth, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return append([]QueueDepth(nil), c.depths...), nil
}
