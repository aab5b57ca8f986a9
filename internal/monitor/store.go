package monitor

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Store 的默认容量与过期时间。
const (
	DefaultStoreMaxLen = 10240
	DefaultStoreMaxAge = 7 * 24 * time.Hour
)

// TaskRecord 是一个已 received 但尚未结束的任务。
type TaskRecord struct {
	Name       string  `json:"name"`
	ReceivedAt float64 `json:"received_at"`
	// StartedAt 为 0 表示尚未 started。
	StartedAt float64 `json:"started_at,omitempty"`
}

// Started 判断任务是否已开始执行。
func (r TaskRecord) Started() bool {
	return r.StartedAt > 0
}

// Store 保存任务 id 到 TaskRecord 的映射，同时受容量（按插入顺序淘汰）与
// 插入后的最长存活时间约束。调用方只能拿到记录的副本。
type Store struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, *TaskRecord]
}

// NewStore 创建 Store，非正数参数使用默认值。
func NewStore(maxLen int, maxAge time.Duration) *Store {
	if maxLen <= 0 {
		maxLen = DefaultStoreMaxLen
	}
	if maxAge <= 0 {
		maxAge = DefaultStoreMaxAge
	}
	return &Store{cache: expirable.NewLRU[string, *TaskRecord](maxLen, nil, entryTTL(maxAge))}
}

// entryTTL 把存活时间换算成 expirable 的 TTL。expirable 在 now 严格晚于
// 过期时刻时才淘汰，减去 1ns 让记录在插入后恰好 maxAge 时即不可见。
func entryTTL(maxAge time.Duration) time.Duration {
	if maxAge <= time.Nanosecond {
		return maxAge
	}
	return maxAge - time.Nanosecond
}

// Put 插入或覆盖记录，容量已满时先淘汰最早插入的记录。
func (s *Store) Put(id string, record TaskRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := record
	s.cache.Add(id, &rec)
}

// Get 只读查询，不会刷新记录的位置或存活时间。
func (s *Store) Get(id string) (TaskRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.cache.Peek(id)
	if !ok || rec == nil {
		return TaskRecord{}, false
	}
	return *rec, true
}

// Update 在记录存在时原地修改并返回修改后的副本。
func (s *Store) Update(id string, fn func(*TaskRecord)) (TaskRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.cache.Peek(id)
	if !ok || rec == nil {
		return TaskRecord{}, false
	}
	// 原地修改，重新 Add 会重置插入顺序与过期时间
	fn(rec)
	return *rec, true
}

// Delete 删除记录并返回被删除的内容。
func (s *Store) Delete(id string) (TaskRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.cache.Peek(id)
	if !ok || rec == nil {
		return TaskRecord{}, false
	}
	s.cache.Remove(id)
	return *rec, true
}

// Len 返回未过期的记录数。
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cache.Keys())
}

// Close 清空所有记录。
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Purge()
}
