package monitor

import "sync"

// HeartbeatTracker 记录本周期内发送过心跳的 worker。
type HeartbeatTracker struct {
	mu    sync.Mutex
	hosts map[string]struct{}
}

// NewHeartbeatTracker 创建空的 HeartbeatTracker。
func NewHeartbeatTracker() *HeartbeatTracker {
	return &HeartbeatTracker{hosts: make(map[string]struct{})}
}

// Record 幂等地记录一个 worker，空主机名被忽略。
func (h *HeartbeatTracker) Record(hostname string) {
	if hostname == "" {
		return
	}
	h.mu.Lock()
	h.hosts[hostname] = struct{}{}
	h.mu.Unlock()
}

// SnapshotAndReset 返回去重后的 worker 数并换入空集合。
// 读取与清空在同一把锁内完成，并发的心跳只会落在一个周期里。
func (h *HeartbeatTracker) SnapshotAndReset() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.hosts)
	h.hosts = make(map[string]struct{}, n)
	return n
}

// Len 返回当前周期已记录的 worker 数。
func (h *HeartbeatTracker) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.hosts)
}
