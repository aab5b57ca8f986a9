// Package event models Celery lifecycle events as they arrive on the event
// bus and decodes them from raw JSON bodies or kombu transport envelopes.
package event

import (
	"math"
	"strings"
	"time"
)

// Category 表示事件类型前缀。
type Category string

const (
	CategoryTask    Category = "task"
	CategoryWorker  Category = "worker"
	CategoryUnknown Category = ""
)

// Kind 是去掉类别前缀后的事件名，例如 task-started 的 Kind 为 started。
type Kind string

const (
	KindSent      Kind = "sent"
	KindReceived  Kind = "received"
	KindStarted   Kind = "started"
	KindSucceeded Kind = "succeeded"
	KindFailed    Kind = "failed"
	KindRetried   Kind = "retried"
	KindRejected  Kind = "rejected"
	KindRevoked   Kind = "revoked"

	KindOnline    Kind = "online"
	KindHeartbeat Kind = "heartbeat"
	KindOffline   Kind = "offline"
)

// IsTerminal 判断任务事件是否结束对该任务的跟踪。
func (k Kind) IsTerminal() bool {
	switch k {
	case KindSucceeded, KindFailed, KindRetried, KindRejected, KindRevoked:
		return true
	default:
		return false
	}
}

// IsTaskKind 判断是否为受支持的任务生命周期事件。
func (k Kind) IsTaskKind() bool {
	switch k {
	case KindSent, KindReceived, KindStarted:
		return true
	default:
		return k.IsTerminal()
	}
}

// Event 是事件总线上的一条生命周期事件。未知字段会被忽略。
type Event struct {
	Type      string  `json:"type"`
	UUID      string  `json:"uuid,omitempty"`
	Name      string  `json:"name,omitempty"`
	Hostname  string  `json:"hostname,omitempty"`
	Timestamp float64 `json:"timestamp,omitempty"`

	Clock      int64   `json:"clock,omitempty"`
	PID        int     `json:"pid,omitempty"`
	Retries    int     `json:"retries,omitempty"`
	Runtime    float64 `json:"runtime,omitempty"`
	RoutingKey string  `json:"routing_key,omitempty"`
	Queue      string  `json:"queue,omitempty"`
}

// Split 将类型拆分为类别与 Kind，例如 "task-received" -> (task, received)。
func (e Event) Split() (Category, Kind) {
	category, kind, ok := strings.Cut(e.Type, "-")
	if !ok || kind == "" {
		return CategoryUnknown, Kind(e.Type)
	}
	switch Category(category) {
	case CategoryTask, CategoryWorker:
		return Category(category), Kind(kind)
	default:
		return CategoryUnknown, Kind(e.Type)
	}
}

// Time 把浮点秒时间戳转换为 time.Time；缺失时返回零值。
func (e Event) Time() time.Time {
	return FromSeconds(e.Timestamp)
}

// FromSeconds 把 Unix 浮点秒转换为 time.Time，0 或非法值返回零值。
func FromSeconds(ts float64) time.Time {
	if ts <= 0 || math.IsNaN(ts) || math.IsInf(ts, 0) {
		return time.Time{}
	}
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*1e9))
}
