package sink

import (
	"context"
	"sync"
)

// Batch groups the points of one commit.
type Batch struct {
	Tasks   []TaskMetric
	Queues  []QueueMetric
	Workers []WorkerMetric
}

// Empty reports whether the batch carries no points.
func (b Batch) Empty() bool {
	return len(b.Tasks) == 0 && len(b.Queues) == 0 && len(b.Workers) == 0
}

// MemorySink keeps points in memory. It is used by tests and by the memory
// broker for local runs.
type MemorySink struct {
	mu        sync.Mutex
	pending   Batch
	committed []Batch
	closed    bool
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) EmitTask(metric TaskMetric) {
	m.mu.Lock()
	m.pending.Tasks = append(m.pending.Tasks, metric)
	m.mu.Unlock()
}

func (m *MemorySink) EmitQueue(metric QueueMetric) {
	m.mu.Lock()
	m.pending.Queues = append(m.pending.Queues, metric)
	m.mu.Unlock()
}

func (m *MemorySink) EmitWorkers(metric WorkerMetric) {
	m.mu.Lock()
	m.pending.Workers = append(m.pending.Workers, metric)
	m.mu.Unlock()
}

// Commit moves pending points into a committed batch. Empty commits leave no
// trace.
func (m *MemorySink) Commit(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending.Empty() {
		return nil
	}
	m.committed = append(m.committed, m.pending)
	m.pending = Batch{}
	return nil
}

func (m *MemorySink) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Pending returns a copy of the points not yet committed.
func (m *MemorySink) Pending() Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyBatch(m.pending)
}

// Committed returns a copy of every committed batch.
func (m *MemorySink) Committed() []Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Batch, len(m.committed))
	for i, b := range m.committed {
		out[i] = copyBatch(b)
	}
	return out
}

// Tasks returns every task point, committed or not, in emission order.
func (m *MemorySink) Tasks() []TaskMetric {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []TaskMetric
	for _, b := range m.committed {
		out = append(out, b.Tasks...)
	}
	return append(out, m.pending.Tasks...)
}

func copyBatch(b Batch) Batch {
	return Batch{
		Tasks:   append([]TaskMetric(nil), b.Tasks...),
		Queues:  append([]QueueMetric(nil), b.Queues...),
		Workers: append([]WorkerMetric(nil), b.Workers...),
	}
}
