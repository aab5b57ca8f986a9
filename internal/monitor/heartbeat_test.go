package monitor

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

func TestHeartbeatTrackerIdempotent(t *testing.T) {
	h := NewHeartbeatTracker()
	h.Record("w1")
	h.Record("w2")
	h.Record("w1")
	h.Record("")

	if h.Len() != 2 {
		t.Fatalf("Len = %d, want 2", h.Len())
	}
	if n := h.SnapshotAndReset(); n != 2 {
		t.Fatalf("snapshot = %d, want 2", n)
	}
	if n := h.SnapshotAndReset(); n != 0 {
		t.Fatalf("second snapshot = %d, want 0", n)
	}
}

func TestHeartbeatTrackerConcurrentSnapshot(t *testing.T) {
	h := NewHeartbeatTracker()
	const hosts = 500

	var (
		wg    sync.WaitGroup
		total atomic.Int64
		stop  = make(chan struct{})
		done  = make(chan struct{})
	)
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				total.Add(int64(h.SnapshotAndReset()))
			}
		}
	}()

	for i := 0; i < hosts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h.Record(fmt.Sprintf("worker-%d", i))
		}(i)
	}
	wg.Wait()
	close(stop)
	<-done
	total.Add(int64(h.SnapshotAndReset()))

	// 每个心跳恰好落在一个周期里
	if got := total.Load(); got != hosts {
		t.Fatalf("counted %d heartbeats across cycles, want %d", got, hosts)
	}
}
