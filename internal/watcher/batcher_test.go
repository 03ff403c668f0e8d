package watcher

import (
	"sync"
	"testing"
	"time"
)

type batchRecorder struct {
	mu      sync.Mutex
	batches [][]int
}

func (r *batchRecorder) emit(ids []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, ids)
}

func (r *batchRecorder) get() [][]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]int, len(r.batches))
	copy(out, r.batches)
	return out
}

func TestBatcherCoalescesBurst(t *testing.T) {
	rec := &batchRecorder{}
	b := NewBatcher(100*time.Millisecond, rec.emit)

	for _, id := range []int{1, 2, 3, 4, 5} {
		b.Add(id)
		time.Sleep(10 * time.Millisecond)
	}

	time.Sleep(250 * time.Millisecond)

	batches := rec.get()
	if len(batches) != 1 {
		t.Fatalf("got %d batches, want 1: %v", len(batches), batches)
	}
	if len(batches[0]) != 5 {
		t.Fatalf("batch = %v, want all five ids", batches[0])
	}
	for i, id := range batches[0] {
		if id != i+1 {
			t.Errorf("batch[%d] = %d, want %d (sorted)", i, id, i+1)
		}
	}
}

func TestBatcherDeduplicatesIDs(t *testing.T) {
	rec := &batchRecorder{}
	b := NewBatcher(50*time.Millisecond, rec.emit)

	b.Add(7)
	b.Add(7)
	b.Add(7)

	time.Sleep(150 * time.Millisecond)

	batches := rec.get()
	if len(batches) != 1 || len(batches[0]) != 1 || batches[0][0] != 7 {
		t.Fatalf("batches = %v, want [[7]]", batches)
	}
}

func TestBatcherSlidingWindow(t *testing.T) {
	rec := &batchRecorder{}
	b := NewBatcher(120*time.Millisecond, rec.emit)

	// Keep adding faster than the window; nothing may flush while the
	// deadline keeps sliding.
	start := time.Now()
	for time.Since(start) < 300*time.Millisecond {
		b.Add(1)
		time.Sleep(40 * time.Millisecond)
	}
	if got := rec.get(); len(got) != 0 {
		t.Fatalf("flushed %v while events kept arriving", got)
	}

	time.Sleep(250 * time.Millisecond)
	if got := rec.get(); len(got) != 1 {
		t.Fatalf("got %d batches after quiet period, want 1", len(got))
	}
}

func TestBatcherSeparateBatches(t *testing.T) {
	rec := &batchRecorder{}
	b := NewBatcher(40*time.Millisecond, rec.emit)

	b.Add(1)
	time.Sleep(120 * time.Millisecond)
	b.Add(2)
	time.Sleep(120 * time.Millisecond)

	batches := rec.get()
	if len(batches) != 2 {
		t.Fatalf("got %d batches, want 2: %v", len(batches), batches)
	}
}

func TestBatcherFlush(t *testing.T) {
	rec := &batchRecorder{}
	b := NewBatcher(time.Hour, rec.emit)

	b.Add(3)
	b.Add(9)
	if b.Pending() != 2 {
		t.Fatalf("Pending() = %d, want 2", b.Pending())
	}

	b.Flush()

	batches := rec.get()
	if len(batches) != 1 || len(batches[0]) != 2 {
		t.Fatalf("batches = %v, want one batch of two", batches)
	}
	if b.Pending() != 0 {
		t.Errorf("Pending() = %d after flush, want 0", b.Pending())
	}

	// A second flush must not re-emit the consumed batch.
	b.Flush()
	if got := rec.get(); len(got) != 1 {
		t.Errorf("got %d batches after double flush, want 1", len(got))
	}
}

func TestBatcherFlushEmptyIsNoop(t *testing.T) {
	rec := &batchRecorder{}
	b := NewBatcher(50*time.Millisecond, rec.emit)
	b.Flush()
	if got := rec.get(); len(got) != 0 {
		t.Errorf("batches = %v, want none", got)
	}
}
