package watcher

import (
	"sort"
	"sync"
	"time"
)

// Batcher coalesces bursts of item IDs into single batches using a sliding
// debounce window: the flush deadline moves forward on every Add, and the
// accumulated set is emitted only once the window elapses with no new
// events. Each batch is emitted exactly once, whether by the timer or by an
// explicit Flush.
type Batcher struct {
	window time.Duration
	emit   func(ids []int)

	mu      sync.Mutex
	pending map[int]struct{}
	lastAdd time.Time
	timer   *time.Timer
}

// NewBatcher creates a batcher that calls emit with the de-duplicated,
// sorted ID set of each completed batch. emit runs on the timer goroutine
// (or the Flush caller); it should hand off quickly.
func NewBatcher(window time.Duration, emit func(ids []int)) *Batcher {
	return &Batcher{
		window:  window,
		emit:    emit,
		pending: make(map[int]struct{}),
	}
}

// Add records an item ID and extends the flush deadline.
func (b *Batcher) Add(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending[id] = struct{}{}
	b.lastAdd = time.Now()

	if b.timer == nil {
		b.timer = time.AfterFunc(b.window, b.fire)
	} else {
		b.timer.Reset(b.window)
	}
}

// Pending returns the number of item IDs waiting to be flushed.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Flush emits whatever has accumulated without waiting for the deadline.
// A no-op when nothing is pending.
func (b *Batcher) Flush() {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	ids := b.take()
	b.mu.Unlock()

	if len(ids) > 0 {
		b.emit(ids)
	}
}

func (b *Batcher) fire() {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.timer = nil
		b.mu.Unlock()
		return
	}
	// An Add may have slid the deadline after this timer was already in
	// flight; re-arm for the remainder instead of emitting early.
	if remaining := b.window - time.Since(b.lastAdd); remaining > 0 {
		b.timer.Reset(remaining)
		b.mu.Unlock()
		return
	}
	ids := b.take()
	b.timer = nil
	b.mu.Unlock()

	b.emit(ids)
}

// take drains the pending set. Caller holds b.mu.
func (b *Batcher) take() []int {
	if len(b.pending) == 0 {
		return nil
	}
	ids := make([]int, 0, len(b.pending))
	for id := range b.pending {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	b.pending = make(map[int]struct{})
	return ids
}
