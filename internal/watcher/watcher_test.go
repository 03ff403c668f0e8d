package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/saltyorg/chtsubs/internal/plex"
)

func TestBackoffDelay(t *testing.T) {
	initial := 2 * time.Second
	max := 300 * time.Second

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 2 * time.Second},
		{1, 4 * time.Second},
		{2, 8 * time.Second},
		{3, 16 * time.Second},
		{7, 256 * time.Second},
		{8, 300 * time.Second},
		{20, 300 * time.Second},
	}
	for _, tt := range tests {
		if got := backoffDelay(tt.attempt, initial, max); got != tt.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

// scriptedSource runs a fixed scenario per WatchTimeline call.
type scriptedSource struct {
	mu    sync.Mutex
	calls int
	// script returns the error to report for the given call number; it may
	// emit entries through the handler and block on ctx.
	script func(call int, ctx context.Context, onConnect func(), handler func(plex.TimelineEntry)) error
}

func (s *scriptedSource) WatchTimeline(ctx context.Context, onConnect func(), handler func(plex.TimelineEntry)) error {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()
	return s.script(call, ctx, onConnect, handler)
}

func (s *scriptedSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func timelineEvent(id, mediaType, state int) plex.TimelineEntry {
	return plex.TimelineEntry{ItemID: id, Type: mediaType, State: state}
}

func TestWatcherFiltersAndBatchesEvents(t *testing.T) {
	var gotMu sync.Mutex
	var got [][]int

	src := &scriptedSource{
		script: func(call int, ctx context.Context, onConnect func(), handler func(plex.TimelineEntry)) error {
			onConnect()
			handler(timelineEvent(1, plex.MediaTypeMovie, plex.TimelineStateCompleted))
			handler(timelineEvent(2, plex.MediaTypeEpisode, plex.TimelineStateCompleted))
			handler(timelineEvent(3, plex.MediaTypeShow, plex.TimelineStateCompleted))   // wrong type
			handler(timelineEvent(4, plex.MediaTypeMovie, plex.TimelineStateCreated))    // wrong state
			handler(timelineEvent(5, plex.MediaTypeSeason, plex.TimelineStateCompleted)) // wrong type
			handler(timelineEvent(1, plex.MediaTypeMovie, plex.TimelineStateCompleted))  // duplicate
			<-ctx.Done()
			return ctx.Err()
		},
	}

	w := New(src, Options{Debounce: 50 * time.Millisecond}, func(ids []int) {
		gotMu.Lock()
		got = append(got, ids)
		gotMu.Unlock()
	})
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	time.Sleep(250 * time.Millisecond)

	gotMu.Lock()
	defer gotMu.Unlock()
	if len(got) != 1 {
		t.Fatalf("got %d batches, want 1: %v", len(got), got)
	}
	if len(got[0]) != 2 || got[0][0] != 1 || got[0][1] != 2 {
		t.Errorf("batch = %v, want [1 2]", got[0])
	}
}

func TestWatcherReconnectsAfterDisconnect(t *testing.T) {
	connected := make(chan int, 10)
	src := &scriptedSource{
		script: func(call int, ctx context.Context, onConnect func(), handler func(plex.TimelineEntry)) error {
			onConnect()
			connected <- call
			if call < 3 {
				return errors.New("connection reset")
			}
			<-ctx.Done()
			return ctx.Err()
		},
	}

	w := New(src, Options{
		Debounce:       10 * time.Millisecond,
		InitialBackoff: 20 * time.Millisecond,
		MaxBackoff:     100 * time.Millisecond,
	}, func([]int) {})
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	deadline := time.After(2 * time.Second)
	for i := 0; i < 3; i++ {
		select {
		case <-connected:
		case <-deadline:
			t.Fatalf("only %d connections before timeout, want 3", i)
		}
	}

	state, _ := w.State()
	if state != StateConnected {
		t.Errorf("state = %q, want %q", state, StateConnected)
	}
}

func TestWatcherStabilityWindowResetsAttempts(t *testing.T) {
	src := &scriptedSource{
		script: func(call int, ctx context.Context, onConnect func(), handler func(plex.TimelineEntry)) error {
			onConnect()
			switch call {
			case 1, 2:
				// Fast failures, attempt counter climbs.
				return errors.New("connection reset")
			case 3:
				// Stable connection outlasting the stability window.
				time.Sleep(80 * time.Millisecond)
				return errors.New("connection reset")
			default:
				<-ctx.Done()
				return ctx.Err()
			}
		},
	}

	w := New(src, Options{
		Debounce:        10 * time.Millisecond,
		InitialBackoff:  10 * time.Millisecond,
		MaxBackoff:      50 * time.Millisecond,
		StabilityWindow: 50 * time.Millisecond,
	}, func([]int) {})
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for src.callCount() < 4 {
		if time.Now().After(deadline) {
			t.Fatalf("source called %d times before timeout, want 4", src.callCount())
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The stable third connection reset the counter, so the fourth dial
	// carries attempt 1, not 4.
	_, attempt := w.State()
	if attempt != 1 {
		t.Errorf("attempt = %d after stable connection, want 1", attempt)
	}
}

func TestWatcherFlushesPendingBatchOnDisconnect(t *testing.T) {
	var gotMu sync.Mutex
	var got [][]int

	src := &scriptedSource{
		script: func(call int, ctx context.Context, onConnect func(), handler func(plex.TimelineEntry)) error {
			onConnect()
			if call == 1 {
				handler(timelineEvent(42, plex.MediaTypeMovie, plex.TimelineStateCompleted))
				// Drop the connection with the debounce window still open.
				return errors.New("connection reset")
			}
			<-ctx.Done()
			return ctx.Err()
		},
	}

	w := New(src, Options{
		Debounce:       time.Hour, // timer must never be the one flushing
		InitialBackoff: 10 * time.Millisecond,
	}, func(ids []int) {
		gotMu.Lock()
		got = append(got, ids)
		gotMu.Unlock()
	})
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	time.Sleep(200 * time.Millisecond)

	gotMu.Lock()
	defer gotMu.Unlock()
	if len(got) != 1 || len(got[0]) != 1 || got[0][0] != 42 {
		t.Fatalf("batches = %v, want [[42]]", got)
	}
}

func TestWatcherReportsStateTransitions(t *testing.T) {
	src := &scriptedSource{
		script: func(call int, ctx context.Context, onConnect func(), handler func(plex.TimelineEntry)) error {
			onConnect()
			if call == 1 {
				return errors.New("connection reset")
			}
			<-ctx.Done()
			return ctx.Err()
		},
	}

	type transition struct{ from, to State }
	var mu sync.Mutex
	var got []transition

	w := New(src, Options{
		InitialBackoff: 10 * time.Millisecond,
		OnStateChange: func(from, to State) {
			mu.Lock()
			got = append(got, transition{from, to})
			mu.Unlock()
		},
	}, func([]int) {})
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		state, _ := w.State()
		if src.callCount() == 2 && state == StateConnected {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("source never reconnected")
		}
		time.Sleep(5 * time.Millisecond)
	}
	w.Stop()

	mu.Lock()
	defer mu.Unlock()
	want := []transition{
		{StateDisconnected, StateConnecting},
		{StateConnecting, StateConnected},
		{StateConnected, StateBackoff},
		{StateBackoff, StateConnecting},
		{StateConnecting, StateConnected},
		{StateConnected, StateDisconnected},
	}
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestWatcherStartStop(t *testing.T) {
	src := &scriptedSource{
		script: func(call int, ctx context.Context, onConnect func(), handler func(plex.TimelineEntry)) error {
			onConnect()
			<-ctx.Done()
			return ctx.Err()
		},
	}

	w := New(src, Options{}, func([]int) {})
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := w.Start(); err == nil {
		t.Error("second Start() expected error")
	}
	if !w.IsRunning() {
		t.Error("IsRunning() = false while started")
	}

	w.Stop()
	if w.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
	state, _ := w.State()
	if state != StateDisconnected {
		t.Errorf("state = %q after Stop, want %q", state, StateDisconnected)
	}

	// Stop is idempotent.
	w.Stop()
}
