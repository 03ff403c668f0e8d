// Package watcher maintains the long-lived Plex notification subscription.
// It survives disconnects with capped exponential backoff, filters timeline
// events down to newly processed movies and episodes, and debounces bursts
// into batches handed to the scan pipeline.
package watcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/saltyorg/chtsubs/internal/plex"
)

// State describes the watcher connection lifecycle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateBackoff      State = "backoff"
)

// Defaults for the reconnect and debounce behavior.
const (
	DefaultDebounce        = 5 * time.Second
	DefaultInitialBackoff  = 2 * time.Second
	DefaultMaxBackoff      = 300 * time.Second
	DefaultStabilityWindow = 60 * time.Second
)

// Options tunes the watcher. Zero values take the defaults above.
type Options struct {
	Debounce        time.Duration
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	StabilityWindow time.Duration

	// OnStateChange, when set, is invoked on every connection state
	// transition. It runs on the watcher's goroutine and must not block.
	OnStateChange func(from, to State)
}

func (o *Options) fillDefaults() {
	if o.Debounce <= 0 {
		o.Debounce = DefaultDebounce
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = DefaultInitialBackoff
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = DefaultMaxBackoff
	}
	if o.StabilityWindow <= 0 {
		o.StabilityWindow = DefaultStabilityWindow
	}
}

// TimelineSource is the subscription surface the watcher consumes,
// satisfied by *plex.Client.
type TimelineSource interface {
	WatchTimeline(ctx context.Context, onConnect func(), handler func(plex.TimelineEntry)) error
}

// Watcher owns one notification subscription and its reconnect state
// machine. Multiple independent watchers may exist; there is no shared
// global state.
type Watcher struct {
	source  TimelineSource
	opts    Options
	onBatch func(itemIDs []int)
	batcher *Batcher

	mu          sync.RWMutex
	state       State
	attempt     int
	nextRetryAt time.Time
	running     bool
	connectedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a watcher that forwards each debounced batch of item IDs to
// onBatch. onBatch is invoked on its own goroutine so a slow scan never
// stalls the event-receive loop.
func New(source TimelineSource, opts Options, onBatch func(itemIDs []int)) *Watcher {
	opts.fillDefaults()
	w := &Watcher{
		source:  source,
		opts:    opts,
		onBatch: onBatch,
		state:   StateDisconnected,
	}
	w.batcher = NewBatcher(opts.Debounce, w.emitBatch)
	return w
}

// Start launches the subscription loop.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.running = true
	w.attempt = 0

	w.wg.Add(1)
	go w.run()

	log.Info().
		Dur("debounce", w.opts.Debounce).
		Msg("Watcher started")
	return nil
}

// Stop tears down the subscription and flushes any pending batch.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.cancel()
	w.mu.Unlock()

	w.wg.Wait()
	w.batcher.Flush()
	w.setState(StateDisconnected)

	log.Info().Msg("Watcher stopped")
}

// IsRunning reports whether the subscription loop is active.
func (w *Watcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// State returns the current connection state and reconnect attempt count.
func (w *Watcher) State() (State, int) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state, w.attempt
}

// Pending returns the number of item IDs waiting in the debounce window.
func (w *Watcher) Pending() int {
	return w.batcher.Pending()
}

func (w *Watcher) setState(s State) {
	w.mu.Lock()
	from := w.state
	w.state = s
	w.mu.Unlock()

	if from != s && w.opts.OnStateChange != nil {
		w.opts.OnStateChange(from, s)
	}
}

func (w *Watcher) run() {
	defer w.wg.Done()

	for {
		if w.ctx.Err() != nil {
			return
		}

		w.setState(StateConnecting)
		err := w.source.WatchTimeline(w.ctx, w.handleConnect, w.handleEntry)

		// A connection that stayed up past the stability window earns a
		// fresh backoff sequence.
		w.mu.Lock()
		if !w.connectedAt.IsZero() && time.Since(w.connectedAt) >= w.opts.StabilityWindow {
			w.attempt = 0
		}
		w.connectedAt = time.Time{}
		w.mu.Unlock()

		if w.ctx.Err() != nil {
			return
		}

		// Disconnected mid-batch: hand off what accumulated rather than
		// sitting on it through an outage of unknown length.
		w.batcher.Flush()

		w.mu.Lock()
		delay := backoffDelay(w.attempt, w.opts.InitialBackoff, w.opts.MaxBackoff)
		w.attempt++
		attempt := w.attempt
		w.nextRetryAt = time.Now().Add(delay)
		w.mu.Unlock()
		w.setState(StateBackoff)

		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("Notification socket disconnected, reconnecting")

		select {
		case <-w.ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (w *Watcher) handleConnect() {
	w.mu.Lock()
	w.connectedAt = time.Now()
	w.mu.Unlock()
	w.setState(StateConnected)
}

// handleEntry keeps only timeline events for movies and episodes that
// finished processing; everything else (shows, seasons, intermediate
// states) is noise for subtitle selection.
func (w *Watcher) handleEntry(entry plex.TimelineEntry) {
	if entry.State != plex.TimelineStateCompleted {
		return
	}
	if entry.Type != plex.MediaTypeMovie && entry.Type != plex.MediaTypeEpisode {
		return
	}

	log.Debug().
		Int("item_id", entry.ItemID).
		Int("type", entry.Type).
		Msg("Queued item from timeline event")
	w.batcher.Add(entry.ItemID)
}

func (w *Watcher) emitBatch(ids []int) {
	log.Info().
		Int("items", len(ids)).
		Ints("item_ids", ids).
		Msg("Flushing debounced batch")
	go w.onBatch(ids)
}

// backoffDelay returns the reconnect delay for the given attempt: the
// initial delay doubled per attempt, capped at max.
func backoffDelay(attempt int, initial, max time.Duration) time.Duration {
	delay := initial
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
