package scheduler

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"whatsapp-context-scheduler/pkg/metrics"
	"whatsapp-context-scheduler/pkg/models"
)

// FlushFunc receives the coalesced buffer for a key once its debounce window
// elapses with no further input. Fragments are in arrival order.
type FlushFunc func(key string, fragments []models.Fragment, closedAt time.Time)

// Aggregator buffers consecutive inbound fragments per conversation key and
// flushes them as one unit after a quiet period. Every new fragment replaces
// the key's timer, so the window always measures quiet time since the last
// fragment. Keys never contend with each other: the aggregator-level mutex
// guards only map access, each buffer carries its own lock.
type Aggregator struct {
	mu      sync.RWMutex
	buffers map[string]*buffer

	window  time.Duration
	flush   FlushFunc
	logger  *logrus.Logger
	metrics *metrics.Metrics

	stopped bool
}

type buffer struct {
	mu        sync.Mutex
	fragments []models.Fragment
	timer     *time.Timer
	// generation is bumped on every append or edit; a firing timer that lost
	// the race to a newer fragment sees a mismatch and aborts its flush.
	generation uint64
	flushed    bool
}

func NewAggregator(window time.Duration, flush FlushFunc, logger *logrus.Logger, m *metrics.Metrics) *Aggregator {
	return &Aggregator{
		buffers: make(map[string]*buffer),
		window:  window,
		flush:   flush,
		logger:  logger,
		metrics: m,
	}
}

// Add appends a fragment to the pending buffer for key, creating one if
// absent, and restarts the key's debounce timer. Never blocks on other keys
// and never performs I/O.
func (a *Aggregator) Add(key string, fragment models.Fragment) {
	for {
		b, created, ok := a.lookupOrCreate(key)
		if !ok {
			return // stopped
		}

		b.mu.Lock()
		if b.flushed {
			// Lost the race to a concurrent flush; detach and start over.
			b.mu.Unlock()
			a.detach(key, b)
			continue
		}

		b.fragments = append(b.fragments, fragment)
		a.restartTimerLocked(key, b)
		count := len(b.fragments)
		b.mu.Unlock()

		if created {
			a.metrics.OpenAggregations.Inc()
		}
		a.metrics.FragmentsBuffered.Inc()

		a.logger.WithFields(logrus.Fields{
			"conversation_key": key,
			"buffered":         count,
		}).Debug("Fragment buffered, debounce window restarted")
		return
	}
}

// Edit replaces the text of a still-buffered fragment identified by message
// ID and restarts the debounce window, mirroring the gateway's edited-message
// callbacks. Returns false if the message is no longer buffered.
func (a *Aggregator) Edit(key, messageID, text string) bool {
	a.mu.RLock()
	b, ok := a.buffers[key]
	a.mu.RUnlock()
	if !ok {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.flushed {
		return false
	}
	for i := range b.fragments {
		if b.fragments[i].MessageID == messageID {
			b.fragments[i].Text = text
			a.restartTimerLocked(key, b)
			a.metrics.FragmentEdits.Inc()
			return true
		}
	}
	return false
}

// BufferedFor reports how many fragments are currently buffered for key.
func (a *Aggregator) BufferedFor(key string) int {
	a.mu.RLock()
	b, ok := a.buffers[key]
	a.mu.RUnlock()
	if !ok {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.flushed {
		return 0
	}
	return len(b.fragments)
}

// OpenCount reports the number of conversations with an open window.
func (a *Aggregator) OpenCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.buffers)
}

// Keys returns the conversation keys with an open window.
func (a *Aggregator) Keys() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	keys := make([]string, 0, len(a.buffers))
	for key := range a.buffers {
		keys = append(keys, key)
	}
	return keys
}

// Stop cancels all pending timers and discards buffered fragments. Fragments
// pending at teardown are lost; to the user this is indistinguishable from a
// short network partition.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopped = true
	dropped := 0
	for key, b := range a.buffers {
		b.mu.Lock()
		b.flushed = true
		if b.timer != nil {
			b.timer.Stop()
		}
		dropped += len(b.fragments)
		b.mu.Unlock()
		delete(a.buffers, key)
		a.metrics.OpenAggregations.Dec()
	}

	if dropped > 0 {
		a.logger.WithField("dropped_fragments", dropped).Warn("Discarded buffered fragments at shutdown")
	}
}

func (a *Aggregator) lookupOrCreate(key string) (*buffer, bool, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return nil, false, false
	}
	if b, ok := a.buffers[key]; ok {
		return b, false, true
	}
	b := &buffer{}
	a.buffers[key] = b
	return b, true, true
}

// detach removes a flushed buffer from the map if it is still installed.
func (a *Aggregator) detach(key string, b *buffer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.buffers[key] == b {
		delete(a.buffers, key)
	}
}

// restartTimerLocked cancels any running timer for the buffer and installs a
// fresh one carrying the current generation. Caller holds b.mu.
func (a *Aggregator) restartTimerLocked(key string, b *buffer) {
	b.generation++
	generation := b.generation
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(a.window, func() {
		a.fire(key, b, generation)
	})
}

// fire closes the window for a buffer if and only if no newer fragment
// superseded the timer that scheduled it. The generation check makes a stale
// flush structurally impossible: a timer that already queued its fire but
// lost the race observes a bumped generation and returns without touching
// the buffer.
func (a *Aggregator) fire(key string, b *buffer, generation uint64) {
	b.mu.Lock()
	if b.flushed || b.generation != generation {
		b.mu.Unlock()
		return
	}
	b.flushed = true
	fragments := b.fragments
	b.mu.Unlock()

	a.detach(key, b)
	a.metrics.OpenAggregations.Dec()
	a.metrics.BufferFlushes.Inc()

	a.logger.WithFields(logrus.Fields{
		"conversation_key": key,
		"fragments":        len(fragments),
	}).Debug("Debounce window closed, flushing buffer")

	a.flush(key, fragments, time.Now())
}
