// Package sequencer provides the cancellable-timer and request-ordering
// primitives behind debounced external lookups: work is delayed per key, and
// only the result of the highest issued sequence number may be applied.
package sequencer

import (
	"sync"
	"time"
)

// Sequence issues monotonically increasing request numbers per key. A lookup
// captures its number when issued and checks IsCurrent before applying the
// response, which enforces last-query-wins ordering.
type Sequence struct {
	mu       sync.Mutex
	counters map[string]uint64
}

// NewSequence constructs an empty sequence registry.
func NewSequence() *Sequence {
	return &Sequence{counters: make(map[string]uint64)}
}

// Next increments and returns the sequence number for the key.
func (s *Sequence) Next(key string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[key]++
	return s.counters[key]
}

// Current returns the latest issued sequence number for the key.
func (s *Sequence) Current(key string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[key]
}

// IsCurrent reports whether seq is still the latest issued number for the key.
func (s *Sequence) IsCurrent(key string, seq uint64) bool {
	return s.Current(key) == seq
}

// Debouncer delays work per key and cancels any pending run when the same key
// is triggered again. A zero interval runs the work synchronously, which keeps
// tests deterministic.
type Debouncer struct {
	interval time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewDebouncer constructs a Debouncer with the given delay.
func NewDebouncer(interval time.Duration) *Debouncer {
	return &Debouncer{
		interval: interval,
		timers:   make(map[string]*time.Timer),
	}
}

// Trigger schedules fn after the debounce interval, replacing any run still
// pending for the key.
func (d *Debouncer) Trigger(key string, fn func()) {
	if fn == nil {
		return
	}
	if d.interval <= 0 {
		d.Cancel(key)
		fn()
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if timer, ok := d.timers[key]; ok {
		timer.Stop()
	}
	d.timers[key] = time.AfterFunc(d.interval, func() {
		d.mu.Lock()
		delete(d.timers, key)
		d.mu.Unlock()
		fn()
	})
}

// Cancel stops a pending run for the key, if any.
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if timer, ok := d.timers[key]; ok {
		timer.Stop()
		delete(d.timers, key)
	}
}

// Pending reports whether a run is still scheduled for the key.
func (d *Debouncer) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.timers[key]
	return ok
}
