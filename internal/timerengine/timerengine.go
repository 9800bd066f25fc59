// Package timerengine implements the single rescheduleable one-shot
// timer (C6) that drives abort generation for expired pending
// requests. It wraps a plain time.Timer with a generation counter so
// a reschedule or cancel that races with an in-flight fire is
// detected rather than acted on twice.
package timerengine

import (
	"sync"
	"time"
)

// Engine owns one underlying OS timer and fires fn, with the
// generation id current at arm time, whenever it expires. fn is
// responsible for try-locking the core mutex (the fire path must not
// block indefinitely against a synchronous caller already holding
// it); on a failed try-lock it should reschedule a short retry itself
// rather than block.
type Engine struct {
	mu         sync.Mutex
	timer      *time.Timer
	generation uint64
	fn         func(generation uint64)
}

// New creates a disarmed engine. fn is invoked from the Go runtime's
// own timer goroutine, never while Engine.mu is held.
func New(fn func(generation uint64)) *Engine {
	return &Engine{fn: fn}
}

// Set (re)arms the timer to fire after d, returning the generation id
// this arming is stamped with. Any previously armed timer is
// stopped first, so only the most recent arming can ever fire.
func (e *Engine) Set(d time.Duration) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.timer != nil {
		e.timer.Stop()
	}
	e.generation++
	gen := e.generation
	e.timer = time.AfterFunc(d, func() { e.fn(gen) })
	return gen
}

// Cancel disarms the timer without arming a new one.
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.generation++
}

// Current returns the generation id of the currently-armed timer (or
// the last one, if disarmed), so a fire callback can tell whether it
// is still the authoritative one.
func (e *Engine) Current() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generation
}

// RetryDelay is the short backoff the fire path uses when it cannot
// acquire the core mutex via try-lock, per §4.6: "yield and let caller
// reschedule if busy".
const RetryDelay = time.Millisecond
