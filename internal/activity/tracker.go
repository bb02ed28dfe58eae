// Package activity tracks per-session liveness: a generation counter bumped
// on every PTY read or input write, plus waiters that block until the
// session has been quiet for a requested duration.
package activity

import (
	"context"
	"sync"
	"time"
)

// Tracker is safe for concurrent use. Touch is non-blocking; waiters block
// on a broadcast channel that is closed and replaced on every touch.
type Tracker struct {
	mu        sync.Mutex
	gen       uint64
	lastTouch time.Time
	signal    chan struct{}
	closed    bool
}

func NewTracker() *Tracker {
	return &Tracker{
		lastTouch: time.Now(),
		signal:    make(chan struct{}),
	}
}

// Touch records activity: increments the generation and restarts the idle
// clock.
func (t *Tracker) Touch() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.gen++
	t.lastTouch = time.Now()
	close(t.signal)
	t.signal = make(chan struct{})
}

// Generation returns the current activity generation.
func (t *Tracker) Generation() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gen
}

// LastActivity returns the elapsed time since the last touch.
func (t *Tracker) LastActivity() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return time.Since(t.lastTouch)
}

// Close tears down the signal source. Blocked waiters return as if idle.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	close(t.signal)
}

func (t *Tracker) snapshot() (gen uint64, last time.Time, sig chan struct{}, closed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gen, t.lastTouch, t.signal, t.closed
}

// WaitIdle blocks until quiet time has passed since the last touch, then
// returns the generation observed when idleness was confirmed.
func (t *Tracker) WaitIdle(ctx context.Context, quiet time.Duration) (uint64, error) {
	return t.waitQuiet(ctx, quiet, time.Time{})
}

// WaitIdleSince is WaitIdle for callers that already observed generation
// lastSeen. When lastSeen is still current it first blocks for a new touch,
// so repeated polls cannot spin on an already-idle session.
func (t *Tracker) WaitIdleSince(ctx context.Context, quiet time.Duration, lastSeen uint64) (uint64, error) {
	gen, _, sig, closed := t.snapshot()
	if closed {
		return gen, nil
	}
	if gen == lastSeen {
		select {
		case <-ctx.Done():
			return gen, ctx.Err()
		case <-sig:
		}
	}
	return t.waitQuiet(ctx, quiet, time.Time{})
}

// WaitFreshIdle waits for quiet time of silence counted from now, even when
// the tracker is already idle.
func (t *Tracker) WaitFreshIdle(ctx context.Context, quiet time.Duration) (uint64, error) {
	return t.waitQuiet(ctx, quiet, time.Now())
}

// WaitActive blocks until the generation advances past lastSeen, then returns
// the new generation. Returns immediately when lastSeen is already stale.
func (t *Tracker) WaitActive(ctx context.Context, lastSeen uint64) (uint64, error) {
	for {
		gen, _, sig, closed := t.snapshot()
		if closed || gen != lastSeen {
			return gen, nil
		}
		select {
		case <-ctx.Done():
			return gen, ctx.Err()
		case <-sig:
		}
	}
}

// waitQuiet loops until quiet time has elapsed since the later of the last
// touch and floor. A timer expiry forces a recheck: a touch may land
// between the snapshot and the timer firing.
func (t *Tracker) waitQuiet(ctx context.Context, quiet time.Duration, floor time.Time) (uint64, error) {
	for {
		gen, last, sig, closed := t.snapshot()
		if closed {
			return gen, nil
		}
		base := last
		if base.Before(floor) {
			base = floor
		}
		remaining := quiet - time.Since(base)
		if remaining <= 0 {
			return gen, nil
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return gen, ctx.Err()
		case <-sig:
			timer.Stop()
		case <-timer.C:
		}
	}
}
