// Package ratelimit gates outbound device commands behind a shared
// wall-clock interval. Many toys throttle or glitch when commanded faster
// than ~10 Hz, and avatar parameters can easily arrive at 10x that.
package ratelimit

import (
	"sync/atomic"
	"time"
)

// Limiter is a non-blocking token gate. Callers that fail CanSend simply
// drop their command; the next sample supersedes it anyway.
type Limiter struct {
	lastEmitMS   atomic.Uint64
	maxPerSecond atomic.Uint64
	now          func() time.Time
}

// New returns a limiter allowing at most maxPerSecond sends per second.
func New(maxPerSecond uint64) *Limiter {
	return NewWithClock(maxPerSecond, time.Now)
}

// NewWithClock is New with an injectable clock for deterministic tests.
func NewWithClock(maxPerSecond uint64, now func() time.Time) *Limiter {
	l := &Limiter{now: now}
	l.maxPerSecond.Store(maxPerSecond)
	return l
}

// UpdateRate replaces the per-second budget. Takes effect on the next CanSend.
func (l *Limiter) UpdateRate(maxPerSecond uint64) {
	l.maxPerSecond.Store(maxPerSecond)
}

// Rate returns the current per-second budget.
func (l *Limiter) Rate() uint64 {
	return l.maxPerSecond.Load()
}

// CanSend reports whether a command may leave now, and if so claims the
// slot. Lock-free; concurrent callers race on a CAS and at most one wins.
func (l *Limiter) CanSend() bool {
	mps := l.maxPerSecond.Load()
	if mps == 0 {
		return false
	}
	interval := uint64(1000) / mps
	now := uint64(l.now().UnixMilli())
	last := l.lastEmitMS.Load()
	if now-last < interval {
		return false
	}
	return l.lastEmitMS.CompareAndSwap(last, now)
}
