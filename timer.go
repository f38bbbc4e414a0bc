package mainloop

import (
	"sort"
	"sync/atomic"
	"time"
)

// Timeout is the handle returned by TimeoutAdd. The registry owns the entry;
// the handle is only valid for TimeoutDel until the callback returns false or
// the scheduler shuts down.
type Timeout struct {
	period   time.Duration
	expire   time.Time
	cb       func() bool
	removeMe atomic.Bool
}

// insertTimeoutSorted inserts t keeping the slice non-decreasing in expire.
// Ties insert after existing equal entries, so sort order is stable with
// respect to arrival.
func insertTimeoutSorted(v *[]*Timeout, t *Timeout) {
	n := sort.Search(len(*v), func(i int) bool {
		return (*v)[i].expire.After(t.expire)
	})
	*v = append(*v, nil)
	copy((*v)[n+1:], (*v)[n:])
	(*v)[n] = t
}

// updateTimeoutSorted relocates the entry at index i after its expiry was
// pushed forward, keeping the slice sorted. Entries with an equal expiry stay
// before the relocated one. Returns the entry's new index.
func updateTimeoutSorted(v []*Timeout, i int) int {
	t := v[i]
	// Expiry only grows on rearm, so the entry can only move right.
	n := sort.Search(len(v)-(i+1), func(k int) bool {
		return v[i+1+k].expire.After(t.expire)
	})
	copy(v[i:], v[i+1:i+1+n])
	v[i+n] = t
	return i + n
}

// TimeoutAdd registers cb to run every period, first firing at now+period.
// The callback runs on the loop goroutine; returning true rearms the timer
// for another period, returning false deletes it. Safe to call from any
// goroutine, including from within callbacks. Returns nil for a nil callback
// or a terminated scheduler.
func (s *Scheduler) TimeoutAdd(period time.Duration, cb func() bool) *Timeout {
	if cb == nil {
		s.logger.Warning().Log("mainloop: TimeoutAdd with nil callback")
		return nil
	}
	if s.state.load() == PhaseTerminated {
		return nil
	}
	t := &Timeout{period: period, cb: cb}

	s.mu.Lock()
	t.expire = s.now().Add(period)
	insertTimeoutSorted(&s.timers.acum, t)
	s.checkNotifyLocked()
	s.mu.Unlock()

	return t
}

// TimeoutDel marks the timer for deletion. Physical removal is deferred
// while a processing pass is active, so deleting from within any callback is
// safe; the entry will not fire again. Returns false (and logs) if the
// handle was already deleted - a caller bug.
func (s *Scheduler) TimeoutDel(t *Timeout) bool {
	if t == nil {
		return false
	}
	if t.removeMe.Load() {
		s.logger.Warning().Log("mainloop: TimeoutDel on already-deleted handle")
		return false
	}

	s.mu.Lock()
	if !t.removeMe.Swap(true) {
		s.timers.pendingDel++
	}
	if !s.timers.inProcess {
		s.timerCleanupLocked()
	}
	s.mu.Unlock()

	return true
}

// timerCleanupLocked physically removes soft-deleted timers from the
// accumulator. Caller must hold s.mu.
func (s *Scheduler) timerCleanupLocked() {
	s.timers.cleanupTail(func(t *Timeout) bool {
		return t.removeMe.Load()
	}, func(t *Timeout) {
		t.cb = nil
	})
}

// processTimers runs every due timer once, in non-decreasing expiry order.
//
// The accumulator is stolen into the processing buffer so callbacks may add
// or delete timers freely; because the buffer is sorted, the walk stops at
// the first not-yet-due entry. A callback returning true rearms the entry to
// now+period and relocates it in place, which lets a short-period timer fire
// repeatedly within one pass only if it stays due against the captured now.
func (s *Scheduler) processTimers() {
	s.mu.Lock()
	s.timers.steal()
	s.mu.Unlock()

	now := s.now()
	proc := s.timers.processing
	for i := 0; i < len(proc); {
		t := proc[i]
		if !s.loopCheck() {
			break
		}
		if t.removeMe.Load() {
			i++
			continue
		}
		if t.expire.After(now) {
			break
		}

		if !t.cb() {
			s.mu.Lock()
			if !t.removeMe.Swap(true) {
				s.timers.pendingDel++
			}
			s.mu.Unlock()
			i++
			continue
		}

		t.expire = now.Add(t.period)
		if updateTimeoutSorted(proc, i) == i {
			i++
		}
	}

	s.mu.Lock()
	// Producer-side inserts may have landed in the accumulator while the
	// lock was released, so the merge re-inserts sorted.
	for _, t := range s.timers.processing {
		insertTimeoutSorted(&s.timers.acum, t)
	}
	s.timers.processing = s.timers.processing[:0]
	s.timerCleanupLocked()
	s.timers.inProcess = false
	s.mu.Unlock()
}

// timerFirstLocked returns the earliest live timer, or nil. Caller must hold
// s.mu.
func (s *Scheduler) timerFirstLocked() *Timeout {
	for _, t := range s.timers.acum {
		if t.removeMe.Load() {
			continue
		}
		return t
	}
	return nil
}

// clampDuration clamps a possibly negative duration to zero; the blocking
// wait must never receive a negative timeout even when a deadline is already
// in the past.
func clampDuration(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
