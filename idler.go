package mainloop

import "sync/atomic"

// Idler status values. An idler added while the idler pass is running starts
// as idlerReadyNext so it can neither run in the pass that added it nor be
// skipped for a full extra cycle.
const (
	idlerReady int32 = iota
	idlerReadyNext
	idlerDeleted
)

// Idler is the handle returned by IdleAdd. Idlers run once per loop
// iteration, in registration order, until the callback returns false or the
// handle is deleted.
type Idler struct {
	cb     func() bool
	status atomic.Int32
}

// IdleAdd registers cb to run on every loop iteration while the loop is
// otherwise idle. The callback runs on the loop goroutine; returning false
// deletes the idler. Safe to call from any goroutine, including from within
// callbacks. Returns nil for a nil callback or a terminated scheduler.
func (s *Scheduler) IdleAdd(cb func() bool) *Idler {
	if cb == nil {
		s.logger.Warning().Log("mainloop: IdleAdd with nil callback")
		return nil
	}
	if s.state.load() == PhaseTerminated {
		return nil
	}
	it := &Idler{cb: cb}

	s.mu.Lock()
	if s.idlers.inProcess {
		it.status.Store(idlerReadyNext)
	}
	s.idlers.acum = append(s.idlers.acum, it)
	s.checkNotifyLocked()
	s.mu.Unlock()

	return it
}

// IdleDel marks the idler deleted. Physical removal is deferred while the
// idler pass is active. Returns false (and logs) if the handle was already
// deleted - a caller bug.
func (s *Scheduler) IdleDel(it *Idler) bool {
	if it == nil {
		return false
	}
	if it.status.Load() == idlerDeleted {
		s.logger.Warning().Log("mainloop: IdleDel on already-deleted handle")
		return false
	}

	s.mu.Lock()
	if it.status.Swap(idlerDeleted) != idlerDeleted {
		s.idlers.pendingDel++
	}
	if !s.idlers.inProcess {
		s.idlerCleanupLocked()
	}
	s.mu.Unlock()

	return true
}

// idlerCleanupLocked physically removes deleted idlers from the accumulator.
// Caller must hold s.mu.
func (s *Scheduler) idlerCleanupLocked() {
	s.idlers.cleanupTail(func(it *Idler) bool {
		return it.status.Load() == idlerDeleted
	}, func(it *Idler) {
		it.cb = nil
	})
}

// processIdlers runs one idler pass in FIFO registration order.
//
// Non-ready entries are skipped; ready-next-iteration entries flip to ready
// as the walk passes them (by definition they have now waited one pass).
// After each idler invocation the timer registry is re-polled so a chain of
// idlers cannot starve due timers. A second flip pass promotes entries that
// were still ready-next-iteration when the walk visited them, making idlers
// added during this pass eligible on the next pass rather than stuck.
func (s *Scheduler) processIdlers() {
	s.mu.Lock()
	s.idlers.steal()
	s.mu.Unlock()

	proc := s.idlers.processing
	for _, it := range proc {
		if !s.loopCheck() {
			break
		}
		if st := it.status.Load(); st != idlerReady {
			it.status.CompareAndSwap(idlerReadyNext, idlerReady)
			continue
		}
		if !it.cb() {
			s.mu.Lock()
			if it.status.Swap(idlerDeleted) != idlerDeleted {
				s.idlers.pendingDel++
			}
			s.mu.Unlock()
		}
		s.processTimers()
	}

	for _, it := range proc {
		it.status.CompareAndSwap(idlerReadyNext, idlerReady)
	}

	s.mu.Lock()
	s.idlers.mergeFIFO()
	s.idlerCleanupLocked()
	s.idlers.inProcess = false
	s.mu.Unlock()
}

// idlerFirstLocked returns the first non-deleted idler, or nil. Used to zero
// the blocking wait when idle work is pending. Caller must hold s.mu.
func (s *Scheduler) idlerFirstLocked() *Idler {
	for _, it := range s.idlers.acum {
		if it.status.Load() == idlerDeleted {
			continue
		}
		return it
	}
	return nil
}
