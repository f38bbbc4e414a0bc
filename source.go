package mainloop

import (
	"sync/atomic"
	"time"
)

// SourceType is the required capability set of a pollable source. Check is
// invoked after the blocking wait to (re-)test readiness; Dispatch is invoked
// on sources marked ready, after which the ready flag clears.
//
// Optional capabilities are detected by interface assertion on the same
// value: SourcePreparer, SourceTimeouter and SourceDisposer.
type SourceType interface {
	// Check reports whether the source became ready while the loop was
	// blocked. Its result is OR-ed into any readiness already reported by
	// Prepare this iteration.
	Check(data any) bool
	// Dispatch consumes the source's pending events. Runs on the loop
	// goroutine with no registry lock held.
	Dispatch(data any)
}

// SourcePreparer is implemented by sources that can report readiness before
// the blocking wait; a true return shortcuts the wait to a zero timeout.
type SourcePreparer interface {
	Prepare(data any) bool
}

// SourceTimeouter is implemented by sources with their own deadline. The
// loop takes the minimum across sources and its own timer registry when
// sizing the blocking wait. A false ok return means no deadline.
type SourceTimeouter interface {
	NextTimeout(data any) (d time.Duration, ok bool)
}

// SourceDisposer is implemented by sources that need teardown. Dispose runs
// with the registry lock released, since arbitrary user code may run there.
type SourceDisposer interface {
	Dispose(data any)
}

// Source is the handle returned by SourceAdd. A source handle is owned
// uniquely by its registrant.
type Source struct {
	stype    SourceType
	data     any
	ready    bool
	removeMe atomic.Bool
}

// SourceAdd registers a pollable source. Returns nil for a nil type or a
// terminated scheduler.
func (s *Scheduler) SourceAdd(stype SourceType, data any) *Source {
	if stype == nil {
		s.logger.Warning().Log("mainloop: SourceAdd with nil source type")
		return nil
	}
	if s.state.load() == PhaseTerminated {
		return nil
	}
	src := &Source{stype: stype, data: data}

	s.mu.Lock()
	s.sources.acum = append(s.sources.acum, src)
	s.checkNotifyLocked()
	s.mu.Unlock()

	return src
}

// SourceDel marks the source for deletion; Dispose (if implemented) runs
// outside the registry lock during the deferred cleanup. Double deletion is
// a caller error: a source handle has exactly one owner. It is logged at
// error level and otherwise ignored.
func (s *Scheduler) SourceDel(src *Source) {
	if src == nil {
		return
	}
	if src.removeMe.Load() {
		s.logger.Err().Log("mainloop: SourceDel on already-deleted handle")
		return
	}

	s.mu.Lock()
	if !src.removeMe.Swap(true) {
		s.sources.pendingDel++
	}
	if !s.sources.inProcess {
		s.sourceCleanupLocked()
	}
	s.mu.Unlock()
}

// SourceData returns the data value the source was registered with.
func (s *Scheduler) SourceData(src *Source) any {
	if src == nil {
		return nil
	}
	return src.data
}

// sourceCleanupLocked physically removes soft-deleted sources, releasing the
// lock around each Dispose call. Caller must hold s.mu; returns with it
// held. Walks backward so index shifts don't affect an interrupted forward
// walk; entries appended during an unlocked window sit beyond the cursor and
// are handled by a later cleanup.
func (s *Scheduler) sourceCleanupLocked() {
	if s.sources.pendingDel == 0 {
		return
	}
	for i := len(s.sources.acum) - 1; i >= 0; i-- {
		src := s.sources.acum[i]
		if !src.removeMe.Load() {
			continue
		}
		copy(s.sources.acum[i:], s.sources.acum[i+1:])
		s.sources.acum[len(s.sources.acum)-1] = nil
		s.sources.acum = s.sources.acum[:len(s.sources.acum)-1]
		s.mu.Unlock()

		if d, ok := src.stype.(SourceDisposer); ok {
			d.Dispose(src.data)
		}
		src.stype = nil
		src.data = nil

		s.mu.Lock()
		s.sources.pendingDel--
		if s.sources.pendingDel == 0 {
			break
		}
		// The accumulator may have shrunk while the lock was released
		// (concurrent cleanup from another deleter); re-clamp the cursor.
		if i > len(s.sources.acum) {
			i = len(s.sources.acum)
		}
	}
}

// prepareSources runs the prepare sub-pass; reports whether any source is
// already ready, in which case the blocking wait is shortcut to zero.
func (s *Scheduler) prepareSources() bool {
	s.mu.Lock()
	s.sources.steal()
	s.mu.Unlock()

	ready := false
	for _, src := range s.sources.processing {
		if !s.loopCheck() {
			break
		}
		if src.removeMe.Load() {
			continue
		}
		if p, ok := src.stype.(SourcePreparer); ok {
			src.ready = p.Prepare(src.data)
			ready = ready || src.ready
		} else {
			src.ready = false
		}
	}

	s.mu.Lock()
	s.sources.mergeFIFO()
	s.sourceCleanupLocked()
	s.sources.inProcess = false
	s.mu.Unlock()

	return ready
}

// checkSources runs the check sub-pass after the blocking wait. Readiness is
// OR-ed into the flag left by prepare: the two sub-passes are not mutually
// exclusive within one iteration.
func (s *Scheduler) checkSources() bool {
	s.mu.Lock()
	s.sources.steal()
	s.mu.Unlock()

	ready := false
	for _, src := range s.sources.processing {
		if !s.loopCheck() {
			break
		}
		if src.removeMe.Load() {
			continue
		}
		src.ready = src.ready || src.stype.Check(src.data)
		ready = ready || src.ready
	}

	s.mu.Lock()
	s.sources.mergeFIFO()
	s.sourceCleanupLocked()
	s.sources.inProcess = false
	s.mu.Unlock()

	return ready
}

// dispatchSources invokes Dispatch on every source currently marked ready,
// clearing the flag.
func (s *Scheduler) dispatchSources() {
	s.mu.Lock()
	s.sources.steal()
	s.mu.Unlock()

	for _, src := range s.sources.processing {
		if !s.loopCheck() {
			break
		}
		if src.removeMe.Load() {
			continue
		}
		if src.ready {
			src.stype.Dispatch(src.data)
			src.ready = false
		}
	}

	s.mu.Lock()
	s.sources.mergeFIFO()
	s.sourceCleanupLocked()
	s.sources.inProcess = false
	s.mu.Unlock()
}

// sourceNextTimeoutLocked takes the minimum deadline reported by sources
// implementing SourceTimeouter, clamped non-negative. Caller must hold s.mu;
// the lock is released while querying sources and re-acquired before
// returning.
func (s *Scheduler) sourceNextTimeoutLocked() (time.Duration, bool) {
	s.sources.steal()
	s.mu.Unlock()

	var soonest time.Duration
	found := false
	for _, src := range s.sources.processing {
		if src.removeMe.Load() {
			continue
		}
		st, ok := src.stype.(SourceTimeouter)
		if !ok {
			continue
		}
		if d, ok := st.NextTimeout(src.data); ok {
			d = clampDuration(d)
			if !found || d < soonest {
				soonest = d
			}
			found = true
		}
	}

	s.mu.Lock()
	s.sources.mergeFIFO()
	s.sourceCleanupLocked()
	s.sources.inProcess = false
	return soonest, found
}

// sourceShutdownLocked releases every source during Shutdown, invoking
// Dispose outside the lock. Remaining entries are released, not dispatched.
func (s *Scheduler) sourceShutdownLocked() {
	for _, src := range s.sources.acum {
		src.removeMe.Store(true)
		st, data := src.stype, src.data
		src.stype = nil
		src.data = nil
		if d, ok := st.(SourceDisposer); ok {
			s.mu.Unlock()
			d.Dispose(data)
			s.mu.Lock()
		}
	}
	s.sources.acum = nil
	s.sources.processing = nil
	s.sources.pendingDel = 0
}
