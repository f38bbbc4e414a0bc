package mainloop

import (
	"sync"
	"sync/atomic"

	"github.com/joeycumines/logiface"
)

// InterruptScheduler bridges (simulated) ISR context and the mainloop
// goroutine. Interrupt handlers post messages into the loop's fixed-capacity
// handoff queue; the loop drains them between blocking waits and runs user
// callbacks outside interrupt context.
//
// Per handler, a single pending flag coalesces bursts: repeated interrupts
// before the loop drains do not enqueue duplicate messages. Deletion of a
// handler whose message is in flight (or whose callback is executing) is
// deferred until Process observes the deleted mark, so ISR code never
// touches a released handler.
//
// The critical sections here stand in for interrupt masking on bare metal:
// pending, inCB and deleted are only touched under irqMu, and pending/inCB
// are only ever cleared by the single consumer goroutine.
type InterruptScheduler struct {
	// irqMu guards the handful of fields shared with ISR context. Scope it
	// narrowly; user callbacks never run under it.
	irqMu sync.Mutex

	s    *Scheduler
	post messagePoster

	closed    atomic.Bool
	overflows atomic.Uint64
}

// handlerBase is the state machine shared by all interrupt-bound handlers:
// Idle → Pending (ISR fired, message enqueued) → InCallback → Idle, with the
// deleted flag settable from either state. released records that the handler
// was handed back (the deferred-free equivalent); a released handler is dead.
type handlerBase struct {
	is       *InterruptScheduler
	pending  bool
	inCB     bool
	deleted  bool
	released bool
}

// interruptHandler is implemented by each handler flavor; process runs on
// the loop goroutine when the handler's message is drained.
type interruptHandler interface {
	base() *handlerBase
	process()
	// release drops callback and buffer references. Runs at most once,
	// outside irqMu.
	release()
}

func newInterruptScheduler(s *Scheduler, post messagePoster) *InterruptScheduler {
	return &InterruptScheduler{s: s, post: post}
}

// notify posts the handler's message to the owner loop, coalescing bursts
// through the pending flag. ISR context: non-blocking.
func (is *InterruptScheduler) notify(typ messageType, h interruptHandler) {
	b := h.base()

	is.irqMu.Lock()
	if b.pending || b.deleted {
		is.irqMu.Unlock()
		return
	}
	b.pending = true
	is.irqMu.Unlock()

	if is.post.post(Message{typ: typ, h: h}) {
		return
	}

	// Queue full is a deployment sizing failure: the consumer is starved
	// and the event is lost. Roll back pending so a later interrupt can
	// try again, and account for the drop.
	is.irqMu.Lock()
	b.pending = false
	is.irqMu.Unlock()
	is.overflows.Add(1)
	is.logger().Crit().
		Int("overflows", int(is.overflows.Load())).
		Log("mainloop: interrupt handoff queue overflow, event dropped")
}

// Process dispatches one drained handoff message: it clears the handler's
// pending flag under the critical section paired with the ISR side, releases
// the handler if a deletion raced the in-flight message, and otherwise runs
// the user callback(s) outside interrupt context. Called by the message
// backend's drain step on the owner goroutine.
func (is *InterruptScheduler) Process(m Message) {
	if m.h == nil {
		return
	}
	m.h.process()
}

// handlerFree implements the deferred-free protocol: if the handler has a
// message in flight or its callback is executing, only mark it deleted and
// let the draining code release it; otherwise release immediately.
func (is *InterruptScheduler) handlerFree(h interruptHandler) {
	b := h.base()

	is.irqMu.Lock()
	b.deleted = true
	if b.pending || b.inCB || b.released {
		is.irqMu.Unlock()
		return
	}
	b.released = true
	is.irqMu.Unlock()

	h.release()
}

// Overflows returns the number of interrupt events dropped because the
// handoff queue was full. Nonzero values indicate the queue is undersized
// for the deployment's interrupt burst profile.
func (is *InterruptScheduler) Overflows() uint64 {
	return is.overflows.Load()
}

// discard drops an in-flight message without running the handler's
// callback, clearing the pending flag and performing a release that was
// deferred on it. Used by the backend's shutdown path, where remaining work
// is released rather than executed.
func (is *InterruptScheduler) discard(h interruptHandler) {
	b := h.base()

	is.irqMu.Lock()
	b.pending = false
	release := b.deleted && !b.inCB && !b.released
	if release {
		b.released = true
	}
	is.irqMu.Unlock()

	if release {
		h.release()
	}
}

// shutdown refuses further registrations. In-flight messages already in the
// queue are discarded, not dispatched, when the backend closes.
func (is *InterruptScheduler) shutdown() {
	is.closed.Store(true)
}

func (is *InterruptScheduler) logger() *logiface.Logger[logiface.Event] {
	return is.s.logger
}
