package mainloop

import (
	"sync/atomic"
	"time"
)

// Backend supplies the platform-specific blocking wait of the loop: the only
// point in an iteration where the owner goroutine blocks. The scheduling
// algorithm is written once against this interface; variants are selected at
// construction (WithBackend) rather than by build branching.
type Backend interface {
	// init binds the backend to its scheduler and allocates platform
	// resources (queue, wake fd). Called once, from New.
	init(s *Scheduler) error
	// wait blocks for at most d (no limit when hasDeadline is false), or
	// until wake. Runs only on the owner goroutine.
	wait(d time.Duration, hasDeadline bool)
	// wake unblocks a pending or future wait. Safe from any goroutine and
	// from ISR context; must not block.
	wake()
	// shutdown releases platform resources. No wait may be in flight.
	shutdown()
}

// messagePoster is the optional backend capability backing the interrupt
// handoff queue: an ISR-safe, non-blocking enqueue addressed to the owner
// loop. The message backend implements it; the poll backend does not.
type messagePoster interface {
	post(m Message) bool
}

// messageType discriminates handoff queue messages.
type messageType uint8

const (
	msgWake messageType = iota
	msgGPIO
	msgUARTRX
)

// Message is one entry of the interrupt handoff queue: a type tag plus the
// handler it concerns (nil for the wake message).
type Message struct {
	typ messageType
	h   interruptHandler
}

// msgBackend is the bare-metal/RTOS deployment flavor: the blocking wait is
// a receive-with-timeout on a fixed-capacity message queue, and interrupt
// handlers post into the same queue, so any interrupt-derived event wakes
// the loop and is dispatched before the next wait.
type msgBackend struct {
	s           *Scheduler
	ch          chan Message
	wakePending atomic.Uint32
}

// MessageBackend constructs the message-queue backend with the given handoff
// capacity. This is the default backend. The capacity bounds the number of
// undrained interrupt notifications; it must cover the worst-case burst
// between two drains, since queue-full is not recoverable from ISR context.
func MessageBackend(capacity int) Backend {
	if capacity < 1 {
		capacity = defaultHandoffCapacity
	}
	return &msgBackend{ch: make(chan Message, capacity)}
}

func (b *msgBackend) init(s *Scheduler) error {
	b.s = s
	return nil
}

func (b *msgBackend) post(m Message) bool {
	select {
	case b.ch <- m:
		return true
	default:
		return false
	}
}

func (b *msgBackend) wake() {
	if !b.wakePending.CompareAndSwap(0, 1) {
		return
	}
	if !b.post(Message{typ: msgWake}) {
		// Queue full means the loop has a backlog to drain; it is not
		// blocked, so the wakeup is already implied.
		b.wakePending.Store(0)
	}
}

func (b *msgBackend) wait(d time.Duration, hasDeadline bool) {
	if hasDeadline && d <= 0 {
		b.drain()
		return
	}

	if !hasDeadline {
		b.dispatch(<-b.ch)
	} else {
		t := time.NewTimer(d)
		select {
		case m := <-b.ch:
			t.Stop()
			b.dispatch(m)
		case <-t.C:
		}
	}
	b.drain()
}

// drain empties the queue without blocking, dispatching each message.
func (b *msgBackend) drain() {
	for {
		select {
		case m := <-b.ch:
			b.dispatch(m)
		default:
			return
		}
	}
}

func (b *msgBackend) dispatch(m Message) {
	if m.typ == msgWake {
		b.wakePending.Store(0)
		return
	}
	if is := b.s.interrupts; is != nil {
		is.Process(m)
	}
}

// shutdown discards messages left in the queue instead of dispatching them:
// remaining work is released, not executed, and no user callback may run on
// the Shutdown caller's goroutine.
func (b *msgBackend) shutdown() {
	for {
		select {
		case m := <-b.ch:
			if m.h == nil || b.s == nil {
				continue
			}
			if is := b.s.interrupts; is != nil {
				is.discard(m.h)
			}
		default:
			return
		}
	}
}
