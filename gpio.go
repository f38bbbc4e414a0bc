package mainloop

// GPIOHandler delivers edge interrupts from ISR context to a callback on the
// loop goroutine. Bursty edges coalesce: any number of Trigger calls before
// the loop drains produce a single callback invocation.
type GPIOHandler struct {
	handlerBase
	cb func()

	// disarmed is the software analogue of the controller's interrupt
	// enable bit: Stop disarms before requesting release, so a late
	// Trigger is a no-op. Guarded by irqMu.
	disarmed bool
}

// GPIORegister binds cb to a GPIO edge interrupt. The returned handler's
// Trigger method is the ISR entry point. Fails with ErrNilCallback or, after
// shutdown, ErrTerminated.
func (is *InterruptScheduler) GPIORegister(cb func()) (*GPIOHandler, error) {
	if is == nil {
		return nil, ErrNoHandoffQueue
	}
	if cb == nil {
		return nil, ErrNilCallback
	}
	if is.closed.Load() {
		return nil, ErrTerminated
	}
	h := &GPIOHandler{cb: cb}
	h.is = is
	return h, nil
}

// Trigger is the ISR side of the handler: it notifies the owner loop,
// deduplicated by the pending flag. Non-blocking; safe from any goroutine.
func (h *GPIOHandler) Trigger() {
	is := h.is
	is.irqMu.Lock()
	disarmed := h.disarmed
	is.irqMu.Unlock()
	if disarmed {
		return
	}
	is.notify(msgGPIO, h)
}

// Stop disarms the handler and requests its release. If a message is in
// flight or the callback is executing, the release is deferred until the
// loop finishes with the handler; neither the ISR nor the dispatch path
// ever observes a released handler. Safe from any goroutine.
func (h *GPIOHandler) Stop() {
	is := h.is
	is.irqMu.Lock()
	h.disarmed = true
	is.irqMu.Unlock()
	is.handlerFree(h)
}

func (h *GPIOHandler) base() *handlerBase { return &h.handlerBase }

// process runs on the loop goroutine when the handler's message drains. The
// callback is captured and inCB raised inside the critical section, so a
// Stop racing in from another goroutine defers the release instead of
// clearing cb mid-dispatch.
func (h *GPIOHandler) process() {
	is := h.is

	is.irqMu.Lock()
	h.pending = false
	if h.deleted {
		is.irqMu.Unlock()
		is.handlerFree(h)
		return
	}
	h.inCB = true
	cb := h.cb
	is.irqMu.Unlock()

	cb()

	is.irqMu.Lock()
	h.inCB = false
	deleted := h.deleted
	is.irqMu.Unlock()

	if deleted {
		is.handlerFree(h)
	}
}

func (h *GPIOHandler) release() {
	h.cb = nil
}
