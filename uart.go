package mainloop

// UARTHandler delivers received bytes from ISR context to a per-byte
// callback on the loop goroutine.
//
// Each received byte is appended to the handler's private ring buffer
// regardless of whether a notification is already pending; only the
// notification is coalesced, never the data. The loop's drain hands every
// buffered byte to the callback one at a time, re-checking the deleted mark
// between bytes so a stop requested by the callback itself takes effect
// promptly.
type UARTHandler struct {
	handlerBase
	rx func(b byte)

	// RX ring buffer. Cursors are shared with ISR context: nextWrite is
	// advanced only by the ISR side, nextRead only by the consumer, both
	// under irqMu.
	buf       []byte
	nextRead  int
	nextWrite int

	disarmed bool // guarded by irqMu; set by Stop before release
}

// uartRingDivisor sizes the RX ring from the baud rate: enough bytes for
// roughly 0.01s of traffic at 8N1.
const uartRingDivisor = 800

// UARTRegister binds rx to a UART's receive interrupt. The ring buffer is
// sized from the baud rate (about 10ms of traffic). The returned handler's
// RX method is the ISR entry point.
func (is *InterruptScheduler) UARTRegister(baudRate uint32, rx func(b byte)) (*UARTHandler, error) {
	if is == nil {
		return nil, ErrNoHandoffQueue
	}
	if rx == nil {
		return nil, ErrNilCallback
	}
	if baudRate == 0 {
		return nil, ErrInvalidBaudRate
	}
	if is.closed.Load() {
		return nil, ErrTerminated
	}

	size := int(baudRate / uartRingDivisor)
	if size < 2 {
		size = 2
	}
	h := &UARTHandler{rx: rx, buf: make([]byte, size)}
	h.is = is
	return h, nil
}

// RX is the ISR side of the handler: it buffers one received byte and
// notifies the owner loop. The byte is stored even when a notification is
// already pending; a full ring overwrites the oldest unread byte, mirroring
// hardware FIFO overrun. Non-blocking; safe from any goroutine.
func (h *UARTHandler) RX(b byte) {
	is := h.is

	is.irqMu.Lock()
	if h.disarmed {
		is.irqMu.Unlock()
		return
	}
	h.buf[h.nextWrite] = b
	h.nextWrite = (h.nextWrite + 1) % len(h.buf)
	is.irqMu.Unlock()

	is.notify(msgUARTRX, h)
}

// Stop disarms the RX path and requests release. A drain already in
// progress observes the deleted mark between bytes and stops early; release
// is deferred until no message is in flight and no callback is executing.
func (h *UARTHandler) Stop() {
	is := h.is
	is.irqMu.Lock()
	h.disarmed = true
	is.irqMu.Unlock()
	is.handlerFree(h)
}

func (h *UARTHandler) base() *handlerBase { return &h.handlerBase }

// process drains all bytes accumulated since the last drain, one callback
// per byte.
func (h *UARTHandler) process() {
	is := h.is

	is.irqMu.Lock()
	start, end, n := h.nextRead, h.nextWrite, len(h.buf)
	h.pending = false
	h.inCB = true
	is.irqMu.Unlock()

	for start != end {
		is.irqMu.Lock()
		if h.deleted {
			is.irqMu.Unlock()
			break
		}
		b := h.buf[start]
		is.irqMu.Unlock()
		h.rx(b)
		start = (start + 1) % n
	}

	is.irqMu.Lock()
	h.inCB = false
	deleted := h.deleted
	if !deleted {
		h.nextRead = start
	}
	is.irqMu.Unlock()

	if deleted {
		is.handlerFree(h)
	}
}

func (h *UARTHandler) release() {
	h.rx = nil
	h.buf = nil
}
