//go:build linux || darwin

package mainloop

import (
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// pollBackend is the hosted/POSIX deployment flavor: the blocking wait is
// poll(2) on a wake fd (eventfd on Linux, self-pipe on Darwin), sized to the
// computed timeout. It has no handoff queue; interrupt handler registration
// on a scheduler using this backend fails with ErrNoHandoffQueue.
type pollBackend struct {
	readFd      int
	writeFd     int
	wakePending atomic.Uint32
	wakeBuf     [8]byte
}

// PollBackend constructs the poll(2)-based backend. Unix only.
func PollBackend() Backend {
	return &pollBackend{readFd: -1, writeFd: -1}
}

func (b *pollBackend) init(*Scheduler) error {
	r, w, err := createWakeFd()
	if err != nil {
		return err
	}
	b.readFd, b.writeFd = r, w
	return nil
}

func (b *pollBackend) wake() {
	if !b.wakePending.CompareAndSwap(0, 1) {
		return
	}
	var buf [8]byte
	buf[0] = 1 // eventfd requires a nonzero 8-byte counter increment
	for {
		_, err := unix.Write(b.writeFd, buf[:])
		if err == unix.EINTR {
			continue
		}
		// EAGAIN means the fd already carries an unread wakeup.
		return
	}
}

func (b *pollBackend) wait(d time.Duration, hasDeadline bool) {
	ms := -1
	if hasDeadline {
		ms = int((clampDuration(d) + time.Millisecond - 1) / time.Millisecond)
	}

	fds := []unix.PollFd{{Fd: int32(b.readFd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, ms)
	if err != nil || n <= 0 {
		// EINTR or timeout: the loop recomputes its deadline next
		// iteration.
		return
	}
	b.drainWakeFd()
}

// drainWakeFd consumes all pending wakeup tokens so the next wait blocks.
func (b *pollBackend) drainWakeFd() {
	b.wakePending.Store(0)
	for {
		_, err := unix.Read(b.readFd, b.wakeBuf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return // EAGAIN: drained
		}
	}
}

func (b *pollBackend) shutdown() {
	if b.readFd >= 0 {
		_ = unix.Close(b.readFd)
	}
	if b.writeFd >= 0 && b.writeFd != b.readFd {
		_ = unix.Close(b.writeFd)
	}
	b.readFd, b.writeFd = -1, -1
}
