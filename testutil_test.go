package mainloop

import (
	"sync"
	"time"
)

// fakeClock is a manually advanced time source for deterministic timer
// tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1000, 0)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// newTestScheduler returns a scheduler with a fake clock, with the run flag
// raised so processing passes can be driven directly.
func newTestScheduler(opts ...Option) (*Scheduler, *fakeClock) {
	c := newFakeClock()
	s, err := New(append([]Option{WithClock(c.now)}, opts...)...)
	if err != nil {
		panic(err)
	}
	s.loopSet(true)
	return s, c
}

// timerExpiries snapshots the accumulator's expiry sequence.
func timerExpiries(s *Scheduler) []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Time, 0, len(s.timers.acum))
	for _, t := range s.timers.acum {
		out = append(out, t.expire)
	}
	return out
}

// timersSorted reports whether the accumulator is non-decreasing in expiry.
func timersSorted(s *Scheduler) bool {
	exp := timerExpiries(s)
	for i := 1; i < len(exp); i++ {
		if exp[i].Before(exp[i-1]) {
			return false
		}
	}
	return true
}
