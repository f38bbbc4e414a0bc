package mainloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdlersRunInRegistrationOrder(t *testing.T) {
	s, _ := newTestScheduler()
	defer s.Shutdown()

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		require.NotNil(t, s.IdleAdd(func() bool {
			order = append(order, i)
			return false
		}))
	}

	s.processIdlers()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestIdlerRepeatsUntilFalse(t *testing.T) {
	s, _ := newTestScheduler()
	defer s.Shutdown()

	runs := 0
	s.IdleAdd(func() bool {
		runs++
		return runs < 3
	})

	for i := 0; i < 5; i++ {
		s.processIdlers()
	}
	assert.Equal(t, 3, runs)
}

func TestIdlerAddedDuringPassDefersOnePass(t *testing.T) {
	s, _ := newTestScheduler()
	defer s.Shutdown()

	childRuns := 0
	s.IdleAdd(func() bool {
		s.IdleAdd(func() bool {
			childRuns++
			return false
		})
		return false
	})

	s.processIdlers()
	assert.Zero(t, childRuns, "idler added mid-pass must not run in the pass that added it")

	s.processIdlers()
	assert.Zero(t, childRuns, "first pass after the add only promotes ready-on-next-iteration")

	s.processIdlers()
	assert.Equal(t, 1, childRuns, "promoted idler runs on the pass after promotion")

	s.processIdlers()
	assert.Equal(t, 1, childRuns)
}

// TestIdlerNoStarvation: N idlers added
// from within a running idler callback each run exactly once within the next
// two passes - never zero, never twice in one pass.
func TestIdlerNoStarvation(t *testing.T) {
	s, _ := newTestScheduler()
	defer s.Shutdown()

	const n = 8
	counts := make([]int, n)
	s.IdleAdd(func() bool {
		for i := 0; i < n; i++ {
			i := i
			s.IdleAdd(func() bool {
				counts[i]++
				return false
			})
		}
		return false
	})

	const passes = 4
	for p := 0; p < passes; p++ {
		s.processIdlers()
	}
	for i, c := range counts {
		assert.Equalf(t, 1, c, "idler %d must run exactly once", i)
	}
}

func TestIdlerDeleteSiblingDuringPass(t *testing.T) {
	s, _ := newTestScheduler()
	defer s.Shutdown()

	var victim *Idler
	victimRuns := 0
	s.IdleAdd(func() bool {
		s.IdleDel(victim)
		return false
	})
	victim = s.IdleAdd(func() bool {
		victimRuns++
		return true
	})

	s.processIdlers()
	s.processIdlers()

	assert.Zero(t, victimRuns, "sibling deleted earlier in the pass must not run")
	s.mu.Lock()
	assert.Empty(t, s.idlers.acum)
	s.mu.Unlock()
}

func TestIdlerDeleteSelfFromCallback(t *testing.T) {
	s, _ := newTestScheduler()
	defer s.Shutdown()

	var self *Idler
	runs := 0
	self = s.IdleAdd(func() bool {
		runs++
		s.IdleDel(self)
		return true
	})

	s.processIdlers()
	s.processIdlers()
	assert.Equal(t, 1, runs)
}

func TestIdleDelDoubleDeleteRejected(t *testing.T) {
	s, _ := newTestScheduler()
	defer s.Shutdown()

	h := s.IdleAdd(func() bool { return true })
	assert.True(t, s.IdleDel(h))
	assert.False(t, s.IdleDel(h))
}

func TestIdlerPassRePollsTimers(t *testing.T) {
	s, c := newTestScheduler()
	defer s.Shutdown()

	var events []string
	for i := 0; i < 3; i++ {
		s.IdleAdd(func() bool {
			events = append(events, "idler")
			c.advance(50 * time.Millisecond)
			return false
		})
	}
	s.TimeoutAdd(50*time.Millisecond, func() bool {
		events = append(events, "timer")
		return true
	})

	s.processIdlers()

	// The timer became due after the first idler advanced the clock; the
	// per-idler timer re-poll must fire it before the remaining idlers
	// finish, rather than after the whole pass.
	require.GreaterOrEqual(t, len(events), 4)
	assert.Equal(t, "idler", events[0])
	assert.Contains(t, events[1:3], "timer", "timer must fire between idlers, not starve")
}

func TestIdlerNilCallbackReturnsNilHandle(t *testing.T) {
	s, _ := newTestScheduler()
	defer s.Shutdown()
	assert.Nil(t, s.IdleAdd(nil))
}
