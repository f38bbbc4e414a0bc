package mainloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource implements every optional capability; individual behaviors are
// driven through the function fields, nil fields fall back to inert defaults.
type fakeSource struct {
	prepare  func(data any) bool
	check    func(data any) bool
	dispatch func(data any)
	timeout  func(data any) (time.Duration, bool)
	dispose  func(data any)
}

func (f *fakeSource) Prepare(data any) bool {
	if f.prepare == nil {
		return false
	}
	return f.prepare(data)
}

func (f *fakeSource) Check(data any) bool {
	if f.check == nil {
		return false
	}
	return f.check(data)
}

func (f *fakeSource) Dispatch(data any) {
	if f.dispatch != nil {
		f.dispatch(data)
	}
}

func (f *fakeSource) NextTimeout(data any) (time.Duration, bool) {
	if f.timeout == nil {
		return 0, false
	}
	return f.timeout(data)
}

func (f *fakeSource) Dispose(data any) {
	if f.dispose != nil {
		f.dispose(data)
	}
}

// checkOnlySource has no optional capabilities at all.
type checkOnlySource struct {
	check      func(data any) bool
	dispatched int
}

func (c *checkOnlySource) Check(data any) bool { return c.check(data) }
func (c *checkOnlySource) Dispatch(any)        { c.dispatched++ }

func TestSourcePrepareReadinessShortcutsWait(t *testing.T) {
	s, _ := newTestScheduler()
	defer s.Shutdown()

	ft := &fakeSource{prepare: func(any) bool { return true }}
	require.NotNil(t, s.SourceAdd(ft, nil))

	assert.True(t, s.prepareSources())
}

func TestSourceCheckORsIntoPrepareReadiness(t *testing.T) {
	s, _ := newTestScheduler()
	defer s.Shutdown()

	dispatched := 0
	ft := &fakeSource{
		prepare:  func(any) bool { return true },
		check:    func(any) bool { return false },
		dispatch: func(any) { dispatched++ },
	}
	s.SourceAdd(ft, nil)

	ready := s.prepareSources()
	require.True(t, ready)
	// Check returns false but prepare already marked the source ready; the
	// check pass must not clear it.
	s.checkSources()
	s.dispatchSources()
	assert.Equal(t, 1, dispatched)
}

func TestSourceWithoutPreparerReliesOnCheck(t *testing.T) {
	s, _ := newTestScheduler()
	defer s.Shutdown()

	cs := &checkOnlySource{check: func(any) bool { return true }}
	s.SourceAdd(cs, nil)

	assert.False(t, s.prepareSources())
	assert.True(t, s.checkSources())
	s.dispatchSources()
	assert.Equal(t, 1, cs.dispatched)
}

func TestSourceDispatchClearsReady(t *testing.T) {
	s, _ := newTestScheduler()
	defer s.Shutdown()

	hits := 0
	cs := &checkOnlySource{check: func(any) bool {
		hits++
		return hits == 1
	}}
	s.SourceAdd(cs, nil)

	require.True(t, s.checkSources())
	s.dispatchSources()
	require.Equal(t, 1, cs.dispatched)

	assert.False(t, s.checkSources())
	s.dispatchSources()
	assert.Equal(t, 1, cs.dispatched, "ready flag must not persist across iterations")
}

func TestSourceDataRoundTrip(t *testing.T) {
	s, _ := newTestScheduler()
	defer s.Shutdown()

	type payload struct{ n int }
	p := &payload{n: 42}
	src := s.SourceAdd(&fakeSource{}, p)
	assert.Same(t, p, s.SourceData(src))
	assert.Nil(t, s.SourceData(nil))
}

func TestSourceNextTimeoutTakesMinimum(t *testing.T) {
	s, _ := newTestScheduler()
	defer s.Shutdown()

	s.SourceAdd(&fakeSource{timeout: func(any) (time.Duration, bool) {
		return 300 * time.Millisecond, true
	}}, nil)
	s.SourceAdd(&fakeSource{timeout: func(any) (time.Duration, bool) {
		return 70 * time.Millisecond, true
	}}, nil)
	s.SourceAdd(&fakeSource{}, nil)

	s.mu.Lock()
	d, ok := s.sourceNextTimeoutLocked()
	s.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, 70*time.Millisecond, d)
}

func TestSourceNextTimeoutClampsNegative(t *testing.T) {
	s, _ := newTestScheduler()
	defer s.Shutdown()

	s.SourceAdd(&fakeSource{timeout: func(any) (time.Duration, bool) {
		return -time.Second, true
	}}, nil)

	s.mu.Lock()
	d, ok := s.sourceNextTimeoutLocked()
	s.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, time.Duration(0), d)
}

func TestSourceNextTimeoutNoDeadlines(t *testing.T) {
	s, _ := newTestScheduler()
	defer s.Shutdown()

	s.SourceAdd(&fakeSource{}, nil)
	s.mu.Lock()
	_, ok := s.sourceNextTimeoutLocked()
	s.mu.Unlock()
	assert.False(t, ok)
}

func TestSourceDelRunsDisposeUnlocked(t *testing.T) {
	s, _ := newTestScheduler()
	defer s.Shutdown()

	disposed := false
	ft := &fakeSource{dispose: func(data any) {
		// Re-entering the scheduler here deadlocks if the registry lock
		// were still held during Dispose.
		s.SourceAdd(&fakeSource{}, nil)
		disposed = true
	}}
	src := s.SourceAdd(ft, "d")

	s.SourceDel(src)
	assert.True(t, disposed)

	s.mu.Lock()
	assert.Len(t, s.sources.acum, 1)
	s.mu.Unlock()
}

func TestSourceDelDuringPassDefersDispose(t *testing.T) {
	s, _ := newTestScheduler()
	defer s.Shutdown()

	disposed := false
	var victim *Source
	killer := &fakeSource{check: func(any) bool {
		s.SourceDel(victim)
		return false
	}}
	s.SourceAdd(killer, nil)
	victim = s.SourceAdd(&fakeSource{
		check:   func(any) bool { return true },
		dispose: func(any) { disposed = true },
	}, nil)

	assert.False(t, s.checkSources(), "source deleted mid-pass must not report ready")
	assert.True(t, disposed, "deferred cleanup runs at end of pass")
}

func TestSourceAddNilTypeReturnsNil(t *testing.T) {
	s, _ := newTestScheduler()
	defer s.Shutdown()
	assert.Nil(t, s.SourceAdd(nil, "x"))
}
