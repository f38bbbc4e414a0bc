package mainloop

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
)

// Scheduler is the mainloop core: the ordered timer registry, the idler
// registry, the generic source registry, and the backend providing the
// blocking wait and (for the message backend) the interrupt handoff queue.
//
// Any goroutine may call the add/delete operations; only the owner goroutine
// (recorded at New, rebindable via SetOwner) may call Run. All callbacks run
// on the owner goroutine, with no internal lock held, so callbacks may call
// back into the scheduler freely.
type Scheduler struct {
	// Prevent copying
	_ [0]func()

	mu sync.Mutex

	timers  regState[*Timeout]
	idlers  regState[*Idler]
	sources regState[*Source]

	state   phaseState
	runLoop atomic.Bool
	owner   atomic.Uint64

	backend    Backend
	interrupts *InterruptScheduler

	// loopDone is replaced at each Run and closed when Run returns, so
	// Shutdown from another goroutine can join a quitting loop.
	loopDone chan struct{}

	logger *logiface.Logger[logiface.Event]
	now    func() time.Time
}

// New constructs a Scheduler and initializes its backend. The calling
// goroutine becomes the owner allowed to call Run (see SetOwner). Platform
// init failures (e.g. the poll backend's wake fd) propagate as an error and
// leave nothing registered.
func New(opts ...Option) (*Scheduler, error) {
	cfg, err := resolveSchedulerOptions(opts)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		logger: cfg.logger,
		now:    cfg.clock,
	}
	s.owner.Store(getGoroutineID())

	s.backend = cfg.backend
	if s.backend == nil {
		s.backend = MessageBackend(cfg.handoffCapacity)
	}
	if err := s.backend.init(s); err != nil {
		return nil, err
	}
	if p, ok := s.backend.(messagePoster); ok {
		s.interrupts = newInterruptScheduler(s, p)
	}

	return s, nil
}

// Interrupts returns the interrupt scheduler bound to this loop's handoff
// queue, or nil when the configured backend has none (e.g. the poll
// backend).
func (s *Scheduler) Interrupts() *InterruptScheduler {
	return s.interrupts
}

// SetOwner rebinds loop ownership to the calling goroutine. Must be called
// while the loop is not running; it is the hosted analogue of handing the
// interrupt scheduler the mainloop thread's identity.
func (s *Scheduler) SetOwner() {
	if s.state.load() == PhaseRunning {
		s.logger.Warning().Log("mainloop: SetOwner ignored while running")
		return
	}
	s.owner.Store(getGoroutineID())
}

// Run executes loop iterations on the calling goroutine until Quit. Returns
// ErrNotOwner when called from a goroutine other than the owner,
// ErrAlreadyRunning when the loop is running, and ErrTerminated after
// Shutdown. After Quit the scheduler returns to the Awake phase and Run may
// be called again.
func (s *Scheduler) Run() error {
	if getGoroutineID() != s.owner.Load() {
		return ErrNotOwner
	}

	// Publish the done channel and raise the run flag before the phase
	// transition makes the loop visible as running: any Quit or Shutdown
	// that observes PhaseRunning must find both already in place. The
	// transition is the commit point; everything rolls back if it fails.
	s.mu.Lock()
	prev := s.loopDone
	done := make(chan struct{})
	s.loopDone = done
	s.mu.Unlock()
	s.loopSet(true)

	if !s.state.tryTransition(PhaseAwake, PhaseRunning) {
		s.loopSet(false)
		s.mu.Lock()
		if s.loopDone == done {
			s.loopDone = prev
		}
		s.mu.Unlock()
		if s.state.load() == PhaseTerminated {
			return ErrTerminated
		}
		return ErrAlreadyRunning
	}

	s.logger.Debug().Log("mainloop: running")

	for s.loopCheck() {
		s.iterate()
	}

	close(done)
	s.state.tryTransition(PhaseRunning, PhaseAwake)
	s.logger.Debug().Log("mainloop: stopped")
	return nil
}

// Quit requests loop termination: the run flag drops and a blocked wait is
// woken. All processing passes check the flag between callback invocations
// and abort early, leaving remaining due work for a future Run or for
// Shutdown. Safe from any goroutine and from ISR context.
func (s *Scheduler) Quit() {
	s.loopSet(false)
	s.backend.wake()
}

// Shutdown tears the scheduler down: a running loop is quit and joined,
// remaining timers, idlers and sources are released (not executed; source
// Dispose still runs), interrupt handlers are released, and the backend is
// closed. The scheduler is unusable afterwards. Must not be called from the
// owner goroutine while Run is executing.
func (s *Scheduler) Shutdown() {
	if s.state.load() == PhaseTerminated {
		return
	}
	if s.state.load() == PhaseRunning {
		s.Quit()
		s.mu.Lock()
		done := s.loopDone
		s.mu.Unlock()
		if done != nil {
			<-done
		}
	}
	s.state.store(PhaseTerminated)

	s.mu.Lock()
	for _, t := range s.timers.acum {
		t.removeMe.Store(true)
		t.cb = nil
	}
	s.timers.acum, s.timers.processing, s.timers.pendingDel = nil, nil, 0
	for _, it := range s.idlers.acum {
		it.status.Store(idlerDeleted)
		it.cb = nil
	}
	s.idlers.acum, s.idlers.processing, s.idlers.pendingDel = nil, nil, 0
	s.sourceShutdownLocked()
	s.mu.Unlock()

	if s.interrupts != nil {
		s.interrupts.shutdown()
	}
	s.backend.shutdown()
	s.logger.Debug().Log("mainloop: shut down")
}

// iterate runs one loop iteration: due timers, idlers (which re-poll timers
// after each invocation), due timers again, source prepare, the blocking
// wait sized to the soonest deadline, then source check and dispatch.
func (s *Scheduler) iterate() {
	s.processTimers()
	s.processIdlers()
	s.processTimers()

	ready := s.prepareSources()

	s.mu.Lock()
	timeout, has := s.timeUntilNextLocked()
	if ready || s.idlerFirstLocked() != nil || !s.loopCheck() {
		timeout, has = 0, true
	}
	s.mu.Unlock()

	s.backend.wait(timeout, has)

	if s.checkSources() || ready {
		s.dispatchSources()
	}
}

// timeUntilNextLocked computes the time until the soonest event across the
// timer registry and sources reporting their own deadlines, clamped to zero.
// The false return means no deadline exists and the wait may block
// indefinitely. Caller must hold s.mu.
func (s *Scheduler) timeUntilNextLocked() (time.Duration, bool) {
	d, found := s.sourceNextTimeoutLocked()
	if t := s.timerFirstLocked(); t != nil {
		diff := clampDuration(t.expire.Sub(s.now()))
		if !found || diff < d {
			d = diff
		}
		found = true
	}
	return d, found
}

// checkNotifyLocked wakes a running loop when work is registered from a
// non-owner goroutine, so a sooner deadline or fresh idler takes effect
// without waiting out the current blocking wait. Caller must hold s.mu.
func (s *Scheduler) checkNotifyLocked() {
	if s.state.load() != PhaseRunning {
		return
	}
	if getGoroutineID() == s.owner.Load() {
		return
	}
	s.backend.wake()
}

// loopCheck reports the run flag; checked between every callback invocation.
func (s *Scheduler) loopCheck() bool {
	return s.runLoop.Load()
}

func (s *Scheduler) loopSet(v bool) {
	s.runLoop.Store(v)
}

// getGoroutineID returns the current goroutine's ID.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
