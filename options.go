package mainloop

import (
	"time"

	"github.com/joeycumines/logiface"
)

// schedulerOptions holds configuration options for Scheduler creation.
type schedulerOptions struct {
	logger          *logiface.Logger[logiface.Event]
	backend         Backend
	handoffCapacity int
	clock           func() time.Time
}

// defaultHandoffCapacity is the capacity of the interrupt handoff queue when
// none is configured. The queue must be sized for the worst-case interrupt
// burst between two drains; overflow is not recoverable (see
// InterruptScheduler).
const defaultHandoffCapacity = 64

// --- Scheduler Options ---

// Option configures a Scheduler instance.
type Option interface {
	applyScheduler(*schedulerOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applySchedulerFunc func(*schedulerOptions) error
}

func (o *optionImpl) applyScheduler(opts *schedulerOptions) error {
	return o.applySchedulerFunc(opts)
}

// WithLogger attaches a structured logger to the scheduler. The logger
// receives caller-bug warnings (e.g. double deletes), interrupt handoff
// overflow reports, and lifecycle events. A nil logger is valid and disables
// logging (logiface builders are nil-safe).
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithBackend selects the blocking-wait backend. The default is the message
// backend, which also provides the interrupt handoff queue. See PollBackend
// for the hosted flavor.
func WithBackend(b Backend) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		opts.backend = b
		return nil
	}}
}

// WithHandoffCapacity sets the capacity of the interrupt handoff queue used
// by the default message backend. Ignored when WithBackend supplies an
// explicit backend. Values < 1 fall back to the default.
func WithHandoffCapacity(n int) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		opts.handoffCapacity = n
		return nil
	}}
}

// WithClock overrides the time source used for timer expiry bookkeeping.
// Intended for deterministic tests; the default is time.Now.
func WithClock(now func() time.Time) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		opts.clock = now
		return nil
	}}
}

// resolveSchedulerOptions applies Option instances to schedulerOptions.
func resolveSchedulerOptions(opts []Option) (*schedulerOptions, error) {
	cfg := &schedulerOptions{
		handoffCapacity: defaultHandoffCapacity,
		clock:           time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.applyScheduler(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.handoffCapacity < 1 {
		cfg.handoffCapacity = defaultHandoffCapacity
	}
	if cfg.clock == nil {
		cfg.clock = time.Now
	}
	return cfg, nil
}
