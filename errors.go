package mainloop

import "errors"

// Standard errors.
var (
	// ErrAlreadyRunning is returned when Run() is called on a scheduler that is already running.
	ErrAlreadyRunning = errors.New("mainloop: scheduler is already running")

	// ErrTerminated is returned when operations are attempted on a scheduler after Shutdown().
	ErrTerminated = errors.New("mainloop: scheduler has been shut down")

	// ErrNotOwner is returned when Run() is called from a goroutine other than
	// the owner recorded at New() (or rebound via SetOwner).
	ErrNotOwner = errors.New("mainloop: Run() called from non-owner goroutine")

	// ErrNilCallback is returned by interrupt handler registration when no
	// callback is supplied.
	ErrNilCallback = errors.New("mainloop: nil callback")

	// ErrInvalidBaudRate is returned by UARTRegister for a zero baud rate,
	// which would leave the RX ring with no capacity.
	ErrInvalidBaudRate = errors.New("mainloop: invalid baud rate")

	// ErrNoHandoffQueue is returned when interrupt handler registration is
	// attempted on a scheduler whose backend has no handoff queue (e.g. the
	// poll backend).
	ErrNoHandoffQueue = errors.New("mainloop: backend has no interrupt handoff queue")
)
