package worker

import "errors"

var (
	// ErrQueueFull is returned by Submit when the work queue has no room.
	// Callers may retry, back off, or run the work inline.
	ErrQueueFull = errors.New("worker: queue full")

	// ErrPoolStopped is returned by Submit after Stop has been called.
	ErrPoolStopped = errors.New("worker: pool stopped")

	// ErrStopTimeout is returned by Stop when workers do not drain the
	// queue within the allotted time.
	ErrStopTimeout = errors.New("worker: stop timed out")
)
