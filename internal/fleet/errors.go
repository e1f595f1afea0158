package fleet

import "errors"

var (
	ErrDeviceNotFound  = errors.New("device not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrTaskNotFound    = errors.New("task not found")
	ErrUnknownTaskKind = errors.New("unknown task kind")

	// ErrStateUnavailable means the shared registry was not wired into the
	// component that needed it, a startup-ordering fault.
	ErrStateUnavailable = errors.New("shared state unavailable")

	// ErrConcurrentAccess means a registry critical section panicked and the
	// surrounding request was abandoned rather than the process.
	ErrConcurrentAccess = errors.New("shared state access fault")
)
