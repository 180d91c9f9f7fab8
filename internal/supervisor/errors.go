package supervisor

import "errors"

// Errors returned by the synchronous supervisory API.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrSpawn is returned when the launch target is missing or unreadable,
	// or the operating system refuses to create the process.
	ErrSpawn = errors.New("supervisor: spawn failed")

	// ErrCapacityExceeded is returned when a type already has the maximum
	// number of live instances.
	ErrCapacityExceeded = errors.New("supervisor: instance capacity exceeded")

	// ErrNotFound is returned when a type/id pair does not name a live instance.
	ErrNotFound = errors.New("supervisor: instance not found")

	// ErrCancelled is returned when a start was abandoned because a stop
	// was requested or the caller's context ended.
	ErrCancelled = errors.New("supervisor: start cancelled")

	// ErrUnknownType is returned when a process type is not in the catalog.
	ErrUnknownType = errors.New("supervisor: unknown process type")
)

// errTerminationTimeout marks a graceful stop that had to be escalated.
// It is only ever logged.
var errTerminationTimeout = errors.New("supervisor: termination timeout")
