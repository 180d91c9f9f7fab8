package process

import "errors"

// Sentinel errors for process operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrCommandNotFound is returned when the executable cannot be located
	// or is not executable.
	ErrCommandNotFound = errors.New("process: command not found")

	// ErrWorkDir is returned when the working directory is missing or unreadable.
	ErrWorkDir = errors.New("process: invalid working directory")

	// ErrStart is returned when the operating system fails to create the process.
	ErrStart = errors.New("process: start failed")

	// ErrProcessGone is returned by an Inspector when the pid no longer exists.
	ErrProcessGone = errors.New("process: no such process")

	// ErrQueryFailed is returned when the OS could not report usage for a pid.
	ErrQueryFailed = errors.New("process: usage query failed")
)
