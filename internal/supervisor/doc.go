// Package supervisor launches, tracks and stops multiple instances of each
// configured tool type.
//
// The Controller is the synchronous API: Start, Stop, Kill, Restart,
// KillAll and StopAll. Each live instance is a Handle in the Registry,
// addressed by its type and a positional id that is renumbered when an
// earlier instance leaves. A Handle owns its child process, an
// output.Buffer fed by one reader per stream, and an optional log file.
//
// The Poller samples CPU, memory and liveness of every instance on a
// fixed interval and publishes an immutable snapshot. Lifecycle, output
// and status changes are delivered to sinks through a Dispatcher, which
// never blocks the supervisory path.
//
// Lifecycle:
//
//	Start: reserve slot -> spawn -> start readers -> commit -> watch exit
//	Stop:  SIGTERM -> wait graceful timeout -> SIGKILL -> wait -> cleanup
//	Exit:  watcher detects unexpected exit -> cleanup
//
// Cleanup removes the handle, drains the readers, closes the pipes and
// the log file, and releases the buffer, exactly once per handle.
package supervisor
