// Package process provides the operating-system side of instance supervision.
//
// It covers two things:
//   - Spawning a child in its own process group with stdout and stderr
//     exposed as separate pipes, plus group-wide SIGTERM/SIGKILL delivery
//     and bounded exit waits.
//   - Inspecting a pid for liveness (including zombie detection through
//     /proc/PID/stat) and resource usage (CPU percent and RSS via ps).
//
// Lifecycle policy (timeouts, escalation, registry bookkeeping) lives in
// the supervisor package; this package only performs the OS calls.
//
// Example usage:
//
//	child, err := process.Spawn(process.Spec{
//	    Name:    "Ollama",
//	    Command: "ollama",
//	    Args:    []string{"serve"},
//	})
//	if err != nil {
//	    return err
//	}
//	_ = child.Terminate()
//	if !child.WaitExit(10 * time.Second) {
//	    _ = child.Kill()
//	}
package process
