package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// bytesPerKiB converts the kibibyte RSS reported by ps.
const bytesPerKiB = 1024

// Usage is a point-in-time view of a process as reported by the OS.
type Usage struct {
	PID int `json:"pid"`

	// Alive is false for zombies and dead processes even while the pid
	// still has a process table entry.
	Alive bool `json:"alive"`

	// State is the single-letter scheduler state from /proc (R, S, D, Z, ...).
	State string `json:"state,omitempty"`

	ResidentBytes int64   `json:"resident_bytes"`
	CPUPercent    float64 `json:"cpu_percent"`
}

// MemoryMB returns resident memory in mebibytes.
func (u Usage) MemoryMB() float64 {
	return float64(u.ResidentBytes) / (1024 * 1024)
}

// Inspector reports liveness and resource usage for a pid.
type Inspector interface {
	Inspect(ctx context.Context, pid int) (Usage, error)
}

// OSInspector reads /proc for scheduler state and asks ps for CPU and RSS,
// which gives the same figures an operator sees in top.
type OSInspector struct {
	// ProcRoot is the procfs mount point. Defaults to /proc.
	ProcRoot string

	// PSPath is the ps executable. Defaults to "ps" on PATH.
	PSPath string
}

// NewOSInspector returns an inspector for the local machine.
func NewOSInspector() *OSInspector {
	return &OSInspector{ProcRoot: "/proc", PSPath: "ps"}
}

// Inspect implements Inspector.
//
// Returns ErrProcessGone when the pid does not exist. Zombies are reported
// with Alive=false and no error, because their pid is still valid until
// the parent reaps them.
func (o *OSInspector) Inspect(ctx context.Context, pid int) (Usage, error) {
	u := Usage{PID: pid}

	if err := syscall.Kill(pid, 0); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return u, ErrProcessGone
		}
		// EPERM means the pid exists but belongs to someone else.
		if !errors.Is(err, syscall.EPERM) {
			return u, fmt.Errorf("%w: %w", ErrQueryFailed, err)
		}
	}

	state, err := o.readState(pid)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return u, ErrProcessGone
	case err != nil:
		// procfs can be absent (containers, non-Linux); fall through to ps.
		state = ""
	}
	u.State = state
	u.Alive = isLiveState(state)

	if !u.Alive {
		return u, nil
	}

	cpu, rss, err := o.queryPS(ctx, pid)
	if err != nil {
		return u, err
	}
	u.CPUPercent = cpu
	u.ResidentBytes = rss

	return u, nil
}

// readState reads /proc/PID/stat and returns the state field.
// The state is the 3rd field, after the parenthesised comm which may
// itself contain spaces or parentheses.
func (o *OSInspector) readState(pid int) (string, error) {
	root := o.ProcRoot
	if root == "" {
		root = "/proc"
	}

	data, err := os.ReadFile(filepath.Join(root, strconv.Itoa(pid), "stat"))
	if err != nil {
		return "", err
	}
	return parseStatState(string(data))
}

// parseStatState extracts the state letter from a /proc/PID/stat line.
func parseStatState(stat string) (string, error) {
	closeParen := strings.LastIndex(stat, ")")
	if closeParen == -1 || closeParen+2 >= len(stat) {
		return "", fmt.Errorf("invalid /proc/stat format")
	}

	fields := strings.Fields(stat[closeParen+2:])
	if len(fields) < 1 {
		return "", fmt.Errorf("invalid /proc/stat format: no state field")
	}
	return fields[0], nil
}

// isLiveState reports whether a /proc state letter denotes a process that
// can still do work. Z = zombie, X/x = dead. Unknown ("") counts as live
// so that hosts without procfs still get figures from ps.
func isLiveState(state string) bool {
	switch state {
	case "Z", "X", "x":
		return false
	default:
		return true
	}
}

// queryPS runs `ps -o %cpu=,rss= -p PID`.
func (o *OSInspector) queryPS(ctx context.Context, pid int) (float64, int64, error) {
	psPath := o.PSPath
	if psPath == "" {
		psPath = "ps"
	}

	out, err := exec.CommandContext(ctx, psPath, "-o", "%cpu=,rss=", "-p", strconv.Itoa(pid)).Output() //nolint:gosec // fixed argv
	if err != nil {
		// ps exits 1 with empty output when the pid vanished between checks.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(strings.TrimSpace(string(out))) == 0 {
			return 0, 0, ErrProcessGone
		}
		return 0, 0, fmt.Errorf("%w: ps: %w", ErrQueryFailed, err)
	}

	return parsePSOutput(string(out))
}

// parsePSOutput parses the "<cpu> <rss-kib>" line printed by ps.
func parsePSOutput(out string) (float64, int64, error) {
	fields := strings.Fields(out)
	if len(fields) < 2 {
		return 0, 0, fmt.Errorf("%w: unexpected ps output %q", ErrQueryFailed, strings.TrimSpace(out))
	}

	cpu, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: parsing cpu %q: %w", ErrQueryFailed, fields[0], err)
	}
	rssKiB, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: parsing rss %q: %w", ErrQueryFailed, fields[1], err)
	}

	return cpu, rssKiB * bytesPerKiB, nil
}
