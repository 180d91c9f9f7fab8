package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Spec describes the child process to launch.
type Spec struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Command is the executable. Bare names are resolved through PATH,
	// relative paths are resolved against WorkDir.
	Command string

	// Args are command-line arguments to pass to the command.
	Args []string

	// Env are additional environment variables (key=value format),
	// appended to the parent environment.
	Env []string

	// WorkDir is the working directory for the process. A leading "~/"
	// is expanded to the user's home directory.
	// If empty, inherits from parent process.
	WorkDir string
}

// Child is a spawned process whose stdout and stderr are exposed as
// independent pipe read ends.
//
// The read ends are plain *os.File pipes owned by the Child rather than
// exec's StdoutPipe, so waiting for the process never closes them while a
// reader is still draining buffered output.
type Child struct {
	cmd     *exec.Cmd
	pid     int
	started time.Time

	stdout *os.File
	stderr *os.File

	done     chan struct{}
	exitErr  error
	exitCode int

	closeOnce sync.Once
}

// Spawn validates spec, starts the process in its own process group and
// begins waiting for it in the background.
//
// Returns ErrCommandNotFound or ErrWorkDir when the target cannot be
// resolved, and ErrStart when the OS refuses to create the process.
func Spawn(spec Spec) (*Child, error) {
	workDir, err := resolveWorkDir(spec.WorkDir)
	if err != nil {
		return nil, err
	}

	path, err := resolveCommand(spec.Command, workDir)
	if err != nil {
		return nil, err
	}

	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: creating stdout pipe: %w", ErrStart, err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return nil, fmt.Errorf("%w: creating stderr pipe: %w", ErrStart, err)
	}

	cmd := exec.Command(path, spec.Args...) //nolint:gosec // command comes from operator configuration
	cmd.Dir = workDir
	cmd.Stdout = outW
	cmd.Stderr = errW

	// New process group so signals reach every descendant the launcher forks.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}

	if err := cmd.Start(); err != nil {
		outR.Close()
		outW.Close()
		errR.Close()
		errW.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrStart, spec.Name, err)
	}

	// The child holds its own copies; ours must go so readers see EOF.
	outW.Close()
	errW.Close()

	c := &Child{
		cmd:      cmd,
		pid:      cmd.Process.Pid,
		started:  time.Now(),
		stdout:   outR,
		stderr:   errR,
		done:     make(chan struct{}),
		exitCode: -1,
	}
	go c.wait()

	return c, nil
}

// wait reaps the process and records how it ended.
func (c *Child) wait() {
	err := c.cmd.Wait()
	c.exitErr = err
	if state := c.cmd.ProcessState; state != nil {
		c.exitCode = state.ExitCode()
	}
	close(c.done)
}

// PID returns the operating system process id.
func (c *Child) PID() int {
	return c.pid
}

// StartedAt returns when the process was started.
func (c *Child) StartedAt() time.Time {
	return c.started
}

// Stdout returns the read end of the stdout pipe.
func (c *Child) Stdout() io.Reader {
	return c.stdout
}

// Stderr returns the read end of the stderr pipe.
func (c *Child) Stderr() io.Reader {
	return c.stderr
}

// Done is closed once the process has exited and been reaped.
func (c *Child) Done() <-chan struct{} {
	return c.done
}

// Exited reports whether the process has been reaped.
func (c *Child) Exited() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// ExitCode returns the exit status, or -1 while running or when the
// process was ended by a signal.
func (c *Child) ExitCode() int {
	if !c.Exited() {
		return -1
	}
	return c.exitCode
}

// ExitErr returns the error reported by the wait, if any.
// Only meaningful after Done is closed.
func (c *Child) ExitErr() error {
	if !c.Exited() {
		return nil
	}
	return c.exitErr
}

// Terminate sends SIGTERM to the whole process group.
func (c *Child) Terminate() error {
	return c.signalGroup(syscall.SIGTERM)
}

// Kill sends SIGKILL to the whole process group.
func (c *Child) Kill() error {
	return c.signalGroup(syscall.SIGKILL)
}

// signalGroup signals the process group created via Setpgid.
// A group that is already gone is not an error.
func (c *Child) signalGroup(sig syscall.Signal) error {
	if c.Exited() {
		return nil
	}
	if err := syscall.Kill(-c.pid, sig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return fmt.Errorf("signalling process group %d with %s: %w", c.pid, sig, err)
	}
	return nil
}

// WaitExit blocks until the process exits or timeout elapses.
// Reports whether the process exited.
func (c *Child) WaitExit(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.done:
		return true
	case <-timer.C:
		return false
	}
}

// CloseOutput closes both pipe read ends. Blocked readers return promptly.
// Safe to call more than once.
func (c *Child) CloseOutput() {
	c.closeOnce.Do(func() {
		c.stdout.Close()
		c.stderr.Close()
	})
}

// resolveWorkDir expands and checks the working directory.
func resolveWorkDir(dir string) (string, error) {
	if dir == "" {
		return "", nil
	}

	if dir == "~" || strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("%w: expanding %q: %w", ErrWorkDir, dir, err)
		}
		dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
	}

	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrWorkDir, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrWorkDir, dir)
	}
	return dir, nil
}

// resolveCommand locates the executable.
//
// Paths containing a separator are checked directly (relative ones against
// workDir); bare names go through PATH lookup.
func resolveCommand(command, workDir string) (string, error) {
	if command == "" {
		return "", fmt.Errorf("%w: empty command", ErrCommandNotFound)
	}

	if !strings.ContainsRune(command, os.PathSeparator) {
		path, err := exec.LookPath(command)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrCommandNotFound, err)
		}
		return path, nil
	}

	path := command
	if !filepath.IsAbs(path) && workDir != "" {
		path = filepath.Join(workDir, path)
	}
	// exec evaluates a relative Path against Dir, which would apply workDir twice.
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCommandNotFound, err)
	}
	path = abs

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCommandNotFound, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrCommandNotFound, path)
	}
	if info.Mode().Perm()&0o111 == 0 {
		return "", fmt.Errorf("%w: %s is not executable", ErrCommandNotFound, path)
	}
	return path, nil
}
