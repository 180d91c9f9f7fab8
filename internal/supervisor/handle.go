package supervisor

import (
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/nerrad567/launchdeck/internal/output"
	"github.com/nerrad567/launchdeck/internal/process"
)

// LaunchSpec is what a Start call runs.
type LaunchSpec struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	WorkDir string   `json:"work_dir,omitempty"`
	Env     []string `json:"-"`
}

// Instance is a point-in-time view of a handle.
type Instance struct {
	Type      string     `json:"type"`
	ID        int        `json:"id"`
	UID       string     `json:"uid"`
	PID       int        `json:"pid"`
	State     State      `json:"state"`
	Launch    LaunchSpec `json:"launch"`
	StartedAt time.Time  `json:"started_at"`
	LogPath   string     `json:"log_path,omitempty"`
	ExitCode  int        `json:"exit_code"`
}

// Handle owns one supervised child and its output pipeline.
//
// A handle is created by the Controller and lives in the Registry until
// the child is stopped or exits. Its resources are released exactly once
// by finalize.
type Handle struct {
	uid      string
	typeName string
	launch   LaunchSpec
	child    *process.Child
	buffer   *output.Buffer
	logfile  *output.Logfile
	readers  conc.WaitGroup

	readersDone chan struct{}

	// announced closes once the start is recorded and published.
	announced chan struct{}

	mu    sync.Mutex
	state State

	finalizeOnce sync.Once
}

// UID returns the stable identifier. Unlike the positional id it never
// changes while the handle lives.
func (h *Handle) UID() string { return h.uid }

// Type returns the process type name.
func (h *Handle) Type() string { return h.typeName }

// PID returns the child process id, or 0 for a handle without a child.
func (h *Handle) PID() int {
	if h.child == nil {
		return 0
	}
	return h.child.PID()
}

// StartedAt returns when the child was started.
func (h *Handle) StartedAt() time.Time {
	if h.child == nil {
		return time.Time{}
	}
	return h.child.StartedAt()
}

// Buffer returns the output buffer.
func (h *Handle) Buffer() *output.Buffer { return h.buffer }

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// transition moves to next if it is legal from the current state.
func (h *Handle) transition(next State) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !canTransition(h.state, next) {
		return false
	}
	h.state = next
	return true
}

// setState moves to s unconditionally.
func (h *Handle) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// snapshot builds an Instance with the given positional id.
func (h *Handle) snapshot(id int) Instance {
	inst := Instance{
		Type:      h.typeName,
		ID:        id,
		UID:       h.uid,
		PID:       h.PID(),
		State:     h.State(),
		Launch:    h.launch,
		StartedAt: h.StartedAt(),
		LogPath:   h.logfile.Path(),
		ExitCode:  -1,
	}
	if h.child != nil {
		inst.ExitCode = h.child.ExitCode()
	}
	return inst
}

// startReaders launches one reader per stream, both feeding ingest.
// readersDone closes once both have returned.
func (h *Handle) startReaders(ingest func(output.Stream, string), logger Logger) {
	h.readersDone = make(chan struct{})
	readers := []*output.StreamReader{
		output.NewStreamReader(output.Stdout, h.child.Stdout(), ingest),
		output.NewStreamReader(output.Stderr, h.child.Stderr(), ingest),
	}

	for _, r := range readers {
		r := r
		h.readers.Go(func() {
			n, err := r.Run()
			if err != nil {
				logger.Warn("output reader failed", "type", h.typeName, "uid", h.uid, "stream", r.Stream(), "error", err)
				return
			}
			logger.Debug("output reader finished", "type", h.typeName, "uid", h.uid, "stream", r.Stream(), "lines", n)
		})
	}

	go func() {
		defer close(h.readersDone)
		if rec := h.readers.WaitAndRecover(); rec != nil {
			logger.Error("output reader panicked", "type", h.typeName, "uid", h.uid, "panic", rec.Value)
		}
	}()
}

// waitReaders waits up to timeout for both readers to finish.
func (h *Handle) waitReaders(timeout time.Duration) bool {
	if h.readersDone == nil {
		return true
	}
	select {
	case <-h.readersDone:
		return true
	case <-time.After(timeout):
		return false
	}
}
