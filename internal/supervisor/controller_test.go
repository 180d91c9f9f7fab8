package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/nerrad567/launchdeck/internal/output"
	"github.com/nerrad567/launchdeck/internal/process"
)

const testWait = 5 * time.Second

func sh(script string) LaunchSpec {
	return LaunchSpec{Command: "/bin/sh", Args: []string{"-c", script}}
}

func sleeper() LaunchSpec {
	return sh("exec sleep 30")
}

func newTestController(t *testing.T, cfg Config) *Controller {
	t.Helper()
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = 2 * time.Second
	}
	if cfg.ExitWaitTimeout == 0 {
		cfg.ExitWaitTimeout = 2 * time.Second
	}
	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = 200 * time.Millisecond
	}
	c := NewController(cfg, NewCatalog([]ProcessType{
		{Name: "Ollama", Command: "/bin/sh", Args: []string{"-c", "exec sleep 30"}},
	}))
	t.Cleanup(func() {
		c.ClearStopRequest()
		_ = c.KillAll(context.Background())
	})
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testWait)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func bufferHas(c *Controller, typeName string, id int, text string) bool {
	page, err := c.BufferSince(typeName, id, 0, nil)
	if err != nil {
		return false
	}
	for _, l := range page.Lines {
		if l.Text == text {
			return true
		}
	}
	return false
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) HandleEvent(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) removed() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Kind == EventInstanceRemoved {
			out = append(out, ev)
		}
	}
	return out
}

type logEntry struct {
	msg  string
	args []any
}

type recordingLogger struct {
	noopLogger
	mu    sync.Mutex
	warns []logEntry
}

func (l *recordingLogger) Warn(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, logEntry{msg: msg, args: args})
}

// warnedWith reports whether any warning carried an error matching target.
func (l *recordingLogger) warnedWith(target error) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.warns {
		for _, arg := range e.args {
			if err, ok := arg.(error); ok && errors.Is(err, target) {
				return true
			}
		}
	}
	return false
}

func processGone(pid int) bool {
	return errors.Is(syscall.Kill(pid, 0), syscall.ESRCH)
}

// watchEvents routes the controller's events into a recording sink.
func watchEvents(t *testing.T, c *Controller) *recordingSink {
	t.Helper()
	sink := &recordingSink{}
	events := NewDispatcher(64)
	events.Subscribe(sink)
	c.SetEvents(events)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go events.Run(ctx)
	return sink
}

func TestController_StartCapturesOutput(t *testing.T) {
	c := newTestController(t, Config{})

	id, err := c.Start(context.Background(), "Ollama", sh("echo hello; echo 'ERROR: bad' 1>&2; exec sleep 30"))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if id != 1 {
		t.Errorf("Start() id = %d, want 1", id)
	}

	waitFor(t, "stdout line", func() bool { return bufferHas(c, "Ollama", id, "hello") })
	waitFor(t, "stderr line", func() bool { return bufferHas(c, "Ollama", id, "ERROR: bad") })

	var errorsOnly output.Filter
	errorsOnly.SetErrorsOnly(true)
	page, err := c.BufferSince("Ollama", id, 0, &errorsOnly)
	if err != nil {
		t.Fatalf("BufferSince() error = %v", err)
	}
	for _, l := range page.Lines {
		if l.Displayable != (l.Category == output.CategoryError) {
			t.Errorf("line %q displayable = %v with errors-only filter", l.Text, l.Displayable)
		}
	}

	inst, err := c.Get("Ollama", id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if inst.State != StateRunning || inst.PID <= 0 || inst.UID == "" {
		t.Errorf("Get() = %+v, want running with pid and uid", inst)
	}

	if err := c.Stop("Ollama", id); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if c.Count("Ollama") != 0 {
		t.Errorf("Count() after Stop = %d, want 0", c.Count("Ollama"))
	}
	if err := c.Stop("Ollama", id); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Stop() error = %v, want ErrNotFound", err)
	}
}

func TestController_CapacityExceeded(t *testing.T) {
	c := newTestController(t, Config{MaxInstancesPerType: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := c.Start(ctx, "Ollama", sleeper()); err != nil {
			t.Fatalf("Start() #%d error = %v", i+1, err)
		}
	}
	if _, err := c.Start(ctx, "Ollama", sleeper()); !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("Start() past cap error = %v, want ErrCapacityExceeded", err)
	}
	if _, err := c.Start(ctx, "ComfyUI", sleeper()); err != nil {
		t.Errorf("Start() of another type error = %v", err)
	}
}

func TestController_ConcurrentStartsRespectCap(t *testing.T) {
	c := newTestController(t, Config{MaxInstancesPerType: 3})

	var wg sync.WaitGroup
	var ok, full atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Start(context.Background(), "Ollama", sleeper())
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrCapacityExceeded):
				full.Add(1)
			default:
				t.Errorf("Start() unexpected error = %v", err)
			}
		}()
	}
	wg.Wait()

	if ok.Load() != 3 || full.Load() != 7 {
		t.Errorf("ok = %d, full = %d, want 3 and 7", ok.Load(), full.Load())
	}
}

func TestController_SpawnFailureReleasesSlot(t *testing.T) {
	c := newTestController(t, Config{MaxInstancesPerType: 1})

	_, err := c.Start(context.Background(), "Ollama", LaunchSpec{Command: "/nonexistent/launchdeck-tool"})
	if !errors.Is(err, ErrSpawn) {
		t.Fatalf("Start() error = %v, want ErrSpawn", err)
	}
	if _, err := c.Start(context.Background(), "Ollama", sleeper()); err != nil {
		t.Errorf("Start() after failed spawn error = %v, slot was not released", err)
	}
}

func TestController_PositionalRenumbering(t *testing.T) {
	c := newTestController(t, Config{})
	ctx := context.Background()

	var uids []string
	for i := 0; i < 3; i++ {
		id, err := c.Start(ctx, "Ollama", sleeper())
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		inst, _ := c.Get("Ollama", id)
		uids = append(uids, inst.UID)
	}

	if err := c.Kill("Ollama", 2); err != nil {
		t.Fatalf("Kill() error = %v", err)
	}

	list := c.List("Ollama")
	if len(list) != 2 {
		t.Fatalf("List() = %d instances, want 2", len(list))
	}
	if list[0].UID != uids[0] || list[1].UID != uids[2] {
		t.Errorf("List() uids = [%s %s], want [%s %s]", list[0].UID, list[1].UID, uids[0], uids[2])
	}
	if list[1].ID != 2 {
		t.Errorf("former instance 3 has id %d, want 2", list[1].ID)
	}
}

func TestController_UnexpectedExitRemovesInstance(t *testing.T) {
	c := newTestController(t, Config{})
	sink := watchEvents(t, c)

	if _, err := c.Start(context.Background(), "Ollama", sh("echo bye; exit 4")); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitFor(t, "instance removal", func() bool { return c.Count("Ollama") == 0 })
	waitFor(t, "removed event", func() bool { return len(sink.removed()) == 1 })

	ev := sink.removed()[0]
	if ev.Reason != ReasonExited {
		t.Errorf("removed reason = %q, want %q", ev.Reason, ReasonExited)
	}
	if ev.Instance.ExitCode != 4 {
		t.Errorf("exit code = %d, want 4", ev.Instance.ExitCode)
	}
	if ev.Instance.State != StateStopped {
		t.Errorf("state = %q, want %q", ev.Instance.State, StateStopped)
	}
}

func TestController_StopEscalatesToKill(t *testing.T) {
	c := newTestController(t, Config{GracefulTimeout: 200 * time.Millisecond})
	logger := &recordingLogger{}
	c.SetLogger(logger)

	id, err := c.Start(context.Background(), "Ollama", sh("trap '' TERM; echo ready; exec sleep 30"))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "trap installed", func() bool { return bufferHas(c, "Ollama", id, "ready") })

	start := time.Now()
	if err := c.Stop("Ollama", id); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	elapsed := time.Since(start)

	if elapsed < 200*time.Millisecond {
		t.Errorf("Stop() returned after %v, before the graceful timeout", elapsed)
	}
	if elapsed > testWait {
		t.Errorf("Stop() took %v", elapsed)
	}
	if c.Count("Ollama") != 0 {
		t.Errorf("Count() = %d, want 0", c.Count("Ollama"))
	}
	if !logger.warnedWith(errTerminationTimeout) {
		t.Error("termination timeout was not logged")
	}
}

func TestController_StopRequestCancelsStarts(t *testing.T) {
	c := newTestController(t, Config{})

	c.RequestStop()
	if _, err := c.Start(context.Background(), "Ollama", sleeper()); !errors.Is(err, ErrCancelled) {
		t.Errorf("Start() after RequestStop error = %v, want ErrCancelled", err)
	}
	if c.Count("Ollama") != 0 {
		t.Errorf("Count() = %d, want 0", c.Count("Ollama"))
	}

	c.ClearStopRequest()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Start(ctx, "Ollama", sleeper()); !errors.Is(err, ErrCancelled) {
		t.Errorf("Start() with cancelled context error = %v, want ErrCancelled", err)
	}

	if _, err := c.Start(context.Background(), "Ollama", sleeper()); err != nil {
		t.Errorf("Start() after ClearStopRequest error = %v", err)
	}
}

func TestController_StopRequestDuringSpawnKillsChild(t *testing.T) {
	c := newTestController(t, Config{})
	sink := watchEvents(t, c)

	var pid int
	c.beforeCommit = func(h *Handle) {
		pid = h.PID()
		c.RequestStop()
	}

	if _, err := c.Start(context.Background(), "Ollama", sleeper()); !errors.Is(err, ErrCancelled) {
		t.Fatalf("Start() error = %v, want ErrCancelled", err)
	}
	if c.Count("Ollama") != 0 {
		t.Errorf("Count() = %d, want 0", c.Count("Ollama"))
	}
	if pid == 0 || !processGone(pid) {
		t.Errorf("child %d still running after cancelled start", pid)
	}

	waitFor(t, "removed event", func() bool { return len(sink.removed()) == 1 })
	if got := sink.removed()[0].Reason; got != ReasonCancelled {
		t.Errorf("removed reason = %q, want %q", got, ReasonCancelled)
	}
}

func TestController_CancelledStartLeavesOwnedHandleAlone(t *testing.T) {
	c := newTestController(t, Config{})

	var handle *Handle
	c.beforeCommit = func(h *Handle) {
		handle = h
		// A kill already owns the handle.
		if !h.transition(StateForceKilling) {
			t.Errorf("transition from %q failed", h.State())
		}
		c.RequestStop()
	}

	if _, err := c.Start(context.Background(), "Ollama", sleeper()); !errors.Is(err, ErrCancelled) {
		t.Fatalf("Start() error = %v, want ErrCancelled", err)
	}
	if got := handle.State(); got != StateForceKilling {
		t.Errorf("State() = %q, want %q", got, StateForceKilling)
	}
	if handle.child.Exited() {
		t.Error("cancelled start killed a child owned by another operation")
	}

	c.forceKill(handle)
	c.finalize(handle, ReasonKilled)
	if c.Count("Ollama") != 0 {
		t.Errorf("Count() = %d, want 0", c.Count("Ollama"))
	}
}

func TestController_KillAllVoidsInFlightStart(t *testing.T) {
	c := newTestController(t, Config{})

	var pid int
	c.beforeCommit = func(h *Handle) {
		pid = h.PID()
		if err := c.KillAll(context.Background()); err != nil {
			t.Errorf("KillAll() error = %v", err)
		}
	}

	if _, err := c.Start(context.Background(), "Ollama", sleeper()); !errors.Is(err, ErrCancelled) {
		t.Fatalf("Start() racing KillAll error = %v, want ErrCancelled", err)
	}
	if c.Count("Ollama") != 0 {
		t.Errorf("Count() = %d, want 0", c.Count("Ollama"))
	}
	if pid == 0 || !processGone(pid) {
		t.Errorf("child %d survived KillAll", pid)
	}
}

func TestController_QuickExitsAreAnnouncedFirst(t *testing.T) {
	const starts = 50
	c := newTestController(t, Config{MaxInstancesPerType: starts})

	sink := &recordingSink{}
	events := NewDispatcher(4 * starts)
	events.Subscribe(sink)
	c.SetEvents(events)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go events.Run(ctx)

	for i := 0; i < starts; i++ {
		if _, err := c.Start(context.Background(), "Ollama", sh("exit 0")); err != nil {
			t.Fatalf("Start() #%d error = %v", i, err)
		}
	}
	waitFor(t, "every instance removed", func() bool { return len(sink.removed()) == starts })

	sink.mu.Lock()
	defer sink.mu.Unlock()
	created := make(map[string]bool)
	for _, ev := range sink.events {
		switch ev.Kind {
		case EventInstanceCreated:
			created[ev.Instance.UID] = true
		case EventInstanceRemoved:
			if !created[ev.Instance.UID] {
				t.Errorf("instance %s removed before it was announced", ev.Instance.UID)
			}
		}
	}
}

func TestController_RetiresOnlyWithPoller(t *testing.T) {
	c := newTestController(t, Config{})

	id, err := c.Start(context.Background(), "Ollama", sleeper())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := c.Kill("Ollama", id); err != nil {
		t.Fatalf("Kill() error = %v", err)
	}
	if n := len(c.drainRetired()); n != 0 {
		t.Errorf("retired = %d without a poller, want 0", n)
	}
}

func TestController_FillKillAll(t *testing.T) {
	c := newTestController(t, Config{})
	ctx := context.Background()

	var pids []int
	for want := 1; want <= DefaultMaxInstances; want++ {
		id, err := c.Start(ctx, "Ollama", sleeper())
		if err != nil {
			t.Fatalf("Start() #%d error = %v", want, err)
		}
		if id != want {
			t.Errorf("Start() #%d id = %d", want, id)
		}
		inst, _ := c.Get("Ollama", id)
		pids = append(pids, inst.PID)
	}
	if _, err := c.Start(ctx, "Ollama", sleeper()); !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("sixth Start() error = %v, want ErrCapacityExceeded", err)
	}

	if err := c.KillAll(ctx); err != nil {
		t.Fatalf("KillAll() error = %v", err)
	}
	if c.Count("Ollama") != 0 {
		t.Errorf("Count() = %d, want 0", c.Count("Ollama"))
	}
	for _, pid := range pids {
		if !processGone(pid) {
			t.Errorf("pid %d still running after KillAll", pid)
		}
	}
}

func TestController_StderrErrorLineFiltering(t *testing.T) {
	c := newTestController(t, Config{})

	id, err := c.Start(context.Background(), "Ollama", sh("echo 'ERROR: disk full' 1>&2; exec sleep 30"))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "error line", func() bool { return bufferHas(c, "Ollama", id, "ERROR: disk full") })

	var errorsOnly, warningsOnly output.Filter
	errorsOnly.SetErrorsOnly(true)
	warningsOnly.SetWarningsOnly(true)

	tests := []struct {
		name   string
		filter *output.Filter
		want   bool
	}{
		{"default", nil, true},
		{"errors only", &errorsOnly, true},
		{"warnings only", &warningsOnly, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := c.BufferSince("Ollama", id, 0, tt.filter)
			if err != nil {
				t.Fatalf("BufferSince() error = %v", err)
			}
			if len(page.Lines) != 1 {
				t.Fatalf("BufferSince() = %d lines, want 1", len(page.Lines))
			}
			l := page.Lines[0]
			if l.Stream != output.Stderr || l.Category != output.CategoryError {
				t.Errorf("line = %s/%s, want stderr/error", l.Stream, l.Category)
			}
			if l.Displayable != tt.want {
				t.Errorf("Displayable = %v, want %v", l.Displayable, tt.want)
			}
		})
	}
}

func TestController_StoppedInstanceReportsNotRunning(t *testing.T) {
	c := newTestController(t, Config{})
	ctx := context.Background()
	p := NewPoller(c, process.NewOSInspector(), time.Second)

	id, err := c.Start(ctx, "Ollama", sleeper())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	inst, _ := c.Get("Ollama", id)

	if err := c.Stop("Ollama", id); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if n := len(c.List("Ollama")); n != 0 {
		t.Errorf("List() = %d instances after Stop, want 0", n)
	}

	snaps := p.Poll(ctx)
	if len(snaps) != 1 || snaps[0].UID != inst.UID || snaps[0].Running || snaps[0].Status != StatusStopped {
		t.Errorf("Poll() after Stop = %+v, want one stopped entry", snaps)
	}
}

func TestController_KillAll(t *testing.T) {
	c := newTestController(t, Config{})
	ctx := context.Background()

	var reclaimed atomic.Bool
	c.SetReclaimHook(func(context.Context) error {
		reclaimed.Store(true)
		return nil
	})

	for _, typeName := range []string{"Ollama", "Ollama", "ComfyUI"} {
		if _, err := c.Start(ctx, typeName, sleeper()); err != nil {
			t.Fatalf("Start(%s) error = %v", typeName, err)
		}
	}

	if err := c.KillAll(ctx); err != nil {
		t.Fatalf("KillAll() error = %v", err)
	}
	if n := len(c.ListAll()); n != 0 {
		t.Errorf("ListAll() = %d instances after KillAll, want 0", n)
	}
	if !reclaimed.Load() {
		t.Error("reclaim hook was not called")
	}
}

func TestController_KillAllReportsReclaimFailure(t *testing.T) {
	c := newTestController(t, Config{})
	c.SetReclaimHook(func(context.Context) error { return errors.New("nvidia-smi missing") })

	err := c.KillAll(context.Background())
	if err == nil || !strings.Contains(err.Error(), "nvidia-smi missing") {
		t.Errorf("KillAll() error = %v, want reclaim failure", err)
	}
}

func TestController_StopAll(t *testing.T) {
	c := newTestController(t, Config{BulkGracefulTimeout: time.Second})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.Start(ctx, "Ollama", sleeper()); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	}
	if err := c.StopAll(ctx); err != nil {
		t.Fatalf("StopAll() error = %v", err)
	}
	if c.Count("Ollama") != 0 {
		t.Errorf("Count() = %d, want 0", c.Count("Ollama"))
	}
	if !c.StopRequested() {
		t.Error("StopAll() should leave starts refused")
	}
}

func TestController_Restart(t *testing.T) {
	c := newTestController(t, Config{})
	ctx := context.Background()

	id, err := c.Start(ctx, "Ollama", sleeper())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	before, _ := c.Get("Ollama", id)

	newID, err := c.Restart(ctx, "Ollama", id)
	if err != nil {
		t.Fatalf("Restart() error = %v", err)
	}
	after, err := c.Get("Ollama", newID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if after.UID == before.UID || after.PID == before.PID {
		t.Error("Restart() did not create a new instance")
	}
	if after.Launch.Command != before.Launch.Command {
		t.Errorf("launch command = %q, want %q", after.Launch.Command, before.Launch.Command)
	}
}

func TestController_StartInstance(t *testing.T) {
	c := newTestController(t, Config{})

	if _, err := c.StartInstance(context.Background(), "Ollama"); err != nil {
		t.Errorf("StartInstance(Ollama) error = %v", err)
	}
	if _, err := c.StartInstance(context.Background(), "Nope"); !errors.Is(err, ErrUnknownType) {
		t.Errorf("StartInstance(Nope) error = %v, want ErrUnknownType", err)
	}
}

func TestController_Autostart(t *testing.T) {
	c := newTestController(t, Config{MaxInstancesPerType: 2})
	c.Catalog().Replace([]ProcessType{
		{Name: "Ollama", Command: "/bin/sh", Args: []string{"-c", "exec sleep 30"}, Autostart: 5},
		{Name: "ComfyUI", Command: "/bin/sh", Args: []string{"-c", "exec sleep 30"}},
	})

	if err := c.Autostart(context.Background()); err != nil {
		t.Fatalf("Autostart() error = %v", err)
	}
	if c.Count("Ollama") != 2 {
		t.Errorf("Count(Ollama) = %d, want capped at 2", c.Count("Ollama"))
	}
	if c.Count("ComfyUI") != 0 {
		t.Errorf("Count(ComfyUI) = %d, want 0", c.Count("ComfyUI"))
	}
}

func TestController_WritesLogfile(t *testing.T) {
	dir := t.TempDir()
	c := newTestController(t, Config{LogEnabled: true, LogDir: dir})
	sink := watchEvents(t, c)

	if _, err := c.Start(context.Background(), "Ollama", sh("echo to-log; echo oops 1>&2")); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	// The removed event is published after the log is closed.
	waitFor(t, "removed event", func() bool { return len(sink.removed()) == 1 })

	files, err := filepath.Glob(filepath.Join(dir, "Ollama_*.log"))
	if err != nil || len(files) != 1 {
		t.Fatalf("log files = %v (err %v), want one", files, err)
	}
	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	for _, want := range []string{"[STDOUT] to-log", "[STDERR] oops"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("log %q missing %q", data, want)
		}
	}
}

type fakeHistory struct {
	mu     sync.Mutex
	starts []string
	stops  map[string]StopReason
}

func (f *fakeHistory) RecordStart(_ context.Context, inst Instance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, inst.UID)
	return nil
}

func (f *fakeHistory) RecordStop(_ context.Context, inst Instance, reason StopReason) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stops == nil {
		f.stops = make(map[string]StopReason)
	}
	f.stops[inst.UID] = reason
	return nil
}

func TestController_RecordsHistory(t *testing.T) {
	c := newTestController(t, Config{})
	hist := &fakeHistory{}
	c.SetHistory(hist)

	id, err := c.Start(context.Background(), "Ollama", sleeper())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	inst, _ := c.Get("Ollama", id)
	if err := c.Kill("Ollama", id); err != nil {
		t.Fatalf("Kill() error = %v", err)
	}

	hist.mu.Lock()
	defer hist.mu.Unlock()
	if len(hist.starts) != 1 || hist.starts[0] != inst.UID {
		t.Errorf("starts = %v, want [%s]", hist.starts, inst.UID)
	}
	if hist.stops[inst.UID] != ReasonKilled {
		t.Errorf("stop reason = %q, want %q", hist.stops[inst.UID], ReasonKilled)
	}
}

func TestController_SetLoggingAndBuffer(t *testing.T) {
	c := newTestController(t, Config{})

	if err := c.SetLogging("Ollama", 1, false); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetLogging() on missing instance error = %v, want ErrNotFound", err)
	}
	if _, err := c.Buffer("Ollama", 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("Buffer() on missing instance error = %v, want ErrNotFound", err)
	}

	id, err := c.Start(context.Background(), "Ollama", sleeper())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := c.SetLogging("Ollama", id, false); err != nil {
		t.Errorf("SetLogging() error = %v", err)
	}
	if buf, err := c.Buffer("Ollama", id); err != nil || buf == nil {
		t.Errorf("Buffer() = %v, %v", buf, err)
	}
}
