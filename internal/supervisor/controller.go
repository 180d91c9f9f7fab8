package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/nerrad567/launchdeck/internal/output"
	"github.com/nerrad567/launchdeck/internal/process"
)

// Controller defaults.
const (
	DefaultGracefulTimeout     = 10 * time.Second
	DefaultBulkGracefulTimeout = 5 * time.Second
	DefaultExitWaitTimeout     = 5 * time.Second
	DefaultDrainTimeout        = time.Second

	historyTimeout = 5 * time.Second
)

// Logger defines the logging interface used by the Controller.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// HistoryRecorder persists instance lifecycles. Failures are logged and
// never affect the supervisory operation that triggered them.
type HistoryRecorder interface {
	RecordStart(ctx context.Context, inst Instance) error
	RecordStop(ctx context.Context, inst Instance, reason StopReason) error
}

// ReclaimHook runs after KillAll, typically to free GPU memory held by
// processes the supervisor never owned.
type ReclaimHook func(ctx context.Context) error

// Config tunes a Controller. Zero durations take the package defaults.
type Config struct {
	MaxInstancesPerType int

	// GracefulTimeout is how long Stop waits after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// BulkGracefulTimeout replaces GracefulTimeout for StopAll.
	BulkGracefulTimeout time.Duration

	// ExitWaitTimeout bounds the wait after SIGKILL.
	ExitWaitTimeout time.Duration

	// DrainTimeout bounds how long cleanup waits for readers to reach EOF
	// before closing the pipes underneath them.
	DrainTimeout time.Duration

	Buffer output.BufferConfig

	LogEnabled bool
	LogDir     string

	// PublishLines emits an EventLineAppended per captured line.
	PublishLines bool
}

func (c Config) withDefaults() Config {
	if c.GracefulTimeout <= 0 {
		c.GracefulTimeout = DefaultGracefulTimeout
	}
	if c.BulkGracefulTimeout <= 0 {
		c.BulkGracefulTimeout = DefaultBulkGracefulTimeout
	}
	if c.ExitWaitTimeout <= 0 {
		c.ExitWaitTimeout = DefaultExitWaitTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	return c
}

// Controller is the synchronous supervisory API.
//
// Operations are safe to call from any goroutine. Start, Stop and Kill
// block for at most their configured timeouts. Each running instance has
// a watcher goroutine that removes it when the child exits on its own.
type Controller struct {
	cfg      Config
	catalog  *Catalog
	registry *Registry
	events   *Dispatcher
	history  HistoryRecorder
	reclaim  ReclaimHook
	logger   Logger

	stopRequested atomic.Bool

	// beforeCommit runs just before a new handle is registered.
	beforeCommit func(*Handle)

	// Removed instances are kept for the poller only once one is attached.
	trackRetired atomic.Bool
	retiredMu    sync.Mutex
	retired      []Instance
}

// NewController creates a controller over the given catalog.
func NewController(cfg Config, catalog *Catalog) *Controller {
	cfg = cfg.withDefaults()
	if catalog == nil {
		catalog = NewCatalog(nil)
	}
	return &Controller{
		cfg:      cfg,
		catalog:  catalog,
		registry: NewRegistry(cfg.MaxInstancesPerType),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the controller.
func (c *Controller) SetLogger(logger Logger) {
	c.logger = logger
}

// SetEvents sets the dispatcher that receives lifecycle events.
func (c *Controller) SetEvents(d *Dispatcher) {
	c.events = d
}

// SetHistory sets the lifecycle recorder.
func (c *Controller) SetHistory(h HistoryRecorder) {
	c.history = h
}

// SetReclaimHook sets the hook run at the end of KillAll.
func (c *Controller) SetReclaimHook(hook ReclaimHook) {
	c.reclaim = hook
}

// Catalog returns the process type catalog.
func (c *Controller) Catalog() *Catalog {
	return c.catalog
}

// StartInstance starts one instance of a catalog type with its configured
// launch parameters.
func (c *Controller) StartInstance(ctx context.Context, typeName string) (int, error) {
	pt, ok := c.catalog.Lookup(typeName)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownType, typeName)
	}
	return c.Start(ctx, typeName, pt.Launch())
}

// Start spawns a child for typeName and returns its positional id.
//
// Returns ErrCapacityExceeded when the type is full, ErrSpawn when the
// child cannot be created, and ErrCancelled when a stop request or the
// context ends the start before the child is registered.
func (c *Controller) Start(ctx context.Context, typeName string, launch LaunchSpec) (int, error) {
	if err := c.checkCancelled(ctx); err != nil {
		return 0, err
	}

	res, err := c.registry.Reserve(typeName)
	if err != nil {
		return 0, err
	}

	child, err := process.Spawn(process.Spec{
		Name:    typeName,
		Command: launch.Command,
		Args:    launch.Args,
		Env:     launch.Env,
		WorkDir: launch.WorkDir,
	})
	if err != nil {
		res.Cancel()
		c.logger.Error("spawn failed", "type", typeName, "command", launch.Command, "error", err)
		return 0, fmt.Errorf("%w: %w", ErrSpawn, err)
	}

	if err := c.checkCancelled(ctx); err != nil {
		res.Cancel()
		c.discard(child)
		return 0, err
	}

	h := c.newHandle(typeName, launch, child)
	h.startReaders(func(s output.Stream, text string) { c.ingest(h, s, text) }, c.logger)
	h.setState(StateRunning)
	if c.beforeCommit != nil {
		c.beforeCommit(h)
	}
	id, err := res.Commit(h)
	if err == nil {
		err = c.checkCancelled(ctx)
	}

	// A stop request or KillAll that raced the spawn must not leave an orphan.
	if err != nil {
		close(h.announced)
		if h.transition(StateForceKilling) {
			c.forceKill(h)
			c.finalize(h, ReasonCancelled)
		}
		return 0, err
	}

	// The start is recorded and announced before anything can finalize
	// the handle, so its stop always lands on an existing history row.
	inst := h.snapshot(id)
	c.logger.Info("instance started", "type", typeName, "id", id, "uid", h.uid, "pid", inst.PID)
	c.events.Publish(Event{Kind: EventInstanceCreated, Instance: &inst})
	c.recordStart(inst)
	close(h.announced)

	go c.watch(h)
	return id, nil
}

func (c *Controller) checkCancelled(ctx context.Context) error {
	if c.stopRequested.Load() {
		return fmt.Errorf("%w: stop requested", ErrCancelled)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return nil
}

func (c *Controller) newHandle(typeName string, launch LaunchSpec, child *process.Child) *Handle {
	h := &Handle{
		uid:      uuid.NewString(),
		typeName: typeName,
		launch:   launch,
		child:    child,
		buffer:   output.NewBuffer(c.cfg.Buffer),
		state:    StateSpawning,

		announced: make(chan struct{}),
	}

	if c.cfg.LogEnabled {
		lf, err := output.OpenLogfile(c.cfg.LogDir, typeName, h.uid, child.StartedAt(), c.logger)
		if err != nil {
			c.logger.Warn("instance log unavailable", "type", typeName, "uid", h.uid, "error", err)
		}
		h.logfile = lf
	}
	return h
}

// discard kills a child that was never registered.
func (c *Controller) discard(child *process.Child) {
	if err := child.Kill(); err != nil {
		c.logger.Warn("killing abandoned child failed", "pid", child.PID(), "error", err)
	}
	if !child.WaitExit(c.cfg.ExitWaitTimeout) {
		c.logger.Error("abandoned child did not exit", "pid", child.PID())
	}
	child.CloseOutput()
}

func (c *Controller) ingest(h *Handle, stream output.Stream, text string) {
	line := h.buffer.Append(stream, text)
	h.logfile.Write(stream, text)

	if c.cfg.PublishLines {
		c.events.Publish(Event{
			Kind:     EventLineAppended,
			Time:     line.Time,
			Instance: &Instance{Type: h.typeName, UID: h.uid},
			Line:     &line,
		})
	}
}

// watch removes the handle when its child exits without being asked to.
func (c *Controller) watch(h *Handle) {
	<-h.child.Done()
	if !h.transition(StateExitedUnexpectedly) {
		// A stop or kill owns the cleanup.
		return
	}
	c.logger.Warn("instance exited unexpectedly",
		"type", h.typeName, "uid", h.uid, "pid", h.PID(),
		"exit_code", h.child.ExitCode(), "error", h.child.ExitErr())
	c.finalize(h, ReasonExited)
}

// Stop sends SIGTERM, escalates to SIGKILL after the graceful timeout,
// and removes the instance.
func (c *Controller) Stop(typeName string, id int) error {
	h, err := c.registry.Get(typeName, id)
	if err != nil {
		return err
	}
	return c.stopHandle(h, c.cfg.GracefulTimeout)
}

func (c *Controller) stopHandle(h *Handle, grace time.Duration) error {
	if !h.transition(StateStoppingGraceful) {
		return fmt.Errorf("%w: %s %s is %s", ErrNotFound, h.typeName, h.uid, h.State())
	}

	c.logger.Info("stopping instance", "type", h.typeName, "uid", h.uid, "pid", h.PID())
	if err := h.child.Terminate(); err != nil {
		c.logger.Warn("sending SIGTERM failed", "type", h.typeName, "uid", h.uid, "error", err)
	}

	if !h.child.WaitExit(grace) {
		c.logger.Warn("graceful stop timed out, killing",
			"type", h.typeName, "uid", h.uid, "timeout", grace, "error", errTerminationTimeout)
		if h.transition(StateForceKilling) {
			c.forceKill(h)
		} else {
			// A concurrent Kill is escalating; wait for it.
			h.child.WaitExit(c.cfg.ExitWaitTimeout)
		}
	}

	c.finalize(h, ReasonStopped)
	return nil
}

// Kill sends SIGKILL immediately and removes the instance.
func (c *Controller) Kill(typeName string, id int) error {
	h, err := c.registry.Get(typeName, id)
	if err != nil {
		return err
	}
	return c.killHandle(h)
}

func (c *Controller) killHandle(h *Handle) error {
	if !h.transition(StateForceKilling) {
		return fmt.Errorf("%w: %s %s is %s", ErrNotFound, h.typeName, h.uid, h.State())
	}
	c.logger.Info("killing instance", "type", h.typeName, "uid", h.uid, "pid", h.PID())
	c.forceKill(h)
	c.finalize(h, ReasonKilled)
	return nil
}

func (c *Controller) forceKill(h *Handle) {
	if err := h.child.Kill(); err != nil {
		c.logger.Warn("sending SIGKILL failed", "type", h.typeName, "uid", h.uid, "error", err)
	}
	if !h.child.WaitExit(c.cfg.ExitWaitTimeout) {
		c.logger.Error("process did not exit after SIGKILL",
			"type", h.typeName, "uid", h.uid, "pid", h.PID(), "timeout", c.cfg.ExitWaitTimeout)
	}
}

// Restart stops an instance and starts a new one with the same launch
// parameters. The new instance is appended, so its id may differ.
func (c *Controller) Restart(ctx context.Context, typeName string, id int) (int, error) {
	h, err := c.registry.Get(typeName, id)
	if err != nil {
		return 0, err
	}
	launch := h.launch
	if err := c.stopHandle(h, c.cfg.GracefulTimeout); err != nil {
		return 0, err
	}
	return c.Start(ctx, typeName, launch)
}

// KillAll kills every instance of every type in parallel, clears the
// registry and runs the reclaim hook. Per-instance failures are joined.
func (c *Controller) KillAll(ctx context.Context) error {
	err := c.forEach(c.registry.All(), c.killHandle)

	for _, h := range c.registry.Clear() {
		// Registered while the kill pass ran.
		if kerr := c.killHandle(h); kerr != nil && !errors.Is(kerr, ErrNotFound) {
			err = errors.Join(err, kerr)
		}
	}

	if c.reclaim != nil {
		if rerr := c.reclaim(ctx); rerr != nil {
			c.logger.Warn("reclaim hook failed", "error", rerr)
			err = errors.Join(err, fmt.Errorf("reclaim: %w", rerr))
		}
	}
	return err
}

// StopAll cancels in-flight starts and stops every instance in parallel
// using the bulk graceful timeout.
func (c *Controller) StopAll(_ context.Context) error {
	c.RequestStop()
	return c.forEach(c.registry.All(), func(h *Handle) error {
		return c.stopHandle(h, c.cfg.BulkGracefulTimeout)
	})
}

func (c *Controller) forEach(handles []*Handle, fn func(*Handle) error) error {
	p := pool.New().WithErrors()
	for _, h := range handles {
		h := h
		p.Go(func() error {
			if err := fn(h); err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
			return nil
		})
	}
	return p.Wait()
}

// RequestStop makes every in-flight and future Start return ErrCancelled
// until ClearStopRequest is called.
func (c *Controller) RequestStop() {
	c.stopRequested.Store(true)
}

// ClearStopRequest re-enables Start.
func (c *Controller) ClearStopRequest() {
	c.stopRequested.Store(false)
}

// StopRequested reports whether starts are currently refused.
func (c *Controller) StopRequested() bool {
	return c.stopRequested.Load()
}

// finalize releases a handle's resources exactly once.
func (c *Controller) finalize(h *Handle, reason StopReason) {
	h.finalizeOnce.Do(func() {
		id := c.registry.IDOf(h)
		c.registry.RemoveHandle(h)

		// Let readers reach EOF so trailing output is kept, then close the
		// pipes in case a grandchild still holds the write ends.
		if !h.waitReaders(c.cfg.DrainTimeout) {
			c.logger.Debug("output still open after exit, closing pipes", "type", h.typeName, "uid", h.uid)
		}
		h.child.CloseOutput()
		if !h.waitReaders(c.cfg.DrainTimeout) {
			c.logger.Warn("output readers did not finish", "type", h.typeName, "uid", h.uid)
		}

		if err := h.logfile.Close(); err != nil {
			c.logger.Warn("closing instance log failed", "type", h.typeName, "uid", h.uid, "error", err)
		}

		h.setState(StateStopped)
		inst := h.snapshot(id)
		h.buffer.Release()

		<-h.announced
		c.retire(inst)

		c.logger.Info("instance removed", "type", h.typeName, "uid", h.uid, "reason", reason, "exit_code", inst.ExitCode)
		c.events.Publish(Event{Kind: EventInstanceRemoved, Instance: &inst, Reason: reason})
		c.recordStop(inst, reason)
	})
}

func (c *Controller) retire(inst Instance) {
	if !c.trackRetired.Load() {
		return
	}
	c.retiredMu.Lock()
	c.retired = append(c.retired, inst)
	c.retiredMu.Unlock()
}

// drainRetired returns and forgets instances removed since the last call.
func (c *Controller) drainRetired() []Instance {
	c.retiredMu.Lock()
	defer c.retiredMu.Unlock()
	out := c.retired
	c.retired = nil
	return out
}

func (c *Controller) recordStart(inst Instance) {
	if c.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := c.history.RecordStart(ctx, inst); err != nil {
		c.logger.Warn("recording instance start failed", "uid", inst.UID, "error", err)
	}
}

func (c *Controller) recordStop(inst Instance, reason StopReason) {
	if c.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := c.history.RecordStop(ctx, inst, reason); err != nil {
		c.logger.Warn("recording instance stop failed", "uid", inst.UID, "error", err)
	}
}

// Get returns a snapshot of one instance.
func (c *Controller) Get(typeName string, id int) (Instance, error) {
	h, err := c.registry.Get(typeName, id)
	if err != nil {
		return Instance{}, err
	}
	return h.snapshot(id), nil
}

// List returns snapshots of a type's instances in id order.
func (c *Controller) List(typeName string) []Instance {
	handles := c.registry.List(typeName)
	out := make([]Instance, len(handles))
	for i, h := range handles {
		out[i] = h.snapshot(i + 1)
	}
	return out
}

// ListAll returns snapshots of every instance, catalog types first.
func (c *Controller) ListAll() []Instance {
	var out []Instance
	for _, e := range c.live() {
		out = append(out, e.handle.snapshot(e.id))
	}
	return out
}

// Count returns the number of live instances of a type.
func (c *Controller) Count(typeName string) int {
	return c.registry.Count(typeName)
}

// MaxInstances returns the per-type cap.
func (c *Controller) MaxInstances() int {
	return c.registry.Max()
}

type liveEntry struct {
	handle *Handle
	id     int
}

// live lists registered handles with their current ids, catalog types
// first in declaration order.
func (c *Controller) live() []liveEntry {
	seen := make(map[string]bool)
	var out []liveEntry
	add := func(typeName string) {
		if seen[typeName] {
			return
		}
		seen[typeName] = true
		for i, h := range c.registry.List(typeName) {
			out = append(out, liveEntry{handle: h, id: i + 1})
		}
	}
	for _, name := range c.catalog.Names() {
		add(name)
	}
	for _, name := range c.registry.Types() {
		add(name)
	}
	return out
}

// BufferSince returns lines appended after cursor, rendered through filter.
func (c *Controller) BufferSince(typeName string, id int, cursor uint64, filter *output.Filter) (output.Page, error) {
	h, err := c.registry.Get(typeName, id)
	if err != nil {
		return output.Page{}, err
	}
	return h.buffer.Since(cursor, filter), nil
}

// Buffer returns the output buffer of an instance.
func (c *Controller) Buffer(typeName string, id int) (*output.Buffer, error) {
	h, err := c.registry.Get(typeName, id)
	if err != nil {
		return nil, err
	}
	return h.buffer, nil
}

// SetLogging toggles the per-instance log file.
func (c *Controller) SetLogging(typeName string, id int, on bool) error {
	h, err := c.registry.Get(typeName, id)
	if err != nil {
		return err
	}
	h.logfile.SetEnabled(on)
	return nil
}

// Autostart launches the configured number of instances for every
// catalog type. Failures are joined; successful starts are kept.
func (c *Controller) Autostart(ctx context.Context) error {
	var errs []error
	for _, pt := range c.catalog.Types() {
		n := min(pt.Autostart, c.registry.Max())
		for i := 0; i < n; i++ {
			if _, err := c.Start(ctx, pt.Name, pt.Launch()); err != nil {
				errs = append(errs, fmt.Errorf("autostart %s: %w", pt.Name, err))
				break
			}
		}
	}
	return errors.Join(errs...)
}
