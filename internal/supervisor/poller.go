package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/nerrad567/launchdeck/internal/process"
)

// DefaultPollInterval is the status refresh period when none is given.
const DefaultPollInterval = 2 * time.Second

// Status values reported by the poller. They extend State with "unknown"
// for instances whose inspection failed.
const (
	StatusRunning = "running"
	StatusStopped = "stopped"
	StatusUnknown = "unknown"
)

// StatusSnapshot is one instance's resource usage at a poll.
type StatusSnapshot struct {
	Type          string    `json:"type"`
	ID            int       `json:"id"`
	UID           string    `json:"uid"`
	PID           int       `json:"pid"`
	Status        string    `json:"status"`
	Running       bool      `json:"running"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryMB      float64   `json:"memory_mb"`
	PolledAt      time.Time `json:"polled_at"`
}

// Poller periodically inspects every live instance and publishes an
// immutable snapshot. Readers never block the poll and vice versa.
type Poller struct {
	controller *Controller
	inspector  process.Inspector
	interval   time.Duration
	events     *Dispatcher
	logger     Logger
	now        func() time.Time

	latest atomic.Pointer[[]StatusSnapshot]
}

// NewPoller creates a poller over the controller's instances.
func NewPoller(controller *Controller, inspector process.Inspector, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	controller.trackRetired.Store(true)
	return &Poller{
		controller: controller,
		inspector:  inspector,
		interval:   interval,
		logger:     noopLogger{},
		now:        time.Now,
	}
}

// SetLogger sets the logger for the poller.
func (p *Poller) SetLogger(logger Logger) {
	p.logger = logger
}

// SetEvents sets the dispatcher that receives status events.
func (p *Poller) SetEvents(d *Dispatcher) {
	p.events = d
}

// Run polls immediately and then every interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Snapshot returns the most recent poll result. The slice must not be modified.
func (p *Poller) Snapshot() []StatusSnapshot {
	if s := p.latest.Load(); s != nil {
		return *s
	}
	return nil
}

// Poll inspects every instance once, publishes the snapshot and returns it.
// Instances removed since the previous poll are reported once as stopped.
func (p *Poller) Poll(ctx context.Context) []StatusSnapshot {
	entries := p.controller.live()
	now := p.now()

	snaps := make([]StatusSnapshot, len(entries))
	var wg conc.WaitGroup
	for i, e := range entries {
		i, e := i, e
		wg.Go(func() {
			snaps[i] = p.inspect(ctx, e, now)
		})
	}
	wg.Wait()

	for _, inst := range p.controller.drainRetired() {
		snaps = append(snaps, StatusSnapshot{
			Type:     inst.Type,
			ID:       inst.ID,
			UID:      inst.UID,
			PID:      inst.PID,
			Status:   StatusStopped,
			PolledAt: now,
		})
	}

	p.latest.Store(&snaps)
	p.events.Publish(Event{Kind: EventStatusUpdated, Time: now, Statuses: snaps})
	return snaps
}

func (p *Poller) inspect(ctx context.Context, e liveEntry, now time.Time) StatusSnapshot {
	h := e.handle
	snap := StatusSnapshot{
		Type:     h.typeName,
		ID:       e.id,
		UID:      h.uid,
		PID:      h.PID(),
		PolledAt: now,
	}

	ctx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()

	usage, err := p.inspector.Inspect(ctx, snap.PID)
	switch {
	case errors.Is(err, process.ErrProcessGone):
		snap.Status = StatusStopped
		return snap
	case err != nil:
		p.logger.Debug("inspecting instance failed", "type", snap.Type, "uid", snap.UID, "pid", snap.PID, "error", err)
		snap.Status = StatusUnknown
		return snap
	case !usage.Alive:
		snap.Status = StatusStopped
		return snap
	}

	snap.Status = StatusRunning
	snap.Running = true
	snap.CPUPercent = usage.CPUPercent
	snap.MemoryMB = usage.MemoryMB()
	if started := h.StartedAt(); !started.IsZero() {
		snap.UptimeSeconds = now.Sub(started).Seconds()
	}
	return snap
}
