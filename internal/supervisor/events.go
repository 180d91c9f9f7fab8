package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/launchdeck/internal/output"
)

// EventKind names a supervisor notification.
type EventKind string

const (
	EventInstanceCreated EventKind = "instance_created"
	EventInstanceRemoved EventKind = "instance_removed"
	EventLineAppended    EventKind = "line_appended"
	EventStatusUpdated   EventKind = "status_updated"
)

// defaultEventQueue is the dispatcher queue length when none is given.
const defaultEventQueue = 1024

// Event is a single notification delivered to sinks.
// Only the fields relevant to Kind are set.
type Event struct {
	Kind EventKind `json:"kind"`
	Time time.Time `json:"time"`

	// Instance is set for created and removed events, and for line events.
	Instance *Instance `json:"instance,omitempty"`

	// Reason is set for removed events.
	Reason StopReason `json:"reason,omitempty"`

	// Line is set for line events.
	Line *output.Line `json:"line,omitempty"`

	// Statuses is set for status events.
	Statuses []StatusSnapshot `json:"statuses,omitempty"`
}

// Sink receives dispatched events. HandleEvent is called from the
// dispatcher goroutine, one event at a time, in publication order.
type Sink interface {
	HandleEvent(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

// HandleEvent calls f(ev).
func (f SinkFunc) HandleEvent(ev Event) { f(ev) }

// Dispatcher fans events out to sinks on a single goroutine.
//
// Publish never blocks: when the queue is full the event is dropped and
// counted. Supervisory operations therefore never wait on a slow consumer.
type Dispatcher struct {
	queue   chan Event
	dropped atomic.Uint64
	logger  Logger

	mu    sync.RWMutex
	sinks []Sink
}

// NewDispatcher creates a dispatcher with the given queue length.
func NewDispatcher(queueLen int) *Dispatcher {
	if queueLen <= 0 {
		queueLen = defaultEventQueue
	}
	return &Dispatcher{
		queue:  make(chan Event, queueLen),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// Subscribe adds a sink. Sinks added while running see only later events.
func (d *Dispatcher) Subscribe(s Sink) {
	d.mu.Lock()
	d.sinks = append(d.sinks, s)
	d.mu.Unlock()
}

// Publish queues an event. It is safe on a nil dispatcher.
func (d *Dispatcher) Publish(ev Event) {
	if d == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	select {
	case d.queue <- ev:
	default:
		if d.dropped.Add(1) == 1 {
			d.logger.Warn("event queue full, dropping events", "kind", ev.Kind)
		}
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Run delivers events until the context is cancelled, then delivers
// whatever is still queued and returns.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-ctx.Done():
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ev Event) {
	// Snapshot the sink list so a sink may Subscribe without deadlocking.
	d.mu.RLock()
	sinks := make([]Sink, len(d.sinks))
	copy(sinks, d.sinks)
	d.mu.RUnlock()

	for _, s := range sinks {
		d.safeHandle(s, ev)
	}
}

func (d *Dispatcher) safeHandle(s Sink, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event sink panicked", "kind", ev.Kind, "panic", r)
		}
	}()
	s.HandleEvent(ev)
}
