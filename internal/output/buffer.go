package output

import (
	"sort"
	"sync"
	"time"
)

// Buffer defaults.
const (
	DefaultCapacity           = 10000
	DefaultDisplayCap         = 1000
	DefaultCompactionInterval = 500 * time.Millisecond
)

// BufferConfig sizes a Buffer. Zero values take the defaults above.
type BufferConfig struct {
	// Capacity is the hard limit on stored lines.
	Capacity int

	// DisplayCap is the most lines a view returns. Exceeding it triggers
	// compaction.
	DisplayCap int

	// CompactionInterval is the minimum spacing between compactions unless
	// Capacity forces one.
	CompactionInterval time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Buffer is the bounded, ordered line store for one instance.
//
// Both stream readers of an instance append concurrently; callers read
// through snapshot copies. When the line count passes DisplayCap the oldest
// half is discarded and a single marker line takes its place. Compactions
// are spaced by CompactionInterval, except that reaching Capacity always
// compacts, so Len never exceeds Capacity.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Buffer struct {
	capacity   int
	displayCap int
	interval   time.Duration
	now        func() time.Time

	mu             sync.RWMutex
	lines          []Line
	seq            uint64
	lastCompaction time.Time
	compactions    uint64
	dropped        uint64
	closed         bool
}

// BufferStats summarises a buffer for status displays.
type BufferStats struct {
	Len         int    `json:"len"`
	Capacity    int    `json:"capacity"`
	DisplayCap  int    `json:"display_cap"`
	Appended    uint64 `json:"appended"`
	Dropped     uint64 `json:"dropped"`
	Compactions uint64 `json:"compactions"`
}

// Page is the result of an incremental read.
type Page struct {
	Lines []RenderedLine `json:"lines"`

	// Cursor is the value to pass to the next Since call.
	Cursor uint64 `json:"cursor"`

	// Truncated is set when more lines were pending than the display cap
	// allows; only the newest were returned.
	Truncated bool `json:"truncated,omitempty"`
}

// NewBuffer creates an empty buffer.
func NewBuffer(cfg BufferConfig) *Buffer {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.DisplayCap <= 0 {
		cfg.DisplayCap = DefaultDisplayCap
	}
	if cfg.DisplayCap < 2 {
		cfg.DisplayCap = 2
	}
	if cfg.Capacity < cfg.DisplayCap {
		cfg.Capacity = cfg.DisplayCap
	}
	switch {
	case cfg.CompactionInterval == 0:
		cfg.CompactionInterval = DefaultCompactionInterval
	case cfg.CompactionInterval < 0:
		// Negative disables rate limiting.
		cfg.CompactionInterval = 0
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Buffer{
		capacity:   cfg.Capacity,
		displayCap: cfg.DisplayCap,
		interval:   cfg.CompactionInterval,
		now:        cfg.Now,
		lines:      make([]Line, 0, cfg.DisplayCap+1),
	}
}

// Append classifies text and stores it as the next line.
// Appends after Release are ignored and return a zero Line.
func (b *Buffer) Append(stream Stream, text string) Line {
	now := b.now()
	category := Classify(text)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return Line{}
	}

	b.seq++
	line := Line{
		Seq:      b.seq,
		Time:     now,
		Stream:   stream,
		Text:     text,
		Category: category,
	}
	b.lines = append(b.lines, line)
	b.maybeCompact(now)

	return line
}

// maybeCompact applies the compaction policy (caller must hold lock).
func (b *Buffer) maybeCompact(now time.Time) {
	n := len(b.lines)
	if n <= b.displayCap {
		return
	}

	forced := n >= b.capacity
	if !forced && !b.lastCompaction.IsZero() && now.Sub(b.lastCompaction) < b.interval {
		return
	}

	drop := n / 2
	lastDropped := b.lines[drop-1]

	// The marker reuses the last dropped sequence number so it sorts between
	// the discarded and surviving lines. A reader whose cursor was already
	// past the dropped range never sees it.
	marker := Line{
		Seq:      lastDropped.Seq,
		Time:     now,
		Stream:   lastDropped.Stream,
		Text:     markerText,
		Category: CategoryInfo,
		Marker:   true,
	}

	kept := make([]Line, 0, max(b.displayCap+1, n-drop+1))
	kept = append(kept, marker)
	kept = append(kept, b.lines[drop:]...)

	// A previous marker always sits at index 0, so it is among the dropped lines.
	if b.lines[0].Marker {
		b.dropped += uint64(drop - 1)
	} else {
		b.dropped += uint64(drop)
	}

	b.lines = kept
	b.lastCompaction = now
	b.compactions++
}

// Since returns lines appended after cursor, rendered through filter
// (nil shows everything). Pass 0 to read from the start.
//
// At most DisplayCap lines are returned; when more are pending the oldest
// are skipped and Truncated is set.
func (b *Buffer) Since(cursor uint64, filter *Filter) Page {
	b.mu.RLock()
	start := sort.Search(len(b.lines), func(i int) bool {
		return b.lines[i].Seq > cursor
	})
	pending := b.lines[start:]

	page := Page{Cursor: cursor}
	if len(pending) > b.displayCap {
		pending = pending[len(pending)-b.displayCap:]
		page.Truncated = true
	}
	snapshot := make([]Line, len(pending))
	copy(snapshot, pending)
	b.mu.RUnlock()

	if len(snapshot) > 0 {
		page.Cursor = snapshot[len(snapshot)-1].Seq
	}
	page.Lines = filter.Render(snapshot)
	return page
}

// View returns the newest DisplayCap lines rendered through filter.
func (b *Buffer) View(filter *Filter) []RenderedLine {
	b.mu.RLock()
	lines := b.lines
	if len(lines) > b.displayCap {
		lines = lines[len(lines)-b.displayCap:]
	}
	snapshot := make([]Line, len(lines))
	copy(snapshot, lines)
	b.mu.RUnlock()

	return filter.Render(snapshot)
}

// Lines returns a copy of every stored line, oldest first.
func (b *Buffer) Lines() []Line {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Line, len(b.lines))
	copy(out, b.lines)
	return out
}

// Len returns the number of stored lines, including any marker.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.lines)
}

// LastSeq returns the sequence number of the newest appended line.
func (b *Buffer) LastSeq() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}

// Clear discards every stored line. Sequence numbers keep increasing so
// existing cursors stay valid.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, l := range b.lines {
		if !l.Marker {
			b.dropped++
		}
	}
	b.lines = make([]Line, 0, b.displayCap+1)
}

// Release frees the stored lines and rejects further appends.
// Called when the owning instance is removed.
func (b *Buffer) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.lines = nil
}

// Stats returns counters for the buffer.
func (b *Buffer) Stats() BufferStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return BufferStats{
		Len:         len(b.lines),
		Capacity:    b.capacity,
		DisplayCap:  b.displayCap,
		Appended:    b.seq,
		Dropped:     b.dropped,
		Compactions: b.compactions,
	}
}
