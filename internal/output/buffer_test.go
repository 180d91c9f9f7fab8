package output

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// steppingClock returns a clock that advances by step on every call.
func steppingClock(step time.Duration) func() time.Time {
	var mu sync.Mutex
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(step)
		return now
	}
}

func countMarkers(lines []Line) int {
	n := 0
	for _, l := range lines {
		if l.Marker {
			n++
		}
	}
	return n
}

func TestNewBuffer_Defaults(t *testing.T) {
	b := NewBuffer(BufferConfig{})
	stats := b.Stats()

	if stats.Capacity != DefaultCapacity {
		t.Errorf("Capacity = %d, want %d", stats.Capacity, DefaultCapacity)
	}
	if stats.DisplayCap != DefaultDisplayCap {
		t.Errorf("DisplayCap = %d, want %d", stats.DisplayCap, DefaultDisplayCap)
	}
	if b.interval != DefaultCompactionInterval {
		t.Errorf("interval = %v, want %v", b.interval, DefaultCompactionInterval)
	}
}

func TestBuffer_AppendClassifiesAndSequences(t *testing.T) {
	b := NewBuffer(BufferConfig{})

	first := b.Append(Stdout, "server ready")
	second := b.Append(Stderr, "ERROR: disk full")

	if first.Seq != 1 || second.Seq != 2 {
		t.Errorf("Seq = %d,%d, want 1,2", first.Seq, second.Seq)
	}
	if second.Category != CategoryError {
		t.Errorf("Category = %q, want error", second.Category)
	}
	if second.Stream != Stderr {
		t.Errorf("Stream = %q, want stderr", second.Stream)
	}
	if second.Text != "ERROR: disk full" {
		t.Errorf("Text = %q, raw text must not change", second.Text)
	}
	if !second.Time.After(first.Time) && !second.Time.Equal(first.Time) {
		t.Error("timestamps went backwards")
	}
}

func TestBuffer_CompactionDropsOldestHalf(t *testing.T) {
	b := NewBuffer(BufferConfig{Capacity: 100, DisplayCap: 10, Now: steppingClock(time.Second)})

	for i := 1; i <= 11; i++ {
		b.Append(Stdout, fmt.Sprintf("line %d", i))
	}

	lines := b.Lines()
	// 11 lines, 5 dropped, marker inserted: 7 remain.
	if len(lines) != 7 {
		t.Fatalf("Len = %d, want 7", len(lines))
	}
	if !lines[0].Marker || lines[0].Text != markerText {
		t.Errorf("lines[0] = %+v, want marker", lines[0])
	}
	if lines[1].Text != "line 6" {
		t.Errorf("first surviving line = %q, want %q", lines[1].Text, "line 6")
	}
	if lines[0].Seq != 5 {
		t.Errorf("marker Seq = %d, want 5 (last dropped)", lines[0].Seq)
	}

	stats := b.Stats()
	if stats.Compactions != 1 {
		t.Errorf("Compactions = %d, want 1", stats.Compactions)
	}
	if stats.Dropped != 5 {
		t.Errorf("Dropped = %d, want 5", stats.Dropped)
	}
}

func TestBuffer_CompactionProperty(t *testing.T) {
	tests := []struct {
		name  string
		clock func() time.Time
	}{
		{"unthrottled", steppingClock(time.Second)},
		{"throttled", steppingClock(time.Microsecond)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			const displayCap, capacity = 10, 40
			b := NewBuffer(BufferConfig{Capacity: capacity, DisplayCap: displayCap, Now: tt.clock})

			var lastCompactions uint64
			for i := 0; i < 1000; i++ {
				b.Append(Stdout, fmt.Sprintf("line %d", i))

				if n := len(b.View(nil)); n > displayCap {
					t.Fatalf("after %d appends view has %d lines, cap %d", i+1, n, displayCap)
				}
				if n := b.Len(); n > capacity {
					t.Fatalf("after %d appends buffer holds %d lines, capacity %d", i+1, n, capacity)
				}

				stats := b.Stats()
				markers := countMarkers(b.Lines())
				if stats.Compactions > 0 && markers != 1 {
					t.Fatalf("after %d appends found %d markers, want exactly 1", i+1, markers)
				}
				if stats.Compactions == 0 && markers != 0 {
					t.Fatalf("marker present before any compaction")
				}
				if stats.Compactions > lastCompactions+1 {
					t.Fatalf("more than one compaction on a single append")
				}
				lastCompactions = stats.Compactions
			}
		})
	}
}

func TestBuffer_RateLimitDefersCompaction(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	b := NewBuffer(BufferConfig{Capacity: 100, DisplayCap: 4, CompactionInterval: time.Second, Now: clock})

	for i := 1; i <= 5; i++ {
		b.Append(Stdout, fmt.Sprintf("line %d", i))
	}
	if got := b.Stats().Compactions; got != 1 {
		t.Fatalf("Compactions = %d, want 1 (first compaction is never throttled)", got)
	}

	// Within the interval the buffer grows past the display cap.
	for i := 6; i <= 9; i++ {
		b.Append(Stdout, fmt.Sprintf("line %d", i))
	}
	if got := b.Stats().Compactions; got != 1 {
		t.Errorf("Compactions = %d, want 1 while throttled", got)
	}
	if got := b.Len(); got <= 4 {
		t.Errorf("Len = %d, want more than display cap while throttled", got)
	}
	if got := len(b.View(nil)); got != 4 {
		t.Errorf("len(View) = %d, want display cap 4", got)
	}

	now = now.Add(2 * time.Second)
	b.Append(Stdout, "line 10")
	if got := b.Stats().Compactions; got != 2 {
		t.Errorf("Compactions = %d, want 2 after interval elapsed", got)
	}
}

func TestBuffer_CapacityForcesCompaction(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	b := NewBuffer(BufferConfig{Capacity: 8, DisplayCap: 4, CompactionInterval: time.Hour, Now: clock})

	for i := 0; i < 50; i++ {
		b.Append(Stdout, "x")
		if b.Len() > 8 {
			t.Fatalf("Len = %d exceeds capacity 8", b.Len())
		}
	}
	if b.Stats().Compactions < 2 {
		t.Errorf("Compactions = %d, want forced compactions despite rate limit", b.Stats().Compactions)
	}
}

func TestBuffer_SinceCursor(t *testing.T) {
	b := NewBuffer(BufferConfig{Capacity: 100, DisplayCap: 4, Now: steppingClock(time.Second)})

	for i := 1; i <= 4; i++ {
		b.Append(Stdout, fmt.Sprintf("line %d", i))
	}

	page := b.Since(0, nil)
	if len(page.Lines) != 4 || page.Cursor != 4 {
		t.Fatalf("Since(0) = %d lines cursor %d, want 4 lines cursor 4", len(page.Lines), page.Cursor)
	}

	// Triggers compaction: lines 1-2 dropped, marker carries seq 2.
	b.Append(Stdout, "line 5")

	page = b.Since(4, nil)
	if len(page.Lines) != 1 || page.Lines[0].Text != "line 5" {
		t.Errorf("Since(4) = %+v, want only line 5", page.Lines)
	}
	if page.Cursor != 5 {
		t.Errorf("Cursor = %d, want 5", page.Cursor)
	}

	page = b.Since(1, nil)
	if len(page.Lines) != 4 || !page.Lines[0].Marker {
		t.Errorf("Since(1) = %+v, want marker then lines 3-5", page.Lines)
	}

	page = b.Since(5, nil)
	if len(page.Lines) != 0 || page.Cursor != 5 {
		t.Errorf("Since(5) = %d lines cursor %d, want none and cursor 5", len(page.Lines), page.Cursor)
	}
}

func TestBuffer_SinceTruncatesToDisplayCap(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBuffer(BufferConfig{Capacity: 100, DisplayCap: 4, CompactionInterval: time.Hour, Now: func() time.Time { return now }})

	for i := 1; i <= 7; i++ {
		b.Append(Stdout, fmt.Sprintf("line %d", i))
	}

	page := b.Since(0, nil)
	if !page.Truncated {
		t.Error("Truncated = false, want true")
	}
	if len(page.Lines) != 4 {
		t.Fatalf("len(Lines) = %d, want 4", len(page.Lines))
	}
	if page.Lines[3].Text != "line 7" {
		t.Errorf("last line = %q, want %q", page.Lines[3].Text, "line 7")
	}
}

func TestBuffer_SinceAppliesFilter(t *testing.T) {
	b := NewBuffer(BufferConfig{})
	b.Append(Stderr, "ERROR: disk full")
	b.Append(Stdout, "WARNING: slow")
	b.Append(Stdout, "plain")

	var f Filter
	f.SetWarningsOnly(true)
	page := b.Since(0, &f)

	if len(page.Lines) != 3 {
		t.Fatalf("len(Lines) = %d, want 3 (filtered lines stay in the page)", len(page.Lines))
	}
	want := []bool{false, true, false}
	for i, l := range page.Lines {
		if l.Displayable != want[i] {
			t.Errorf("Lines[%d].Displayable = %v, want %v", i, l.Displayable, want[i])
		}
	}
}

func TestBuffer_ClearKeepsSequence(t *testing.T) {
	b := NewBuffer(BufferConfig{})
	b.Append(Stdout, "a")
	b.Append(Stdout, "b")
	b.Clear()

	if b.Len() != 0 {
		t.Errorf("Len = %d after Clear, want 0", b.Len())
	}
	next := b.Append(Stdout, "c")
	if next.Seq != 3 {
		t.Errorf("Seq after Clear = %d, want 3", next.Seq)
	}
	if page := b.Since(2, nil); len(page.Lines) != 1 {
		t.Errorf("Since(2) = %d lines, want 1", len(page.Lines))
	}
}

func TestBuffer_ReleaseRejectsAppends(t *testing.T) {
	b := NewBuffer(BufferConfig{})
	b.Append(Stdout, "a")
	b.Release()

	if l := b.Append(Stdout, "b"); l.Seq != 0 {
		t.Errorf("Append after Release returned Seq %d, want 0", l.Seq)
	}
	if b.Len() != 0 {
		t.Errorf("Len = %d after Release, want 0", b.Len())
	}
}

func TestBuffer_ConcurrentWriters(t *testing.T) {
	b := NewBuffer(BufferConfig{Capacity: 100000, DisplayCap: 100000})

	var wg sync.WaitGroup
	for _, s := range []Stream{Stdout, Stderr} {
		wg.Add(1)
		go func(s Stream) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				b.Append(s, fmt.Sprintf("%s %d", s, i))
			}
		}(s)
	}
	wg.Wait()

	lines := b.Lines()
	if len(lines) != 2000 {
		t.Fatalf("Len = %d, want 2000", len(lines))
	}

	// Order is preserved within each stream.
	next := map[Stream]int{}
	for _, l := range lines {
		want := fmt.Sprintf("%s %d", l.Stream, next[l.Stream])
		if l.Text != want {
			t.Fatalf("got %q, want %q", l.Text, want)
		}
		next[l.Stream]++
	}
}
