package output

import "time"

// Stream identifies which child pipe a line came from.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Tag returns the upper-case label used in log files, e.g. "STDERR".
func (s Stream) Tag() string {
	switch s {
	case Stdout:
		return "STDOUT"
	case Stderr:
		return "STDERR"
	default:
		return "OUTPUT"
	}
}

// Category is the severity assigned to a line by Classify.
type Category string

const (
	CategoryError   Category = "error"
	CategoryWarning Category = "warning"
	CategorySuccess Category = "success"
	CategoryInfo    Category = "info"
	CategoryDebug   Category = "debug"
)

// markerText is the synthetic line inserted by compaction.
const markerText = "--- previous output cleared ---"

// Line is one captured output line. Lines are immutable once appended.
type Line struct {
	// Seq increases by one per appended line within a buffer and doubles
	// as the read cursor for Buffer.Since.
	Seq uint64 `json:"seq"`

	// Time is taken with time.Now and so carries a monotonic reading.
	Time     time.Time `json:"time"`
	Stream   Stream    `json:"stream"`
	Text     string    `json:"text"`
	Category Category  `json:"category"`

	// Marker is set on the synthetic line that replaces compacted output.
	Marker bool `json:"marker,omitempty"`
}

// RenderedLine pairs a line with the outcome of a filter for one read.
// Displayability is never stored on the Line itself.
type RenderedLine struct {
	Line
	Displayable bool `json:"displayable"`
}
