package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Format selects an export representation.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatTSV  Format = "tsv"
)

// ParseFormat validates a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatText, FormatJSON, FormatCSV, FormatTSV:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported export format: %s (supported: text, json, csv, tsv)", s)
	}
}

// Record is the structured export form of a line.
type Record struct {
	Seq      uint64    `json:"seq"`
	Time     time.Time `json:"time"`
	Stream   Stream    `json:"stream"`
	Category Category  `json:"category"`
	Text     string    `json:"text"`
}

// tableHeader is the header row of delimited exports.
var tableHeader = []string{"seq", "time", "stream", "category", "text"}

// Text returns every stored line joined with newlines.
func (b *Buffer) Text() string {
	lines := b.Lines()
	texts := make([]string, len(lines))
	for i, l := range lines {
		texts[i] = l.Text
	}
	return strings.Join(texts, "\n")
}

// Records returns a point-in-time structured copy of the buffer.
// Compaction markers are omitted since they carry no output.
func (b *Buffer) Records() []Record {
	lines := b.Lines()
	records := make([]Record, 0, len(lines))
	for _, l := range lines {
		if l.Marker {
			continue
		}
		records = append(records, Record{
			Seq:      l.Seq,
			Time:     l.Time,
			Stream:   l.Stream,
			Category: l.Category,
			Text:     l.Text,
		})
	}
	return records
}

// Export writes a snapshot of the buffer to w in the given format.
func (b *Buffer) Export(w io.Writer, format Format) error {
	switch format {
	case FormatText:
		text := b.Text()
		if text != "" {
			text += "\n"
		}
		_, err := io.WriteString(w, text)
		return err
	case FormatJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(b.Records())
	case FormatCSV:
		return writeTable(w, ',', b.Records())
	case FormatTSV:
		return writeTable(w, '\t', b.Records())
	default:
		return fmt.Errorf("unsupported export format: %s", format)
	}
}

// writeTable writes records as delimited rows with a header.
func writeTable(w io.Writer, comma rune, records []Record) error {
	writer := csv.NewWriter(w)
	writer.Comma = comma

	if err := writer.Write(tableHeader); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, r := range records {
		row := []string{
			strconv.FormatUint(r.Seq, 10),
			r.Time.Format(time.RFC3339Nano),
			string(r.Stream),
			string(r.Category),
			r.Text,
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("writing row %d: %w", r.Seq, err)
		}
	}

	writer.Flush()
	return writer.Error()
}
