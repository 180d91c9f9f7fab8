package output

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	// readBufferSize is the bufio buffer per stream.
	readBufferSize = 64 * 1024

	// maxLineBytes bounds a single line; longer runs without a newline are
	// split so a tool printing a progress bar forever cannot exhaust memory.
	maxLineBytes = 1024 * 1024
)

// StreamReader turns one child pipe into lines.
//
// Bytes are decoded as UTF-8 with invalid sequences replaced by U+FFFD,
// so malformed output never aborts capture. Line terminators (LF or CRLF)
// are stripped; a final unterminated line is still delivered.
type StreamReader struct {
	stream Stream
	src    io.Reader
	emit   func(Stream, string)
}

// NewStreamReader creates a reader that passes each line to emit.
// emit runs on the reader's goroutine and must not block for long.
func NewStreamReader(stream Stream, src io.Reader, emit func(Stream, string)) *StreamReader {
	return &StreamReader{
		stream: stream,
		src:    src,
		emit:   emit,
	}
}

// Stream returns which pipe this reader drains.
func (s *StreamReader) Stream() Stream {
	return s.stream
}

// Run blocks reading lines until the stream ends and returns the number
// of lines delivered. End of file and a pipe closed underneath the reader
// are normal endings and return a nil error.
func (s *StreamReader) Run() (int, error) {
	decoded := transform.NewReader(s.src, unicode.UTF8.NewDecoder())
	br := bufio.NewReaderSize(decoded, readBufferSize)

	var (
		count   int
		partial strings.Builder
	)

	flush := func() {
		s.emit(s.stream, trimEOL(partial.String()))
		partial.Reset()
		count++
	}

	for {
		chunk, err := br.ReadSlice('\n')
		if len(chunk) > 0 {
			partial.Write(chunk)
		}

		switch {
		case err == nil:
			flush()
		case errors.Is(err, bufio.ErrBufferFull):
			if partial.Len() >= maxLineBytes {
				flush()
			}
		default:
			if partial.Len() > 0 {
				flush()
			}
			if isStreamEnd(err) {
				return count, nil
			}
			return count, err
		}
	}
}

// trimEOL strips one trailing LF and any CR before it.
func trimEOL(s string) string {
	s = strings.TrimSuffix(s, "\n")
	return strings.TrimSuffix(s, "\r")
}

// isStreamEnd reports whether err just means there is nothing more to read.
func isStreamEnd(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe)
}
