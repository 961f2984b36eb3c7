package providers

import (
	"bufio"
	"io"
	"strings"
)

// sseMaxLineSize bounds a single SSE line. Completion deltas are small; a
// line near this limit indicates a misbehaving upstream.
const sseMaxLineSize = 1024 * 1024

// SSEScanner iterates over the data payloads of a server-sent event stream.
// Comment lines, event names, and blank keep-alive lines are skipped; only
// `data:` payloads surface.
type SSEScanner struct {
	scanner *bufio.Scanner
	data    string
}

// NewSSEScanner wraps r for SSE reading.
func NewSSEScanner(r io.Reader) *SSEScanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), sseMaxLineSize)
	return &SSEScanner{scanner: s}
}

// Scan advances to the next data payload. It returns false at end of stream
// or on a read error.
func (s *SSEScanner) Scan() bool {
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		s.data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if s.data == "" {
			continue
		}
		return true
	}
	return false
}

// Data returns the current payload.
func (s *SSEScanner) Data() string { return s.data }

// Err returns the underlying read error, if any.
func (s *SSEScanner) Err() error { return s.scanner.Err() }
