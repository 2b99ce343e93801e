// Package sse reads Server-Sent Events from a byte stream.
//
// The Reader is pull based: callers ask for the next event and the reader
// consumes only as much of the underlying stream as it needs to produce it.
package sse

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"
	"time"
)

// DefaultEventType is the type of events that carry no "event:" field
const DefaultEventType = "message"

// maxLineSize bounds a single field line
const maxLineSize = 4 << 20

// Event is one dispatched server-sent event
type Event struct {
	// Type is the event name, "message" when the server did not set one
	Type string
	// Data is the event payload. Multiple data lines are joined with "\n".
	Data string
	// ID is the last event ID seen on the stream at dispatch time
	ID string
	// Retry is the reconnection delay requested by the server, zero when absent
	Retry time.Duration
}

// Reader parses events from an io.Reader
type Reader struct {
	scanner *bufio.Scanner
	lastID  string
	started bool
}

// NewReader creates a reader over r
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)
	scanner.Split(scanLines)
	return &Reader{scanner: scanner}
}

// LastEventID returns the most recent event ID seen on the stream
func (r *Reader) LastEventID() string {
	return r.lastID
}

// Next blocks until the next event is complete. It returns io.EOF once the
// stream ends cleanly; a trailing event without its terminating blank line
// is discarded.
func (r *Reader) Next() (Event, error) {
	var (
		eventType string
		data      strings.Builder
		hasData   bool
		retry     time.Duration
	)

	for r.scanner.Scan() {
		line := r.scanner.Text()
		if !r.started {
			r.started = true
			line = strings.TrimPrefix(line, "\ufeff")
		}

		if line == "" {
			if !hasData && retry == 0 {
				eventType = ""
				continue
			}
			if eventType == "" {
				eventType = DefaultEventType
			}
			return Event{
				Type:  eventType,
				Data:  data.String(),
				ID:    r.lastID,
				Retry: retry,
			}, nil
		}

		// Comments are used as keep-alives
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value := line, ""
		if i := strings.IndexByte(line, ':'); i >= 0 {
			field = line[:i]
			value = strings.TrimPrefix(line[i+1:], " ")
		}

		switch field {
		case "event":
			eventType = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		case "id":
			if !strings.ContainsRune(value, 0) {
				r.lastID = value
			}
		case "retry":
			if ms, err := strconv.ParseUint(value, 10, 32); err == nil {
				retry = time.Duration(ms) * time.Millisecond
			}
		}
	}

	if err := r.scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

// scanLines splits on LF, CRLF or a lone CR
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\n' {
			return i + 1, data[:i], nil
		}
		if i+1 < len(data) {
			if data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
		if atEOF {
			return i + 1, data[:i], nil
		}
		// A CR at the end of the buffer may be the first half of CRLF
		return 0, nil, nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
