// Package transport owns the delivery channel between the runtime and the
// viewer: the per-turn event protocol, the channel state machine with its
// heartbeat and timeout discipline, the HTTP/WebSocket server surface, and
// the client-side reconnect policy.
package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/docent-ai/docent/directives"
)

// EventType identifies the kind of channel event.
type EventType string

// Event types, in the order a healthy turn sees them.
const (
	EventConnect    EventType = "connect"
	EventHeartbeat  EventType = "heartbeat"
	EventContent    EventType = "content"
	EventDiagnostic EventType = "diagnostic"
	EventError      EventType = "error"
	EventEnd        EventType = "end"
)

// Event is one line of the NDJSON stream (or one WebSocket text frame).
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"ts"`

	// TurnID is the server-assigned identifier for this turn, for log and
	// trace correlation. Sent on connect.
	TurnID string `json:"turn_id,omitempty"`

	// Content payload: incremental cleaned prose plus any directives that
	// completed inside this chunk.
	Text       string                 `json:"text,omitempty"`
	Directives []directives.Directive `json:"directives,omitempty"`

	// Protocol carries the server protocol version on connect.
	Protocol string `json:"protocol,omitempty"`

	// Diagnostic and error payload.
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	// Retryable tells the client whether reconnecting is worthwhile.
	Retryable bool `json:"retryable,omitempty"`
}

// Sink delivers events to one client. Implementations must be safe for
// concurrent Send calls: the heartbeat loop writes alongside the content
// pump.
type Sink interface {
	Send(Event) error
}

// NDJSONSink writes one JSON object per line to an HTTP response, flushing
// after every event so chunks reach the client immediately.
type NDJSONSink struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewNDJSONSink prepares a response for NDJSON streaming. Returns an error
// if the ResponseWriter cannot flush.
func NewNDJSONSink(w http.ResponseWriter) (*NDJSONSink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return &NDJSONSink{w: w, flusher: flusher}, nil
}

// Send implements Sink.
func (s *NDJSONSink) Send(evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// WSSink writes each event as one WebSocket text frame.
type WSSink struct {
	mu        sync.Mutex
	conn      *websocket.Conn
	writeWait time.Duration
}

// NewWSSink wraps an upgraded WebSocket connection.
func NewWSSink(conn *websocket.Conn, writeWait time.Duration) *WSSink {
	if writeWait == 0 {
		writeWait = 10 * time.Second
	}
	return &WSSink{conn: conn, writeWait: writeWait}
}

// Send implements Sink.
func (s *WSSink) Send(evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeWait)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
