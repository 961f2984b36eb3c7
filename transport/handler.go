package transport

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xeipuuv/gojsonschema"

	"github.com/docent-ai/docent/logger"
	"github.com/docent-ai/docent/types"
)

// maxRequestBody bounds a turn-open body. The page text caps alone keep a
// legitimate request far below this.
const maxRequestBody = 1 << 20 // 1MB

// turnRequestSchema validates a turn-open body before any channel work
// starts. Shape errors are the client's fault and get a plain 400, never a
// stream.
const turnRequestSchema = `{
  "type": "object",
  "required": ["session_id", "document_id", "user_id", "messages", "current_page"],
  "properties": {
    "session_id":       {"type": "string", "minLength": 1},
    "document_id":      {"type": "string", "minLength": 1},
    "user_id":          {"type": "string", "minLength": 1},
    "messages": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["role", "content"],
        "properties": {
          "role":    {"type": "string", "enum": ["user", "assistant", "system"]},
          "content": {"type": "string"}
        }
      }
    },
    "page_text":        {"type": "string"},
    "neighbors": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["number", "text"],
        "properties": {
          "number": {"type": "integer", "minimum": 1},
          "text":   {"type": "string"}
        }
      }
    },
    "current_page":     {"type": "integer", "minimum": 1},
    "page_count":       {"type": "integer", "minimum": 0},
    "hint":             {},
    "protocol_version": {"type": "string"},
    "signals": {
      "type": "object",
      "properties": {
        "prior_error_count": {"type": "integer", "minimum": 0},
        "reduced_data":      {"type": "boolean"},
        "memory_pressure":   {"type": "boolean"}
      }
    }
  }
}`

// openRequest is the turn-open wire shape: the turn request plus the client
// signals that select the delivery mode.
type openRequest struct {
	types.TurnRequest
	Signals ModeSignals `json:"signals,omitempty"`
}

// Handler serves the turn-open endpoints.
type Handler struct {
	cfg      ChannelConfig
	schema   *gojsonschema.Schema
	upgrader websocket.Upgrader
}

// NewHandler builds the HTTP surface over the given channel configuration.
func NewHandler(cfg ChannelConfig) (*Handler, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(turnRequestSchema))
	if err != nil {
		return nil, err
	}
	return &Handler{
		cfg:    cfg,
		schema: schema,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin policy belongs to the deployment's proxy layer.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}, nil
}

// ServeTurn handles POST /v1/turns: validates the body, selects the delivery
// mode, and either streams NDJSON events or returns one blocking response.
func (h *Handler) ServeTurn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	req, verr := h.decode(body)
	if verr != "" {
		writeJSONError(w, http.StatusBadRequest, verr)
		return
	}

	if SelectMode(req.Signals) == ModeBlocking {
		h.serveBlocking(w, r, req.TurnRequest)
		return
	}

	sink, err := NewNDJSONSink(w)
	if err != nil {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch := NewChannel(h.cfg, sink)
	if err := ch.Run(r.Context(), req.TurnRequest); err != nil {
		// Already reported on the stream; nothing more to send.
		logger.Debug("streamed turn ended with error", "session", req.SessionID, "error", err)
	}
}

// ServeTurnWS handles GET /v1/turns/ws: upgrades, reads the turn-open request
// as the first frame, then streams events as text frames.
func (h *Handler) ServeTurnWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxRequestBody)
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, body, err := conn.ReadMessage()
	if err != nil {
		logger.Warn("websocket open frame read failed", "error", err)
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	sink := NewWSSink(conn, 0)
	req, verr := h.decode(body)
	if verr != "" {
		_ = sink.Send(Event{
			Type:      EventError,
			Timestamp: time.Now(),
			Code:      "invalid_request",
			Message:   verr,
		})
		_ = sink.Send(Event{Type: EventEnd, Timestamp: time.Now()})
		return
	}

	ch := NewChannel(h.cfg, sink)
	if err := ch.Run(r.Context(), req.TurnRequest); err != nil {
		logger.Debug("websocket turn ended with error", "session", req.SessionID, "error", err)
	}

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
}

// decode validates the body against the schema and unmarshals it. The second
// return value is a human-readable validation failure, empty on success.
func (h *Handler) decode(body []byte) (openRequest, string) {
	var req openRequest

	result, err := h.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return req, "request body is not valid JSON"
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return req, strings.Join(msgs, "; ")
	}

	if err := json.Unmarshal(body, &req); err != nil {
		return req, "request body is not valid JSON"
	}
	return req, ""
}

func (h *Handler) serveBlocking(w http.ResponseWriter, r *http.Request, req types.TurnRequest) {
	ch := NewChannel(h.cfg, nil)
	result, err := ch.RunBlocking(r.Context(), req)
	if err != nil {
		logger.Error("blocking turn failed", "session", req.SessionID, "error", logger.Redact(err.Error()))
		writeJSONError(w, http.StatusBadGateway, "the model request could not be completed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
